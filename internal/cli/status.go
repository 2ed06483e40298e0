package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/cortex-index/internal/status"
)

var (
	statusJSON bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index build status",
	Long: `Show the status of the workspace index.

Displays:
- Current or last build phase and progress
- Whether a committed generation is available for search
- Snapshot reuse decision of the last build
- Background daemon state

A build whose process died mid-way is reported as interrupted.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := openSession(false)
	if err != nil {
		return err
	}
	rec, err := status.Read(s.layout)
	if err != nil {
		return err
	}

	if statusJSON {
		return writeJSON(cmd.OutOrStdout(), rec)
	}
	formatStatus(cmd.OutOrStdout(), rec, time.Now())
	return nil
}

func writeJSON(w io.Writer, v any) error {
	jsonBytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(jsonBytes))
	return err
}

func formatStatus(w io.Writer, rec status.Record, now time.Time) {
	fmt.Fprintln(w, "Index Status:")
	fmt.Fprintf(w, "  Phase:      %s\n", rec.Phase)
	if rec.Generation != "" {
		fmt.Fprintf(w, "  Generation: %s\n", rec.Generation)
	}
	fmt.Fprintf(w, "  Ready:      basic=%s full=%s\n", yesNo(rec.BasicReady), yesNo(rec.FullReady))
	if rec.Progress.Total > 0 || rec.Phase.InProgress() {
		fmt.Fprintf(w, "  Progress:   %s/%s (%s failed)\n",
			formatNumber(rec.Progress.Processed), formatNumber(rec.Progress.Total), formatNumber(rec.Progress.Failed))
	}
	if rec.Reuse != nil {
		line := rec.Reuse.Decision
		if rec.Reuse.Reason != "" {
			line += " (" + rec.Reuse.Reason + ")"
		}
		fmt.Fprintf(w, "  Reuse:      %s\n", line)
	}
	if !rec.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "  Updated:    %s\n", formatTimeSince(rec.UpdatedAt, now))
	}
	if rec.Message != "" {
		fmt.Fprintf(w, "  Message:    %s\n", rec.Message)
	}
	fmt.Fprintln(w)

	switch {
	case rec.Daemon.Running:
		fmt.Fprintf(w, "Daemon: running (pid %d)\n", derefPID(rec.Daemon.PID))
	case rec.Daemon.Stale:
		fmt.Fprintf(w, "Daemon: stale (pid %d not alive)\n", derefPID(rec.Daemon.PID))
	default:
		fmt.Fprintln(w, "Daemon: not running")
	}
}

func derefPID(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// formatDuration formats a duration in compact format.
// Examples: "5s", "1m", "1h 30m", "2h", "1d", "1d 3h", "3d"
func formatDuration(d time.Duration) string {
	seconds := int(d.Seconds())

	days := seconds / 86400
	hours := (seconds % 86400) / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	if days > 0 {
		if hours > 0 {
			return fmt.Sprintf("%dd %dh", days, hours)
		}
		return fmt.Sprintf("%dd", days)
	}

	if hours > 0 {
		if minutes > 0 {
			return fmt.Sprintf("%dh %dm", hours, minutes)
		}
		return fmt.Sprintf("%dh", hours)
	}

	if minutes > 0 {
		return fmt.Sprintf("%dm", minutes)
	}

	return fmt.Sprintf("%ds", secs)
}

// formatTimeSince renders t relative to now, e.g. "5m ago".
func formatTimeSince(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	since := now.Sub(t)
	if since < 0 {
		since = 0
	}
	return formatDuration(since) + " ago"
}

// formatNumber formats integer with thousand separators.
// Examples: 1234 -> "1,234", 1234567 -> "1,234,567"
func formatNumber(n int) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}

	str := fmt.Sprintf("%d", n)
	var result string
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(c)
	}
	return result
}
