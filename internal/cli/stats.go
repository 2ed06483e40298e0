package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/cortex-index/internal/status"
)

var (
	statsJSON bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show statistics of the last completed build",
	Long: `Show what the last completed build did.

Displays the diff against the previous generation, how much of the tree the
change detector had to hash, and the time spent in each phase.`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output as JSON")
}

func runStats(cmd *cobra.Command, args []string) error {
	s, err := openSession(false)
	if err != nil {
		return err
	}
	st, ok, err := status.ReadStats(s.layout)
	if err != nil {
		return err
	}
	if !ok {
		if statsJSON {
			return writeJSON(cmd.OutOrStdout(), nil)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No completed build recorded")
		return nil
	}

	if statsJSON {
		return writeJSON(cmd.OutOrStdout(), st)
	}
	formatStats(cmd.OutOrStdout(), st, time.Now())
	return nil
}

func formatStats(w io.Writer, st status.RunStats, now time.Time) {
	fmt.Fprintln(w, "Last Build:")
	fmt.Fprintf(w, "  Build:      %s\n", st.BuildID)
	fmt.Fprintf(w, "  Finished:   %s\n", formatTimeSince(st.FinishedAt, now))
	if st.Generation != "" {
		fmt.Fprintf(w, "  Generation: %s\n", st.Generation)
	}

	var mode []string
	switch {
	case !st.Committed:
		mode = append(mode, "no-op")
	case st.Rebuilt:
		mode = append(mode, "rebuild")
	default:
		mode = append(mode, "incremental")
	}
	if st.Bulk {
		mode = append(mode, "bulk")
	}
	if st.Background {
		mode = append(mode, "background")
	}
	fmt.Fprintf(w, "  Mode:       %s\n", strings.Join(mode, ", "))

	d := st.Diff
	fmt.Fprintf(w, "  Diff:       +%s ~%s -%s (%s unchanged, %s touched)\n",
		formatNumber(d.Added), formatNumber(d.Modified), formatNumber(d.Deleted),
		formatNumber(d.Unchanged), formatNumber(d.Touched))
	fmt.Fprintf(w, "  Detection:  %s scanned, %s suspects, %s hashed\n",
		formatNumber(st.Detect.Scanned), formatNumber(st.Detect.Suspects), formatNumber(st.Detect.Hashed))
	fmt.Fprintf(w, "  Applied:    %s processed, %s failed, %s files\n",
		formatNumber(st.Processed), formatNumber(st.Failed), formatNumber(st.Files))
	if st.Reuse != "" {
		fmt.Fprintf(w, "  Reuse:      %s\n", st.Reuse)
	}

	t := st.TimingsMS
	fmt.Fprintf(w, "  Timings:    reuse %s, scan %s, index %s, commit %s, total %s\n",
		ms(t.Reuse), ms(t.Scan), ms(t.Index), ms(t.Commit), ms(t.Total))
}

func ms(v int64) string {
	return (time.Duration(v) * time.Millisecond).String()
}
