package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/cortex-index/internal/daemon"
	"github.com/mvp-joe/cortex-index/internal/logging"
)

var daemonStatusJSON bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Background reindexing daemon commands",
	Long: `Manage the per-workspace background daemon.

The daemon watches the workspace and reindexes changed files after a quiet
period, using the options of the last explicit "cortex index".`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon if it is not running",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	Long: `Stop the daemon gracefully.

The daemon is sent SIGTERM; an in-flight build is abandoned before it
commits, so the committed generation stays intact. If it does not exit in
time it is killed.`,
	Args: cobra.NoArgs,
	RunE: runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon state",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStatus,
}

var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run the daemon in the foreground",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runDaemonWorker,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.AddCommand(daemonStartCmd, daemonStopCmd, daemonStatusCmd, daemonRunCmd)
	daemonStatusCmd.Flags().BoolVar(&daemonStatusJSON, "json", false, "Output as JSON")
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	s, err := openSession(false)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	info, started, err := daemon.Start(ctx, s.layout, daemon.StartOptions{Timeout: s.global.Daemon.StartTimeout})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if started {
		fmt.Fprintf(out, "Daemon started (pid %d)\n", info.State.PID)
		fmt.Fprintf(out, "Log: %s\n", s.layout.DaemonLogPath())
		return nil
	}
	fmt.Fprintf(out, "Daemon already running (pid %d)\n", info.State.PID)
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	s, err := openSession(false)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	res, err := daemon.Stop(ctx, s.layout, s.global.Daemon.StopTimeout)
	if err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), capitalize(res.String()))
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	s, err := openSession(false)
	if err != nil {
		return err
	}
	info := daemon.Status(s.layout)
	if daemonStatusJSON {
		return writeJSON(cmd.OutOrStdout(), info)
	}
	formatDaemonInfo(cmd.OutOrStdout(), info, time.Now())
	return nil
}

func formatDaemonInfo(w io.Writer, info daemon.Info, now time.Time) {
	fmt.Fprintf(w, "Daemon: %s\n", info.Status)
	st := info.State
	if st == nil {
		return
	}
	fmt.Fprintf(w, "  PID:          %d\n", st.PID)
	if !st.StartedAt.IsZero() {
		fmt.Fprintf(w, "  Uptime:       %s\n", formatDuration(now.Sub(st.StartedAt)))
	}
	if st.LastRunAt != nil {
		fmt.Fprintf(w, "  Last run:     %s\n", formatTimeSince(*st.LastRunAt, now))
	} else {
		fmt.Fprintf(w, "  Last run:     never\n")
	}
	b := st.BackoffState
	if b.Debounce > 0 {
		fmt.Fprintf(w, "  Debounce:     %s\n", b.Debounce)
	}
	if b.MinInterval > 0 {
		fmt.Fprintf(w, "  Min interval: %s\n", b.MinInterval)
	}
	if b.ConsecutiveFailures > 0 {
		fmt.Fprintf(w, "  Failures:     %d in a row\n", b.ConsecutiveFailures)
	}
	if st.LogPath != "" {
		fmt.Fprintf(w, "  Log:          %s\n", st.LogPath)
	}
}

// runDaemonWorker is the body of the detached daemon process.
func runDaemonWorker(cmd *cobra.Command, args []string) error {
	s, err := openSession(true)
	if err != nil {
		return err
	}
	mode, err := s.reuseMode("")
	if err != nil {
		return err
	}
	if err := s.layout.Ensure(); err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:      s.cfg.Logging.Level,
		File:       s.layout.DaemonLogPath(),
		MaxSizeMB:  s.cfg.Logging.MaxSizeMB,
		MaxBackups: s.cfg.Logging.MaxBackups,
		MaxAgeDays: s.cfg.Logging.MaxAgeDays,
	})
	defer logging.Close()

	ctx, cancel := signalContext()
	defer cancel()

	log := logging.For(logging.CompDaemon)
	w := daemon.NewWorker(s.layout, s.newIndexer(), daemon.WorkerOptions{
		Policy:     s.policy(),
		ReuseMode:  mode,
		Extensions: s.cfg.Paths.Extensions,
		LogPath:    s.layout.DaemonLogPath(),
		Log:        log,
	})
	if err := w.Run(ctx); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			log.Info().Msg("another daemon owns this workspace, exiting")
			return nil
		}
		log.Error().Err(err).Msg("daemon failed")
		return err
	}
	return nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
