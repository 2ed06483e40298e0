package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/cortex-index/internal/daemon"
	"github.com/mvp-joe/cortex-index/internal/indexer"
	"github.com/mvp-joe/cortex-index/internal/lock"
)

var (
	indexReuse      string
	indexNoIgnore   bool
	indexInclude    []string
	indexExclude    []string
	indexFull       bool
	indexBackground bool
	indexDetached   bool
	indexWait       time.Duration
	quietFlag       bool
)

// indexCmd represents the index command
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build or update the workspace index",
	Long: `Index compares the workspace against the committed manifest and applies
only what changed, then publishes the result as a new generation.

The options used here are saved and reused by the background daemon.

Examples:
  # Update the index of the current directory
  cortex index

  # Rebuild from scratch, ignoring the committed generation
  cortex index --full

  # Seed a fresh checkout from the shared snapshot cache
  cortex index --reuse auto

  # Index ignored build output too, but never vendored code
  cortex index --no-ignore --exclude 'vendor/**'

  # Start the build detached and return immediately
  cortex index --background
`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().StringVar(&indexReuse, "reuse", "", "snapshot reuse mode: off, strict or auto (default from config)")
	indexCmd.Flags().BoolVar(&indexNoIgnore, "no-ignore", false, "Do not honor .gitignore and .ignore files")
	indexCmd.Flags().StringArrayVar(&indexInclude, "include", nil, "Path or glob to index even if ignored (repeatable)")
	indexCmd.Flags().StringArrayVar(&indexExclude, "exclude", nil, "Glob to never index (repeatable)")
	indexCmd.Flags().BoolVar(&indexFull, "full", false, "Rebuild everything instead of applying a diff")
	indexCmd.Flags().BoolVar(&indexBackground, "background", false, "Run the build in a detached process")
	indexCmd.Flags().DurationVar(&indexWait, "wait", 0, "How long to wait for a running build to finish")
	indexCmd.Flags().BoolVarP(&quietFlag, "quiet", "q", false, "Disable progress bars and non-error output")

	indexCmd.Flags().BoolVar(&indexDetached, "detached", false, "")
	_ = indexCmd.Flags().MarkHidden("detached")
}

func runIndex(cmd *cobra.Command, args []string) error {
	s, err := openSession(quietFlag || indexDetached)
	if err != nil {
		return err
	}
	mode, err := s.reuseMode(indexReuse)
	if err != nil {
		return err
	}

	if indexBackground {
		return startBackgroundIndex(cmd, s)
	}

	profile := s.cfg.Profile()
	if indexNoIgnore {
		profile.RespectIgnore = false
	}
	profile.Include = append(profile.Include, indexInclude...)
	profile.Exclude = append(profile.Exclude, indexExclude...)
	profile = profile.Normalized()

	ctx, cancel := signalContext()
	defer cancel()

	var progress indexer.ProgressReporter = indexer.NoOpProgressReporter{}
	if !indexDetached {
		progress = NewCLIProgressReporter(cmd.OutOrStdout(), quietFlag)
	}

	res, err := s.newIndexer().Index(ctx, indexer.Request{
		Profile:     &profile,
		SaveProfile: true,
		ReuseMode:   mode,
		Full:        indexFull,
		Wait:        indexWait,
		Background:  indexDetached,
	}, progress)
	if err != nil {
		if errors.Is(err, lock.ErrBuildInProgress) {
			return lock.ErrBuildInProgress
		}
		if ctx.Err() != nil {
			return fmt.Errorf("indexing cancelled")
		}
		return fmt.Errorf("indexing failed: %w", err)
	}

	// Print summary (if not quiet, OnComplete already printed it)
	if quietFlag && !indexDetached {
		fmt.Fprintln(cmd.OutOrStdout(), res.String())
	}
	return nil
}

// startBackgroundIndex re-runs this command detached with the same options.
func startBackgroundIndex(cmd *cobra.Command, s *session) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}
	args := []string{"index", "--path", s.layout.Root, "--detached"}
	if indexReuse != "" {
		args = append(args, "--reuse", indexReuse)
	}
	if indexNoIgnore {
		args = append(args, "--no-ignore")
	}
	for _, p := range indexInclude {
		args = append(args, "--include", p)
	}
	for _, p := range indexExclude {
		args = append(args, "--exclude", p)
	}
	if indexFull {
		args = append(args, "--full")
	}
	if indexWait > 0 {
		args = append(args, "--wait", indexWait.String())
	}

	pid, err := daemon.SpawnDetached(exe, args, s.layout.Root)
	if err != nil {
		return fmt.Errorf("failed to start background build: %w", err)
	}
	if !quietFlag {
		fmt.Fprintf(cmd.OutOrStdout(), "Background build started (pid %d)\n", pid)
		fmt.Fprintln(cmd.OutOrStdout(), "Check progress with: cortex status")
	}
	return nil
}
