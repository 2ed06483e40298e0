package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mvp-joe/cortex-index/internal/config"
	"github.com/mvp-joe/cortex-index/internal/git"
	"github.com/mvp-joe/cortex-index/internal/indexer"
	"github.com/mvp-joe/cortex-index/internal/logging"
	"github.com/mvp-joe/cortex-index/internal/reuse"
	"github.com/mvp-joe/cortex-index/internal/scheduler"
	"github.com/mvp-joe/cortex-index/internal/workspace"
)

var (
	rootPath string
	verbose  bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cortex",
	Short: "Cortex - incremental code index manager",
	Long: `Cortex keeps a searchable index of a workspace up to date.

Builds only reprocess files whose content changed, every build is published
atomically as a new generation, and an optional background daemon reindexes
as you edit.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	logging.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootPath, "path", "p", ".", "workspace root")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// session bundles the resolved workspace and its configuration.
type session struct {
	layout workspace.Layout
	cfg    *config.Config
	global *config.GlobalConfig
}

// openSession loads configuration for --path and sets up console logging.
func openSession(quiet bool) (*session, error) {
	layout, err := workspace.New(rootPath)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(layout.Root); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", layout.Root)
	}

	cfg, err := config.LoadConfigFromDir(layout.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	global, err := config.LoadGlobalConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load global configuration: %w", err)
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	logging.Init(logging.Config{Level: level, Quiet: quiet})

	return &session{layout: layout, cfg: cfg, global: global}, nil
}

func (s *session) newIndexer() *indexer.Indexer {
	cache := reuse.New(config.ReuseCacheDir(s.cfg, s.global), git.NewOperations(), Version, logging.For(logging.CompReuse))
	return indexer.New(s.layout, indexer.Options{
		Extensions:  s.cfg.Paths.Extensions,
		MaxFileSize: s.cfg.Paths.MaxFileSize,
		HashWorkers: s.cfg.Index.HashWorkers,
		Cache:       cache,
		Log:         logging.For(logging.CompIndexer),
	})
}

// reuseMode resolves a --reuse flag value, falling back to configuration.
func (s *session) reuseMode(flag string) (reuse.Mode, error) {
	if flag == "" {
		flag = s.cfg.Reuse.Mode
	}
	return reuse.ParseMode(flag)
}

func (s *session) policy() scheduler.Policy {
	return scheduler.Policy{
		Debounce:      s.cfg.Daemon.Debounce,
		MinInterval:   s.cfg.Daemon.MinInterval,
		MaxBatchDelay: s.cfg.Daemon.MaxBatchDelay,
		Adaptive:      s.cfg.Daemon.Adaptive,
	}
}

func (s *session) log() zerolog.Logger {
	return logging.For(logging.CompCLI)
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
