// Package logging configures the process-wide zerolog logger. Foreground
// commands write human-readable lines to stderr; the daemon writes JSON lines
// to a size-rotated log file.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Component names used with For.
const (
	CompIndexer   = "indexer"
	CompBuilder   = "builder"
	CompReuse     = "reuse"
	CompScheduler = "scheduler"
	CompDaemon    = "daemon"
	CompWatcher   = "watcher"
	CompCLI       = "cli"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum level: "debug", "info", "warn", "error".
	Level string

	// File, when set, sends JSON logs to a rotated file instead of stderr.
	File string

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Quiet raises the console level to error.
	Quiet bool
}

var (
	mu     sync.RWMutex
	base   = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).Level(zerolog.WarnLevel).With().Timestamp().Logger()
	closer io.Closer
)

// Init replaces the global logger. It is safe to call more than once; a
// previously opened log file is closed.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	if closer != nil {
		closer.Close()
		closer = nil
	}

	level := ParseLevel(cfg.Level)
	if cfg.Quiet && level < zerolog.ErrorLevel {
		level = zerolog.ErrorLevel
	}

	if cfg.File == "" {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			Level(level).With().Timestamp().Logger()
		return
	}

	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 3
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 14
	}
	w := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	closer = w
	base = zerolog.New(w).Level(level).With().Timestamp().Int("pid", os.Getpid()).Logger()
}

// Logger returns the global logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// For returns a sub-logger tagged with a component field.
func For(component string) zerolog.Logger {
	l := Logger()
	return l.With().Str("component", component).Logger()
}

// Close flushes and closes the log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if closer == nil {
		return nil
	}
	err := closer.Close()
	closer = nil
	return err
}

// ParseLevel maps a config level name to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
