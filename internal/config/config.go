package config

import (
	"runtime"
	"time"

	"github.com/mvp-joe/cortex-index/internal/manifest"
	"github.com/mvp-joe/cortex-index/internal/walker"
)

// Config represents the complete per-workspace configuration.
// It can be loaded from .cortex/config.yml with environment variable overrides.
type Config struct {
	Paths   PathsConfig   `yaml:"paths" mapstructure:"paths"`
	Index   IndexConfig   `yaml:"index" mapstructure:"index"`
	Reuse   ReuseConfig   `yaml:"reuse" mapstructure:"reuse"`
	Daemon  DaemonConfig  `yaml:"daemon" mapstructure:"daemon"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// PathsConfig defines which files are candidates for indexing.
type PathsConfig struct {
	RespectIgnore bool     `yaml:"respect_ignore" mapstructure:"respect_ignore"` // honor .gitignore/.ignore files
	Include       []string `yaml:"include" mapstructure:"include"`               // force-included even if ignored
	Exclude       []string `yaml:"exclude" mapstructure:"exclude"`               // glob patterns always excluded
	Extensions    []string `yaml:"extensions" mapstructure:"extensions"`         // indexable extensions, no dot
	MaxFileSize   int64    `yaml:"max_file_size" mapstructure:"max_file_size"`   // bytes; larger files are tracked, not indexed
}

// IndexConfig tunes the build.
type IndexConfig struct {
	HashWorkers   int    `yaml:"hash_workers" mapstructure:"hash_workers"`
	EmbeddingMode string `yaml:"embedding_mode" mapstructure:"embedding_mode"`
}

// ReuseConfig selects the snapshot reuse policy.
type ReuseConfig struct {
	Mode     string `yaml:"mode" mapstructure:"mode"`           // off, strict or auto
	CacheDir string `yaml:"cache_dir" mapstructure:"cache_dir"` // empty: global config, then user cache dir
}

// DaemonConfig holds the background scheduler timing knobs.
type DaemonConfig struct {
	Debounce      time.Duration `yaml:"debounce" mapstructure:"debounce"`
	MinInterval   time.Duration `yaml:"min_interval" mapstructure:"min_interval"`
	MaxBatchDelay time.Duration `yaml:"max_batch_delay" mapstructure:"max_batch_delay"`
	Adaptive      bool          `yaml:"adaptive" mapstructure:"adaptive"`
}

// LoggingConfig configures log level and daemon log rotation.
type LoggingConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			RespectIgnore: true,
			Include:       []string{},
			Exclude:       []string{},
			Extensions:    append([]string(nil), walker.DefaultExtensions...),
			MaxFileSize:   1 << 20,
		},
		Index: IndexConfig{
			HashWorkers:   runtime.NumCPU(),
			EmbeddingMode: "off",
		},
		Reuse: ReuseConfig{
			Mode: "off",
		},
		Daemon: DaemonConfig{
			Debounce:      15 * time.Second,
			MinInterval:   180 * time.Second,
			MaxBatchDelay: 180 * time.Second,
			Adaptive:      true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// Profile returns the IndexProfile described by the configuration.
func (c *Config) Profile() manifest.IndexProfile {
	return manifest.IndexProfile{
		RespectIgnore: c.Paths.RespectIgnore,
		Include:       c.Paths.Include,
		Exclude:       c.Paths.Exclude,
		EmbeddingMode: c.Index.EmbeddingMode,
	}.Normalized()
}
