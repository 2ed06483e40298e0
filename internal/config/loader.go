package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader provides configuration loading capabilities.
type Loader interface {
	// Load loads configuration from file and environment variables.
	// Priority: defaults → config file → environment variables (env wins)
	Load() (*Config, error)
}

type loader struct {
	rootDir string
}

// NewLoader creates a new configuration loader for the given root directory.
func NewLoader(rootDir string) Loader {
	return &loader{
		rootDir: rootDir,
	}
}

// Load loads configuration with the following priority (highest to lowest):
// 1. Environment variables (CORTEX_*)
// 2. Config file (.cortex/config.yml)
// 3. Default values
func (l *loader) Load() (*Config, error) {
	v := newViper(filepath.Join(l.rootDir, ".cortex"), "CORTEX")
	bindEnvVars(v)
	setDefaults(v)

	cfg := &Config{}
	if err := readInto(v, cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newViper returns an instance reading <dir>/config.yml with env overrides
// under prefix. Nested keys map to PREFIX_SECTION_KEY.
func newViper(dir, prefix string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetEnvPrefix(prefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

// readInto reads the config file, if any, and decodes the merged result.
// A missing file leaves defaults and environment in effect.
func readInto(v *viper.Viper, out any) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("paths.respect_ignore")
	v.BindEnv("paths.max_file_size")

	v.BindEnv("index.hash_workers")
	v.BindEnv("index.embedding_mode")

	v.BindEnv("reuse.mode")
	// Historical name kept for scripts that export it directly.
	v.BindEnv("reuse.cache_dir", "CORTEX_REUSE_CACHE_DIR")

	v.BindEnv("daemon.debounce")
	v.BindEnv("daemon.min_interval")
	v.BindEnv("daemon.max_batch_delay")
	v.BindEnv("daemon.adaptive")

	v.BindEnv("logging.level")
}

// setDefaults configures viper with default values.
func setDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("paths.respect_ignore", defaults.Paths.RespectIgnore)
	v.SetDefault("paths.include", defaults.Paths.Include)
	v.SetDefault("paths.exclude", defaults.Paths.Exclude)
	v.SetDefault("paths.extensions", defaults.Paths.Extensions)
	v.SetDefault("paths.max_file_size", defaults.Paths.MaxFileSize)

	v.SetDefault("index.hash_workers", defaults.Index.HashWorkers)
	v.SetDefault("index.embedding_mode", defaults.Index.EmbeddingMode)

	v.SetDefault("reuse.mode", defaults.Reuse.Mode)
	v.SetDefault("reuse.cache_dir", defaults.Reuse.CacheDir)

	v.SetDefault("daemon.debounce", defaults.Daemon.Debounce)
	v.SetDefault("daemon.min_interval", defaults.Daemon.MinInterval)
	v.SetDefault("daemon.max_batch_delay", defaults.Daemon.MaxBatchDelay)
	v.SetDefault("daemon.adaptive", defaults.Daemon.Adaptive)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)
}

// LoadConfigFromDir loads configuration from a specific directory.
func LoadConfigFromDir(rootDir string) (*Config, error) {
	return NewLoader(rootDir).Load()
}
