// Package config provides configuration loading for cortex.
//
// It supports two distinct configuration scopes:
//
// 1. Global Configuration (~/.cortex/config.yml)
//   - Machine-wide settings shared by every workspace
//   - Snapshot reuse cache location
//   - Daemon start/stop timeouts
//   - Loaded via LoadGlobalConfig()
//
// 2. Project Configuration (<root>/.cortex/config.yml)
//   - Path filters, hashing workers, reuse mode
//   - Daemon scheduling and log rotation
//   - Loaded via Load()
//
// Configuration Hierarchy (highest to lowest priority):
//  1. Environment variables (CORTEX_*)
//  2. Project config (.cortex/config.yml)
//  3. Global config (~/.cortex/config.yml)
//  4. Built-in defaults
//
// Environment Variable Convention:
//   - Prefix: CORTEX_
//   - Nested fields: Use underscores (CORTEX_DAEMON_DEBOUNCE)
//   - Automatic mapping via Viper's SetEnvKeyReplacer
package config

import (
	"os"
	"path/filepath"
	"time"
)

// GlobalConfig holds machine-wide configuration.
// Loaded from ~/.cortex/config.yml (not project .cortex/config.yml).
type GlobalConfig struct {
	Reuse  GlobalReuseConfig  `yaml:"reuse" mapstructure:"reuse"`
	Daemon GlobalDaemonConfig `yaml:"daemon" mapstructure:"daemon"`
}

// GlobalReuseConfig holds the shared snapshot cache settings.
type GlobalReuseConfig struct {
	CacheDir string `yaml:"cache_dir" mapstructure:"cache_dir"` // root of repo_key/snapshot_key trees
}

// GlobalDaemonConfig holds daemon lifecycle timeouts.
type GlobalDaemonConfig struct {
	StartTimeout time.Duration `yaml:"start_timeout" mapstructure:"start_timeout"` // wait for a spawned daemon to report its pid
	StopTimeout  time.Duration `yaml:"stop_timeout" mapstructure:"stop_timeout"`   // wait after SIGTERM before SIGKILL
}

// DefaultReuseCacheDir returns <user cache dir>/cortex/indexes, or "" when
// no cache directory can be determined.
func DefaultReuseCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil || base == "" {
		return ""
	}
	return filepath.Join(base, "cortex", "indexes")
}

// ReuseCacheDir resolves the effective cache root: project setting (which
// already includes CORTEX_REUSE_CACHE_DIR), then the global file, then the
// user cache directory. An empty result means the cache is unavailable.
func ReuseCacheDir(cfg *Config, global *GlobalConfig) string {
	if cfg != nil && cfg.Reuse.CacheDir != "" {
		return cfg.Reuse.CacheDir
	}
	if global != nil && global.Reuse.CacheDir != "" {
		return global.Reuse.CacheDir
	}
	return DefaultReuseCacheDir()
}
