package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// LoadGlobalConfig loads global configuration from ~/.cortex/config.yml.
// Returns default values if file doesn't exist (not an error).
// Environment variables override file values (CORTEX_GLOBAL_* prefix keeps
// them apart from the per-workspace keys).
func LoadGlobalConfig() (*GlobalConfig, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}
	v := newViper(filepath.Join(home, ".cortex"), "CORTEX_GLOBAL")
	bindGlobalEnvVars(v)
	setGlobalDefaults(v)

	cfg := &GlobalConfig{}
	if err := readInto(v, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindGlobalEnvVars binds all environment variables for global config.
func bindGlobalEnvVars(v *viper.Viper) {
	v.BindEnv("reuse.cache_dir")
	v.BindEnv("daemon.start_timeout")
	v.BindEnv("daemon.stop_timeout")
}

// setGlobalDefaults configures viper with default values for global config.
func setGlobalDefaults(v *viper.Viper) {
	v.SetDefault("reuse.cache_dir", "")
	v.SetDefault("daemon.start_timeout", 5*time.Second)
	v.SetDefault("daemon.stop_timeout", 5*time.Second)
}
