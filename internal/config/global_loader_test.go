package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan for Global Config Loader:
// - LoadGlobalConfig() returns defaults when file doesn't exist (not an error)
// - LoadGlobalConfig() loads from ~/.cortex/config.yml when present
// - LoadGlobalConfig() environment variables override YAML values
// - LoadGlobalConfig() returns error for malformed YAML
// - ReuseCacheDir() resolves project, then global, then user cache dir

func TestLoadGlobalConfig_MissingFile(t *testing.T) {
	// Note: Cannot use t.Parallel() with t.Setenv()
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadGlobalConfig()

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "", cfg.Reuse.CacheDir)
	assert.Equal(t, 5*time.Second, cfg.Daemon.StartTimeout)
	assert.Equal(t, 5*time.Second, cfg.Daemon.StopTimeout)
}

func TestLoadGlobalConfig_WithFile(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cortexDir := filepath.Join(tempHome, ".cortex")
	require.NoError(t, os.MkdirAll(cortexDir, 0755))

	configContent := `
reuse:
  cache_dir: /custom/indexes
daemon:
  start_timeout: 10s
  stop_timeout: 2s
`
	require.NoError(t, os.WriteFile(filepath.Join(cortexDir, "config.yml"), []byte(configContent), 0644))

	cfg, err := LoadGlobalConfig()

	require.NoError(t, err)
	assert.Equal(t, "/custom/indexes", cfg.Reuse.CacheDir)
	assert.Equal(t, 10*time.Second, cfg.Daemon.StartTimeout)
	assert.Equal(t, 2*time.Second, cfg.Daemon.StopTimeout)
}

func TestLoadGlobalConfig_EnvOverride(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cortexDir := filepath.Join(tempHome, ".cortex")
	require.NoError(t, os.MkdirAll(cortexDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cortexDir, "config.yml"), []byte("reuse:\n  cache_dir: /from/file\n"), 0644))

	t.Setenv("CORTEX_GLOBAL_REUSE_CACHE_DIR", "/from/env")

	cfg, err := LoadGlobalConfig()

	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.Reuse.CacheDir)
}

func TestLoadGlobalConfig_MalformedYAML(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cortexDir := filepath.Join(tempHome, ".cortex")
	require.NoError(t, os.MkdirAll(cortexDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cortexDir, "config.yml"), []byte("reuse: [unclosed"), 0644))

	_, err := LoadGlobalConfig()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestReuseCacheDir_Precedence(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", "/xdg")

	project := Default()
	global := &GlobalConfig{}

	assert.Equal(t, DefaultReuseCacheDir(), ReuseCacheDir(project, global))

	global.Reuse.CacheDir = "/global"
	assert.Equal(t, "/global", ReuseCacheDir(project, global))

	project.Reuse.CacheDir = "/project"
	assert.Equal(t, "/project", ReuseCacheDir(project, global))

	assert.Equal(t, DefaultReuseCacheDir(), ReuseCacheDir(nil, nil))
}
