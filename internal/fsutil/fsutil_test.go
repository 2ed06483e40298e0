package fsutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic_ReplacesAndLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "status.json")

	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0644))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not survive")
	assert.Equal(t, "status.json", entries[0].Name())
}

func TestWriteJSONAtomic_ReadJSON(t *testing.T) {
	t.Parallel()

	type record struct {
		PID  int    `json:"pid"`
		Name string `json:"name"`
	}
	path := filepath.Join(t.TempDir(), "daemon.json")

	require.NoError(t, WriteJSONAtomic(path, record{PID: 42, Name: "worker"}))

	var got record
	require.NoError(t, ReadJSON(path, &got))
	assert.Equal(t, record{PID: 42, Name: "worker"}, got)

	err := ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &got)
	assert.True(t, os.IsNotExist(err))
}

func TestCopyDir(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "gen")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "index", "store"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "index", "store", "seg.zap"), []byte("segment"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "manifest.json"), []byte("{}"), 0644))
	if runtime.GOOS != "windows" {
		require.NoError(t, os.Symlink(filepath.Join(src, "manifest.json"), filepath.Join(src, "link")))
	}

	dst := filepath.Join(t.TempDir(), "staging")
	require.NoError(t, CopyDir(src, dst))

	data, err := os.ReadFile(filepath.Join(dst, "index", "store", "seg.zap"))
	require.NoError(t, err)
	assert.Equal(t, "segment", string(data))
	assert.FileExists(t, filepath.Join(dst, "manifest.json"))
	assert.NoFileExists(t, filepath.Join(dst, "link"))
	assert.True(t, DirExists(dst))
}

func TestCopyDir_SourceErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	assert.Error(t, CopyDir(filepath.Join(dir, "missing"), filepath.Join(dir, "out")))

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	assert.Error(t, CopyDir(file, filepath.Join(dir, "out")))
	assert.False(t, DirExists(file))
}
