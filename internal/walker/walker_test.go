package walker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/cortex-index/internal/manifest"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
}

func paths(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Path)
	}
	return out
}

func newTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main")
	writeFile(t, root, "README.md", "# readme")
	writeFile(t, root, "image.png", "binary")
	writeFile(t, root, "build/out.go", "package out")
	writeFile(t, root, "gen/keep.go", "package gen")
	writeFile(t, root, "pkg/a.go", "package pkg")
	writeFile(t, root, "pkg/a_test.go", "package pkg")
	writeFile(t, root, "pkg/.gitignore", "*_test.go\n")
	writeFile(t, root, ".gitignore", "build/\ngen/\n")
	writeFile(t, root, ".cortex/config.yml", "reuse:\n  mode: auto\n")
	writeFile(t, root, ".git/HEAD", "ref: refs/heads/main")
	return root
}

func TestWalk_RespectsIgnoreFiles(t *testing.T) {
	t.Parallel()

	root := newTree(t)
	w, err := New(root, Options{RespectIgnore: true, Extensions: DefaultExtensions})
	require.NoError(t, err)

	entries, err := w.Walk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md", "main.go", "pkg/a.go"}, paths(entries))

	for _, e := range entries {
		assert.Positive(t, e.Size)
		assert.Positive(t, e.MTime)
	}
}

func TestWalk_NoIgnore(t *testing.T) {
	t.Parallel()

	root := newTree(t)
	w, err := New(root, Options{RespectIgnore: false, Extensions: DefaultExtensions})
	require.NoError(t, err)

	entries, err := w.Walk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md", "build/out.go", "gen/keep.go", "main.go", "pkg/a.go", "pkg/a_test.go"}, paths(entries))
}

func TestWalk_IncludeOverridesIgnoreAndExcludeWins(t *testing.T) {
	t.Parallel()

	root := newTree(t)
	w, err := New(root, Options{
		RespectIgnore: true,
		Include:       []string{"gen"},
		Exclude:       []string{"**/*.md"},
		Extensions:    DefaultExtensions,
	})
	require.NoError(t, err)

	entries, err := w.Walk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gen/keep.go", "main.go", "pkg/a.go"}, paths(entries))
}

func TestProfileOptions_WalksLikeTheProfile(t *testing.T) {
	t.Parallel()

	root := newTree(t)
	p := manifest.IndexProfile{
		RespectIgnore: true,
		Include:       []string{"gen"},
		Exclude:       []string{"**/*.md"},
	}.Normalized()

	opts := ProfileOptions(p, DefaultExtensions)
	assert.Equal(t, DefaultExtensions, opts.Extensions)

	w, err := New(root, opts)
	require.NoError(t, err)
	entries, err := w.Walk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gen/keep.go", "main.go", "pkg/a.go"}, paths(entries))
}

func TestAcceptsAndStat(t *testing.T) {
	t.Parallel()

	root := newTree(t)
	w, err := New(root, Options{RespectIgnore: true, Extensions: DefaultExtensions})
	require.NoError(t, err)

	assert.True(t, w.Accepts("main.go"))
	assert.True(t, w.Accepts("new/file.py"), "not-yet-existing paths are judged by rules only")
	assert.False(t, w.Accepts("image.png"))
	assert.False(t, w.Accepts(".cortex/config.yml"))
	assert.False(t, w.Accepts(".git/HEAD"))
	assert.False(t, w.Accepts("build/out.go"))
	assert.False(t, w.Accepts("pkg/a_test.go"))

	e, ok, err := w.Stat("main.go")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "main.go", e.Path)

	_, ok, err = w.Stat("missing.go")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAcceptsDir(t *testing.T) {
	t.Parallel()

	root := newTree(t)
	w, err := New(root, Options{RespectIgnore: true, Include: []string{"gen"}, Extensions: DefaultExtensions})
	require.NoError(t, err)

	assert.True(t, w.AcceptsDir(""))
	assert.True(t, w.AcceptsDir("pkg"))
	assert.True(t, w.AcceptsDir("gen"), "include overrides ignore rules")
	assert.False(t, w.AcceptsDir("build"))
	assert.False(t, w.AcceptsDir(".git"))
	assert.False(t, w.AcceptsDir(".cortex"))
}

func TestInvalidate_PicksUpIgnoreEdits(t *testing.T) {
	t.Parallel()

	root := newTree(t)
	w, err := New(root, Options{RespectIgnore: true, Extensions: DefaultExtensions})
	require.NoError(t, err)
	require.True(t, w.Accepts("main.go"))

	writeFile(t, root, ".gitignore", "build/\ngen/\nmain.go\n")
	assert.True(t, w.Accepts("main.go"), "rules are cached until invalidated")

	w.Invalidate()
	assert.False(t, w.Accepts("main.go"))
	assert.True(t, IsIgnoreFile("pkg/.gitignore"))
	assert.False(t, IsIgnoreFile("pkg/a.go"))
}

func TestLanguage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "go", Language("a/b.go"))
	assert.Equal(t, "tsx", Language("App.TSX"))
	assert.Equal(t, "", Language("data.json"))
	assert.Equal(t, "json", Extension("data.json"))
}
