package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/cortex-index/internal/manifest"
	"github.com/mvp-joe/cortex-index/internal/walker"
)

// TEST PLAN: ChangeDetector Component
//
// The ChangeDetector compares the live tree with a manifest and classifies
// every path as added, modified, deleted, touched or unchanged.
//
// Stage 1: equal (size, mtime) ⇒ unchanged, no read.
// Stage 2: hash the suspects; equal hash ⇒ touched (record refreshed),
// different hash or untracked ⇒ modified or added.
//
// Test Cases:
// 1. No changes (idempotence: nothing hashed)
// 2. New file added
// 3. File modified
// 4. File deleted
// 5. Touch without content change
// 6. Hinted detection only examines hinted paths
// 7. Hinted path that disappeared is deleted
// 8. Context cancellation
// 9. Mixed operations
// 10. Unreadable suspect is classified as modified

func TestChangeDetector_NoChanges(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")
	writeFile(t, root, "b.md", "# b\n")
	w := newTestWalker(t, root)
	m := snapshotManifest(t, w)

	det, err := NewChangeDetector(w, 2).Detect(context.Background(), m, walk(t, w))
	require.NoError(t, err)

	assert.True(t, det.Diff.Empty())
	assert.Empty(t, det.Touched)
	assert.Equal(t, 2, det.Stats.Scanned)
	assert.Zero(t, det.Stats.Suspects)
	assert.Zero(t, det.Stats.Hashed)
}

func TestChangeDetector_FileAdded(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")
	w := newTestWalker(t, root)
	m := snapshotManifest(t, w)

	writeFile(t, root, "sub/new.go", "package sub\n")

	det, err := NewChangeDetector(w, 2).Detect(context.Background(), m, walk(t, w))
	require.NoError(t, err)

	assert.Equal(t, []string{"sub/new.go"}, det.Diff.Added)
	assert.Empty(t, det.Diff.Modified)
	assert.Empty(t, det.Diff.Deleted)

	rec := det.Records["sub/new.go"]
	assert.Equal(t, "go", rec.Language)
	assert.Equal(t, "go", rec.Ext)
	assert.Equal(t, manifest.HashBytes([]byte("package sub\n")), rec.Hash)
}

func TestChangeDetector_FileModified(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")
	w := newTestWalker(t, root)
	m := snapshotManifest(t, w)

	writeFile(t, root, "a.go", "package a\n\nfunc A() {}\n")
	bumpMTime(t, root, "a.go")

	det, err := NewChangeDetector(w, 2).Detect(context.Background(), m, walk(t, w))
	require.NoError(t, err)

	assert.Equal(t, []string{"a.go"}, det.Diff.Modified)
	assert.Equal(t, 1, det.Stats.Hashed)
	assert.NotEqual(t, m.Files["a.go"].Hash, det.Records["a.go"].Hash)
}

func TestChangeDetector_FileDeleted(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")
	writeFile(t, root, "b.go", "package b\n")
	w := newTestWalker(t, root)
	m := snapshotManifest(t, w)

	require.NoError(t, os.Remove(filepath.Join(root, "b.go")))

	det, err := NewChangeDetector(w, 2).Detect(context.Background(), m, walk(t, w))
	require.NoError(t, err)

	assert.Equal(t, []string{"b.go"}, det.Diff.Deleted)
	assert.Empty(t, det.Diff.Added)
	assert.Empty(t, det.Diff.Modified)
	assert.NotContains(t, det.Records, "b.go")
}

func TestChangeDetector_TouchWithoutChange(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")
	w := newTestWalker(t, root)
	m := snapshotManifest(t, w)

	bumpMTime(t, root, "a.go")

	det, err := NewChangeDetector(w, 2).Detect(context.Background(), m, walk(t, w))
	require.NoError(t, err)

	assert.True(t, det.Diff.Empty(), "touch must not produce a diff")
	assert.Equal(t, []string{"a.go"}, det.Touched)
	assert.Equal(t, 1, det.Stats.Hashed)

	// The refreshed record carries the new mtime so the next run skips hashing.
	refreshed := manifest.Apply(m, det.Diff, det.Records)
	again, err := NewChangeDetector(w, 2).Detect(context.Background(), refreshed, walk(t, w))
	require.NoError(t, err)
	assert.Empty(t, again.Touched)
	assert.Zero(t, again.Stats.Hashed)
}

func TestChangeDetector_HintOnlyExaminesHintedPaths(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")
	writeFile(t, root, "b.go", "package b\n")
	w := newTestWalker(t, root)
	m := snapshotManifest(t, w)

	writeFile(t, root, "a.go", "package a // edited\n")
	bumpMTime(t, root, "a.go")
	writeFile(t, root, "b.go", "package b // edited\n")
	bumpMTime(t, root, "b.go")

	det, err := NewChangeDetector(w, 2).DetectPaths(context.Background(), m, []string{"a.go", "a.go"})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.go"}, det.Diff.Modified)
	assert.Equal(t, 1, det.Stats.Scanned)
}

func TestChangeDetector_HintWithMissingFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")
	w := newTestWalker(t, root)
	m := snapshotManifest(t, w)

	require.NoError(t, os.Remove(filepath.Join(root, "a.go")))

	det, err := NewChangeDetector(w, 2).DetectPaths(context.Background(), m, []string{"a.go", "never-existed.go"})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.go"}, det.Diff.Deleted)
	assert.Empty(t, det.Diff.Added)
}

func TestChangeDetector_ContextCancellation(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for i := 0; i < 50; i++ {
		writeFile(t, root, fmt.Sprintf("f%02d.go", i), fmt.Sprintf("package f%d\n", i))
	}
	w := newTestWalker(t, root)
	entries := walk(t, w)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewChangeDetector(w, 4).Detect(ctx, manifest.New(), entries)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChangeDetector_MixedOperations(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "keep.go", "package keep\n")
	writeFile(t, root, "edit.go", "package edit\n")
	writeFile(t, root, "touch.go", "package touch\n")
	writeFile(t, root, "gone.go", "package gone\n")
	w := newTestWalker(t, root)
	m := snapshotManifest(t, w)

	writeFile(t, root, "edit.go", "package edit\n\nvar X = 1\n")
	bumpMTime(t, root, "edit.go")
	bumpMTime(t, root, "touch.go")
	require.NoError(t, os.Remove(filepath.Join(root, "gone.go")))
	writeFile(t, root, "added.go", "package added\n")

	det, err := NewChangeDetector(w, 3).Detect(context.Background(), m, walk(t, w))
	require.NoError(t, err)

	assert.Equal(t, []string{"added.go"}, det.Diff.Added)
	assert.Equal(t, []string{"edit.go"}, det.Diff.Modified)
	assert.Equal(t, []string{"gone.go"}, det.Diff.Deleted)
	assert.Equal(t, []string{"touch.go"}, det.Touched)
	assert.Equal(t, 3, det.Diff.Len())
	assert.Equal(t, 4, det.Stats.Scanned)
	assert.Equal(t, 3, det.Stats.Suspects)
}

func TestChangeDetector_UnreadableSuspectIsModified(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")
	w := newTestWalker(t, root)
	m := snapshotManifest(t, w)
	bumpMTime(t, root, "a.go")

	cd := NewChangeDetector(w, 1).(*changeDetector)
	cd.hash = func(string) (string, error) { return "", os.ErrPermission }

	det, err := cd.Detect(context.Background(), m, walk(t, w))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go"}, det.Diff.Modified)
	assert.Zero(t, det.Stats.Hashed)
}

// Helper functions

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// bumpMTime moves the mtime forward so stage 1 notices the file even on
// filesystems with coarse timestamps.
func bumpMTime(t *testing.T, root, rel string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Stat(path)
	require.NoError(t, err)
	next := info.ModTime().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, next, next))
}

func newTestWalker(t *testing.T, root string) *walker.Walker {
	t.Helper()
	w, err := walker.New(root, walker.Options{RespectIgnore: true, Extensions: walker.DefaultExtensions})
	require.NoError(t, err)
	return w
}

func walk(t *testing.T, w *walker.Walker) []walker.Entry {
	t.Helper()
	entries, err := w.Walk(context.Background())
	require.NoError(t, err)
	return entries
}

// snapshotManifest records the current tree as a manifest.
func snapshotManifest(t *testing.T, w *walker.Walker) *manifest.Manifest {
	t.Helper()
	det, err := NewChangeDetector(w, 2).Detect(context.Background(), manifest.New(), walk(t, w))
	require.NoError(t, err)
	return manifest.Apply(manifest.New(), det.Diff, det.Records)
}
