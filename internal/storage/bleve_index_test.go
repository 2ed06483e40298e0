package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan for FTSIndex:
// - Upsert makes a document searchable by content and by symbol name
// - Upsert of an existing path replaces the previous document
// - Delete removes a document; deleting an unknown path is a no-op
// - Batched writes are invisible until Flush and survive batch rollover
// - A read-only handle sees committed documents
// - Open of a missing directory fails

func newFTS(t *testing.T) (*FTSIndex, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "index")
	idx, err := CreateFTSIndex(dir)
	require.NoError(t, err)
	return idx, dir
}

func paths(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Path
	}
	return out
}

func TestFTSIndex_UpsertAndSearch(t *testing.T) {
	t.Parallel()

	idx, _ := newFTS(t)
	defer idx.Close()

	require.NoError(t, idx.Upsert(Document{Path: "src/server.go", Language: "go", Content: "package server\nfunc ListenAndServe() {}", Symbols: []string{"ListenAndServe"}}))
	require.NoError(t, idx.Upsert(Document{Path: "docs/guide.md", Language: "markdown", Content: "# Guide\nHow to deploy the server."}))

	hits, err := idx.Search(context.Background(), "deploy", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/guide.md"}, paths(hits))

	hits, err = idx.Search(context.Background(), "symbols:listenandserve", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/server.go"}, paths(hits))

	n, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestFTSIndex_UpsertReplaces(t *testing.T) {
	t.Parallel()

	idx, _ := newFTS(t)
	defer idx.Close()

	require.NoError(t, idx.Upsert(Document{Path: "a.txt", Content: "alpha"}))
	require.NoError(t, idx.Upsert(Document{Path: "a.txt", Content: "omega"}))

	hits, err := idx.Search(context.Background(), "alpha", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = idx.Search(context.Background(), "omega", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, paths(hits))

	n, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestFTSIndex_Delete(t *testing.T) {
	t.Parallel()

	idx, _ := newFTS(t)
	defer idx.Close()

	require.NoError(t, idx.Upsert(Document{Path: "gone.txt", Content: "ephemeral"}))
	require.NoError(t, idx.Delete("gone.txt"))
	require.NoError(t, idx.Delete("never-existed.txt"))

	has, err := idx.Has("gone.txt")
	require.NoError(t, err)
	assert.False(t, has)

	hits, err := idx.Search(context.Background(), "ephemeral", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestFTSIndex_Batch(t *testing.T) {
	t.Parallel()

	idx, _ := newFTS(t)
	defer idx.Close()

	idx.BeginBatch()
	total := ftsBatchSize + 5
	for i := 0; i < total; i++ {
		require.NoError(t, idx.Upsert(Document{Path: fmt.Sprintf("f%04d.txt", i), Content: "batched"}))
	}
	require.NoError(t, idx.Flush())

	n, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(total), n)

	// Flush outside batch mode is a no-op.
	require.NoError(t, idx.Flush())
}

func TestFTSIndex_ReadOnlyHandle(t *testing.T) {
	t.Parallel()

	idx, dir := newFTS(t)
	require.NoError(t, idx.Upsert(Document{Path: "kept.md", Content: "persisted words"}))
	require.NoError(t, idx.Close())

	ro, err := OpenFTSIndex(dir, true)
	require.NoError(t, err)
	defer ro.Close()

	hits, err := ro.Search(context.Background(), "persisted", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept.md"}, paths(hits))
}

func TestOpenFTSIndex_Missing(t *testing.T) {
	t.Parallel()

	_, err := OpenFTSIndex(filepath.Join(t.TempDir(), "missing"), true)
	assert.Error(t, err)
}
