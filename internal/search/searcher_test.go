package search

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/cortex-index/internal/indexer"
	"github.com/mvp-joe/cortex-index/internal/workspace"
)

const fileCount = 5

// writeRound rewrites every file so that all of them carry the marker of
// round n and nothing else.
func writeRound(t *testing.T, root string, n int) {
	t.Helper()
	for i := 0; i < fileCount; i++ {
		path := filepath.Join(root, fmt.Sprintf("f%d.md", i))
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("marker round%d\n", n)), 0644))
		mt := time.Now().Add(time.Duration(n) * time.Second)
		require.NoError(t, os.Chtimes(path, mt, mt))
	}
}

func setup(t *testing.T) (string, workspace.Layout, *indexer.Indexer) {
	t.Helper()
	root := t.TempDir()
	layout, err := workspace.New(root)
	require.NoError(t, err)
	ix := indexer.New(layout, indexer.Options{HashWorkers: 2, Log: zerolog.Nop()})
	return root, layout, ix
}

func TestSearcher_NoIndex(t *testing.T) {
	t.Parallel()

	_, layout, _ := setup(t)
	s, err := NewSearcher(layout, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Search(context.Background(), "anything", 10)
	assert.ErrorIs(t, err, ErrNoIndex)
}

func TestSearcher_FollowsCommittedGeneration(t *testing.T) {
	t.Parallel()

	root, layout, ix := setup(t)
	writeRound(t, root, 1)
	first, err := ix.Index(context.Background(), indexer.Request{}, nil)
	require.NoError(t, err)

	s, err := NewSearcher(layout, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	res, err := s.Search(context.Background(), "round1", 10)
	require.NoError(t, err)
	assert.Equal(t, first.Generation, res.Generation)
	assert.Len(t, res.Hits, fileCount)

	// A pinned view keeps answering from its generation after a new commit.
	view, err := s.Open(context.Background())
	require.NoError(t, err)
	defer view.Close()

	writeRound(t, root, 2)
	second, err := ix.Index(context.Background(), indexer.Request{}, nil)
	require.NoError(t, err)

	pinned, err := view.Search(context.Background(), "round1", 10)
	require.NoError(t, err)
	assert.Equal(t, first.Generation, pinned.Generation)
	assert.Len(t, pinned.Hits, fileCount)

	fresh, err := s.Search(context.Background(), "round2", 10)
	require.NoError(t, err)
	assert.Equal(t, second.Generation, fresh.Generation)
	assert.Len(t, fresh.Hits, fileCount)
}

func TestSearcher_Symbols(t *testing.T) {
	t.Parallel()

	root, layout, ix := setup(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n\nfunc Serve() {}\n"), 0644))
	_, err := ix.Index(context.Background(), indexer.Request{}, nil)
	require.NoError(t, err)

	s, err := NewSearcher(layout, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	view, err := s.Open(context.Background())
	require.NoError(t, err)
	defer view.Close()

	rows, err := view.Symbols(context.Background(), "Serve")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "main.go", rows[0].Path)
}

// Readers running while builds commit must always see exactly one round:
// every file from a single generation, never a mix.
func TestSearcher_ReadDuringWrite(t *testing.T) {
	t.Parallel()

	const rounds = 6

	root, layout, ix := setup(t)
	writeRound(t, root, 1)
	_, err := ix.Index(context.Background(), indexer.Request{}, nil)
	require.NoError(t, err)

	s, err := NewSearcher(layout, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	var (
		done     atomic.Bool
		wg       sync.WaitGroup
		failures atomic.Int32
		checks   atomic.Int32
	)

	for r := 0; r < 3; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !done.Load() {
				view, err := s.Open(context.Background())
				if err != nil {
					failures.Add(1)
					return
				}
				full, partial := 0, 0
				for n := 1; n <= rounds; n++ {
					res, err := view.Search(context.Background(), fmt.Sprintf("round%d", n), 20)
					if err != nil {
						failures.Add(1)
						break
					}
					switch len(res.Hits) {
					case 0:
					case fileCount:
						full++
					default:
						partial++
					}
				}
				view.Close()
				if full != 1 || partial != 0 {
					failures.Add(1)
				}
				checks.Add(1)
			}
		}()
	}

	for n := 2; n <= rounds; n++ {
		writeRound(t, root, n)
		_, err := ix.Index(context.Background(), indexer.Request{}, nil)
		require.NoError(t, err)
	}
	done.Store(true)
	wg.Wait()

	assert.Positive(t, checks.Load())
	assert.Zero(t, failures.Load())
}
