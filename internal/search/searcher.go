// Package search reads committed generations. Every query is answered from
// exactly one generation: the one CURRENT names when the query starts.
package search

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/maypok86/otter"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/mvp-joe/cortex-index/internal/storage"
	"github.com/mvp-joe/cortex-index/internal/workspace"
)

// ErrNoIndex is returned when nothing has been committed yet.
var ErrNoIndex = errors.New("no committed index")

// defaultOpenHandles bounds how many generations stay open at once.
const defaultOpenHandles = 4

// Results are the hits of one query together with the generation that
// produced them.
type Results struct {
	Generation string        `json:"generation"`
	Hits       []storage.Hit `json:"hits"`
}

// Searcher answers queries against the committed generation and caches
// open handles per generation id.
type Searcher struct {
	layout  workspace.Layout
	log     zerolog.Logger
	handles otter.Cache[string, *handle]
	opening singleflight.Group
}

// NewSearcher creates a searcher for layout.
func NewSearcher(layout workspace.Layout, log zerolog.Logger) (*Searcher, error) {
	handles, err := otter.MustBuilder[string, *handle](defaultOpenHandles).
		DeletionListener(func(_ string, h *handle, _ otter.DeletionCause) {
			h.evict()
		}).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create handle cache: %w", err)
	}
	return &Searcher{layout: layout, log: log, handles: handles}, nil
}

// View pins one generation for a sequence of reads.
type View struct {
	h    *handle
	once sync.Once
}

// Generation returns the pinned generation id.
func (v *View) Generation() string { return v.h.generation }

// Search runs a full-text query against the pinned generation.
func (v *View) Search(ctx context.Context, query string, limit int) (*Results, error) {
	hits, err := v.h.fts.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return &Results{Generation: v.h.generation, Hits: hits}, nil
}

// Symbols looks up symbols by exact name in the pinned generation.
func (v *View) Symbols(ctx context.Context, name string) ([]storage.SymbolRow, error) {
	return v.h.syms.Find(ctx, name)
}

// Close unpins the generation.
func (v *View) Close() {
	v.once.Do(v.h.release)
}

// Open pins the committed generation. Callers must Close the view.
func (s *Searcher) Open(ctx context.Context) (*View, error) {
	for attempt := 0; attempt < 3; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		gen, err := s.layout.CurrentGeneration()
		if err != nil {
			return nil, err
		}
		if gen == "" {
			return nil, ErrNoIndex
		}

		h, err := s.handle(gen)
		if err != nil {
			// The generation may have been pruned after a newer commit.
			if next, _ := s.layout.CurrentGeneration(); next != "" && next != gen {
				continue
			}
			return nil, err
		}
		if h.acquire() {
			return &View{h: h}, nil
		}
		// Evicted between lookup and pin; resolve again.
		s.handles.Delete(gen)
	}
	return nil, fmt.Errorf("failed to pin a generation")
}

// Search is a one-shot query against the committed generation.
func (s *Searcher) Search(ctx context.Context, query string, limit int) (*Results, error) {
	v, err := s.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer v.Close()
	return v.Search(ctx, query, limit)
}

// Close releases every cached handle. Pinned views stay usable until closed.
func (s *Searcher) Close() {
	s.handles.Range(func(_ string, h *handle) bool {
		h.evict()
		return true
	})
	s.handles.Close()
}

func (s *Searcher) handle(gen string) (*handle, error) {
	if h, ok := s.handles.Get(gen); ok {
		return h, nil
	}
	v, err, _ := s.opening.Do(gen, func() (interface{}, error) {
		if h, ok := s.handles.Get(gen); ok {
			return h, nil
		}
		h, err := openHandle(s.layout, gen)
		if err != nil {
			return nil, err
		}
		s.handles.Set(gen, h)
		s.log.Debug().Str("generation", gen).Msg("opened generation")
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*handle), nil
}

// handle is an open generation. It is closed once it has been evicted from
// the cache and every view pinning it has been closed.
type handle struct {
	generation string
	fts        *storage.FTSIndex
	syms       *storage.SymbolStore

	mu      sync.Mutex
	refs    int
	evicted bool
	closed  bool
}

func openHandle(layout workspace.Layout, gen string) (*handle, error) {
	dir := layout.GenerationDir(gen)
	fts, err := storage.OpenFTSIndex(workspace.IndexDir(dir), true)
	if err != nil {
		return nil, err
	}
	syms, err := storage.OpenSymbolStore(workspace.SymbolsPath(dir), true)
	if err != nil {
		fts.Close()
		return nil, err
	}
	return &handle{generation: gen, fts: fts, syms: syms}, nil
}

func (h *handle) acquire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.evicted {
		return false
	}
	h.refs++
	return true
}

func (h *handle) release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refs--
	h.closeIfIdleLocked()
}

func (h *handle) evict() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.evicted = true
	h.closeIfIdleLocked()
}

func (h *handle) closeIfIdleLocked() {
	if !h.evicted || h.refs > 0 || h.closed {
		return
	}
	h.closed = true
	h.syms.Close()
	h.fts.Close()
}
