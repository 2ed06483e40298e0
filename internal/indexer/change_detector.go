package indexer

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mvp-joe/cortex-index/internal/manifest"
	"github.com/mvp-joe/cortex-index/internal/walker"
)

// FileSource is the part of the walker the detector needs.
type FileSource interface {
	Walk(ctx context.Context) ([]walker.Entry, error)
	Stat(rel string) (walker.Entry, bool, error)
	Abs(rel string) string
}

// DetectStats describes how much work change detection did.
type DetectStats struct {
	Scanned  int `json:"scanned"`  // paths examined
	Suspects int `json:"suspects"` // paths failing the (size, mtime) filter
	Hashed   int `json:"hashed"`   // paths whose content was hashed
}

// Detection is the result of comparing the live tree with a manifest.
type Detection struct {
	Diff manifest.Diff

	// Records holds fresh records for added, modified and touched paths.
	Records map[string]manifest.FileRecord

	// Touched lists paths whose stat changed but whose content did not.
	Touched []string

	Stats DetectStats
}

// ChangeDetector classifies paths as added, modified, deleted or unchanged
// relative to a manifest.
type ChangeDetector interface {
	// Detect compares a complete walk against m. Paths in m missing from
	// entries are deleted.
	Detect(ctx context.Context, m *manifest.Manifest, entries []walker.Entry) (*Detection, error)

	// DetectPaths examines only the hinted paths. A hinted path that no
	// longer exists but is in m is deleted; nothing else is.
	DetectPaths(ctx context.Context, m *manifest.Manifest, hint []string) (*Detection, error)
}

// changeDetector implements ChangeDetector interface.
type changeDetector struct {
	files   FileSource
	workers int
	hash    func(path string) (string, error)
}

// NewChangeDetector creates a detector hashing with up to workers goroutines.
func NewChangeDetector(files FileSource, workers int) ChangeDetector {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &changeDetector{
		files:   files,
		workers: workers,
		hash:    manifest.HashFile,
	}
}

// Detect implements the two-stage algorithm:
//  1. (size, mtime) equal to the manifest record ⇒ unchanged without reading the file.
//  2. Otherwise hash the content: equal hash ⇒ unchanged but touched (record
//     refreshed); different hash or no record ⇒ modified or added.
//
// Paths in the manifest but absent from the walk are deleted.
func (cd *changeDetector) Detect(ctx context.Context, m *manifest.Manifest, entries []walker.Entry) (*Detection, error) {
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		seen[e.Path] = true
	}

	det, err := cd.classify(ctx, m, entries)
	if err != nil {
		return nil, err
	}

	for _, p := range m.Paths() {
		if !seen[p] {
			det.Diff.Deleted = append(det.Diff.Deleted, p)
		}
	}
	det.Diff.Sort()
	return det, nil
}

func (cd *changeDetector) DetectPaths(ctx context.Context, m *manifest.Manifest, hint []string) (*Detection, error) {
	var (
		entries []walker.Entry
		deleted []string
		dedup   = make(map[string]bool, len(hint))
	)

	for _, p := range hint {
		if dedup[p] {
			continue
		}
		dedup[p] = true

		e, ok, err := cd.files.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		if ok {
			entries = append(entries, e)
			continue
		}
		if _, tracked := m.Get(p); tracked {
			deleted = append(deleted, p)
		}
	}

	det, err := cd.classify(ctx, m, entries)
	if err != nil {
		return nil, err
	}
	det.Diff.Deleted = deleted
	det.Diff.Sort()
	return det, nil
}

type candidate struct {
	entry    walker.Entry
	existing manifest.FileRecord
	tracked  bool
}

func (cd *changeDetector) classify(ctx context.Context, m *manifest.Manifest, entries []walker.Entry) (*Detection, error) {
	det := &Detection{Records: make(map[string]manifest.FileRecord)}
	det.Stats.Scanned = len(entries)

	// Stage 1: cheap (size, mtime) filter.
	var suspects []candidate
	for _, e := range entries {
		rec, tracked := m.Get(e.Path)
		if tracked && rec.SameStat(e.Size, e.MTime) && rec.Hash != "" {
			continue
		}
		suspects = append(suspects, candidate{entry: e, existing: rec, tracked: tracked})
	}
	det.Stats.Suspects = len(suspects)

	// Stage 2: content hash, bounded parallelism.
	hashes := make([]string, len(suspects))
	var (
		mu      sync.Mutex
		hashed  int
		g, gctx = errgroup.WithContext(ctx)
	)
	g.SetLimit(cd.workers)
	for i := range suspects {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			h, err := cd.hash(cd.files.Abs(suspects[i].entry.Path))
			if err != nil {
				// Unreadable content is treated as changed so nothing is missed;
				// the builder records the read failure.
				return nil
			}
			hashes[i] = h
			mu.Lock()
			hashed++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	det.Stats.Hashed = hashed

	for i, c := range suspects {
		p := c.entry.Path
		rec := manifest.FileRecord{
			Path:     p,
			Size:     c.entry.Size,
			MTime:    c.entry.MTime,
			Hash:     hashes[i],
			Ext:      walker.Extension(p),
			Language: walker.Language(p),
		}

		switch {
		case !c.tracked:
			det.Diff.Added = append(det.Diff.Added, p)
		case hashes[i] != "" && hashes[i] == c.existing.Hash:
			det.Touched = append(det.Touched, p)
		default:
			det.Diff.Modified = append(det.Diff.Modified, p)
		}
		det.Records[p] = rec
	}

	sort.Strings(det.Touched)
	return det, nil
}
