package reuse

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mvp-joe/cortex-index/internal/manifest"
)

// GateResult is the outcome of checking a restored manifest against the
// working tree.
type GateResult struct {
	// Manifest keeps only entries that still describe the file on disk. An
	// entry whose stat changed but whose content hash still matches is kept
	// with the fresh stat.
	Manifest *manifest.Manifest
	// Invalid lists entries that must be removed from the restored index.
	Invalid  []string
	Kept     int
	Rehashed int
}

// Validate is the mandatory safety gate for restored snapshots. Nothing a
// snapshot claims about a file is trusted unless the file exists with an
// equal (size, mtime) or an equal content hash.
func Validate(ctx context.Context, root string, m *manifest.Manifest, workers int) (*GateResult, error) {
	if workers <= 0 {
		workers = 1
	}

	var (
		mu       sync.Mutex
		records  = make(map[string]manifest.FileRecord, m.Len())
		invalid  []string
		rehashed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, rec := range m.Records() {
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			kept, ok, hashed := check(root, rec)
			mu.Lock()
			defer mu.Unlock()
			if hashed {
				rehashed++
			}
			if ok {
				records[rec.Path] = kept
			} else {
				invalid = append(invalid, rec.Path)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	diff := manifest.Diff{Deleted: invalid}
	diff.Sort()
	valid := manifest.Apply(m, diff, records)
	return &GateResult{
		Manifest: valid,
		Invalid:  diff.Deleted,
		Kept:     valid.Len(),
		Rehashed: rehashed,
	}, nil
}

func check(root string, rec manifest.FileRecord) (manifest.FileRecord, bool, bool) {
	abs := filepath.Join(root, filepath.FromSlash(rec.Path))
	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		return rec, false, false
	}
	size, mtime := info.Size(), info.ModTime().UnixNano()
	if rec.SameStat(size, mtime) {
		return rec, true, false
	}
	if size != rec.Size {
		return rec, false, false
	}
	sum, err := manifest.HashFile(abs)
	if err != nil || sum != rec.Hash {
		return rec, false, true
	}
	rec.MTime = mtime
	return rec, true, true
}
