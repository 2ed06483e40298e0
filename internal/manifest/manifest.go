// Package manifest is the durable record of per-path file state for a
// workspace index. A manifest is only ever replaced as a whole, through
// Commit, so a crash mid-write always leaves the previous manifest intact.
package manifest

import (
	"errors"
	"sort"
)

// Version is the on-disk manifest schema version understood by this build.
const Version = 1

var (
	// ErrNotFound indicates no manifest has been committed yet.
	ErrNotFound = errors.New("manifest not found")

	// ErrCorrupt indicates the manifest exists but cannot be decoded.
	ErrCorrupt = errors.New("manifest corrupt")

	// ErrVersionMismatch indicates the manifest was written by an incompatible schema.
	ErrVersionMismatch = errors.New("manifest version mismatch")
)

// FileRecord is the change-detection fingerprint of one indexed path.
// Hash may be empty when the file was never hashed.
type FileRecord struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	MTime    int64  `json:"mtime"` // unix nanoseconds
	Hash     string `json:"hash,omitempty"`
	Ext      string `json:"ext,omitempty"`
	Language string `json:"language,omitempty"`
}

// SameStat reports whether the cheap (size, mtime) fingerprint matches.
func (r FileRecord) SameStat(size, mtime int64) bool {
	return r.Size == size && r.MTime == mtime
}

// Manifest maps workspace-relative, slash-separated paths to their records.
type Manifest struct {
	Version  int
	Files    map[string]FileRecord
	RootHash string
}

// New returns an empty manifest at the current schema version.
func New() *Manifest {
	return &Manifest{
		Version: Version,
		Files:   make(map[string]FileRecord),
	}
}

// Len returns the number of tracked files.
func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Files)
}

// Get returns the record for path.
func (m *Manifest) Get(path string) (FileRecord, bool) {
	if m == nil {
		return FileRecord{}, false
	}
	rec, ok := m.Files[path]
	return rec, ok
}

// Paths returns all tracked paths in sorted order.
func (m *Manifest) Paths() []string {
	if m == nil {
		return nil
	}
	paths := make([]string, 0, len(m.Files))
	for p := range m.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Records returns all records sorted by path.
func (m *Manifest) Records() []FileRecord {
	if m == nil {
		return nil
	}
	out := make([]FileRecord, 0, len(m.Files))
	for _, p := range m.Paths() {
		out = append(out, m.Files[p])
	}
	return out
}

// Clone returns a deep copy of m.
func (m *Manifest) Clone() *Manifest {
	c := New()
	if m == nil {
		return c
	}
	c.Version = m.Version
	c.RootHash = m.RootHash
	for p, rec := range m.Files {
		c.Files[p] = rec
	}
	return c
}

// Diff is the set of paths that changed relative to a manifest.
type Diff struct {
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Deleted  []string `json:"deleted"`
}

// Empty reports whether the diff contains no changes.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Deleted) == 0
}

// Len returns the total number of changed paths.
func (d Diff) Len() int {
	return len(d.Added) + len(d.Modified) + len(d.Deleted)
}

// Changed returns added and modified paths, sorted.
func (d Diff) Changed() []string {
	out := make([]string, 0, len(d.Added)+len(d.Modified))
	out = append(out, d.Added...)
	out = append(out, d.Modified...)
	sort.Strings(out)
	return out
}

// Sort orders every list in place.
func (d *Diff) Sort() {
	sort.Strings(d.Added)
	sort.Strings(d.Modified)
	sort.Strings(d.Deleted)
}

// Apply returns a new manifest with diff applied: deleted paths are pruned and
// records are upserted. Records for paths outside the diff (touch refreshes)
// are upserted too. m itself is never mutated.
func Apply(m *Manifest, diff Diff, records map[string]FileRecord) *Manifest {
	next := m.Clone()
	next.Version = Version
	for _, p := range diff.Deleted {
		delete(next.Files, p)
	}
	for p, rec := range records {
		rec.Path = p
		next.Files[p] = rec
	}
	next.RootHash = RootHash(next.Files)
	return next
}
