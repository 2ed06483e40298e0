package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mvp-joe/cortex-index/internal/fsutil"
)

// FileName is the manifest file inside a manifest directory.
const FileName = "manifest.json"

// document is the serialized form. Files are stored as a path-sorted list so
// identical manifests produce byte-identical files.
type document struct {
	Version  int          `json:"version"`
	RootHash string       `json:"root_hash,omitempty"`
	Files    []FileRecord `json:"files"`
}

// Load reads the manifest stored in dir.
//
// A missing manifest returns an empty manifest together with ErrNotFound.
// Undecodable content returns ErrCorrupt and an unknown schema returns
// ErrVersionMismatch; both mean the caller must rebuild from scratch.
func Load(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return New(), ErrNotFound
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var header struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if header.Version == nil {
		return nil, fmt.Errorf("%w: missing version", ErrCorrupt)
	}
	if *header.Version != Version {
		return nil, fmt.Errorf("%w: found %d, want %d", ErrVersionMismatch, *header.Version, Version)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	m := New()
	for _, rec := range doc.Files {
		if rec.Path == "" {
			return nil, fmt.Errorf("%w: record without path", ErrCorrupt)
		}
		m.Files[rec.Path] = rec
	}
	m.RootHash = doc.RootHash
	return m, nil
}

// NeedsRebuild reports whether a Load error means the index must be rebuilt
// from scratch rather than updated incrementally.
func NeedsRebuild(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrCorrupt) || errors.Is(err, ErrVersionMismatch)
}

// Commit recomputes the root hash and atomically replaces the manifest in dir.
func Commit(dir string, m *Manifest) error {
	m.Version = Version
	m.RootHash = RootHash(m.Files)

	doc := document{
		Version:  m.Version,
		RootHash: m.RootHash,
		Files:    m.Records(),
	}
	if err := fsutil.WriteJSONAtomic(filepath.Join(dir, FileName), doc); err != nil {
		return fmt.Errorf("failed to commit manifest: %w", err)
	}
	return nil
}
