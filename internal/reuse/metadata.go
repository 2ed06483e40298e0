package reuse

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mvp-joe/cortex-index/internal/fsutil"
	"github.com/mvp-joe/cortex-index/internal/manifest"
	"github.com/mvp-joe/cortex-index/internal/storage"
	"github.com/mvp-joe/cortex-index/internal/workspace"
)

// CacheSchemaVersion versions the snapshot directory format.
const CacheSchemaVersion = "1"

// MetadataFileName is written last into a snapshot staging directory.
const MetadataFileName = "metadata.json"

// SnapshotMetadata describes one published snapshot.
type SnapshotMetadata struct {
	SchemaVersion    string      `json:"schema_version"`
	RepoKey          string      `json:"repo_key"`
	SnapshotKey      string      `json:"snapshot_key"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	ToolVersion      string      `json:"tool_version"`
	IndexSchema      string      `json:"index_schema"`
	ProfileHash      string      `json:"profile_hash"`
	HeadCommit       string      `json:"head_commit,omitempty"`
	ManifestRootHash string      `json:"manifest_root_hash,omitempty"`
	Fingerprint      Fingerprint `json:"fingerprint"`
}

// Compatible reports whether a snapshot was built by a compatible tool with
// the same index options.
func (m *SnapshotMetadata) Compatible(profileHash string) bool {
	return m.SchemaVersion == CacheSchemaVersion &&
		m.IndexSchema == storage.SchemaVersion &&
		m.ProfileHash == profileHash
}

func readMetadata(dir string) (*SnapshotMetadata, error) {
	var m SnapshotMetadata
	if err := fsutil.ReadJSON(filepath.Join(dir, MetadataFileName), &m); err != nil {
		return nil, err
	}
	if m.SnapshotKey == "" || m.SchemaVersion == "" {
		return nil, fmt.Errorf("snapshot metadata in %s is incomplete", dir)
	}
	return &m, nil
}

func writeMetadata(dir string, m *SnapshotMetadata) error {
	return fsutil.WriteJSONAtomic(filepath.Join(dir, MetadataFileName), m)
}

// Restorable checks that a snapshot holds every artifact of a generation
// and that its manifest loads and matches the recorded root hash.
func Restorable(dir string, meta *SnapshotMetadata) (*manifest.Manifest, bool) {
	if !fsutil.DirExists(workspace.IndexDir(dir)) {
		return nil, false
	}
	if _, err := os.Stat(workspace.SymbolsPath(dir)); err != nil {
		return nil, false
	}
	m, err := manifest.Load(workspace.ManifestDir(dir))
	if err != nil {
		return nil, false
	}
	if meta != nil && meta.ManifestRootHash != "" && meta.ManifestRootHash != m.RootHash {
		return nil, false
	}
	return m, true
}
