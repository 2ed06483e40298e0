package reuse

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mvp-joe/cortex-index/internal/fsutil"
)

// RuntimeState is the diagnostics record written to reuse-state.json after
// every reuse attempt.
type RuntimeState struct {
	SchemaVersion string    `json:"schema_version"`
	Mode          Mode      `json:"mode"`
	Decision      Decision  `json:"decision"`
	Active        bool      `json:"active"`
	UpdatedAt     time.Time `json:"updated_at"`
	Source        string    `json:"source,omitempty"`
	SnapshotKey   string    `json:"snapshot_key,omitempty"`
	RepoKey       string    `json:"repo_key,omitempty"`
	Reason        string    `json:"reason,omitempty"`
}

// State converts an outcome into its persisted form.
func (o Outcome) State(now time.Time) RuntimeState {
	return RuntimeState{
		SchemaVersion: CacheSchemaVersion,
		Mode:          o.Mode,
		Decision:      o.Decision,
		Active:        o.Active(),
		UpdatedAt:     now.UTC(),
		Source:        o.Source,
		SnapshotKey:   o.SnapshotKey,
		RepoKey:       o.RepoKey,
		Reason:        o.Reason,
	}
}

// SaveState atomically writes the diagnostics record.
func SaveState(path string, o Outcome) error {
	if err := fsutil.WriteJSONAtomic(path, o.State(time.Now())); err != nil {
		return fmt.Errorf("failed to write reuse state: %w", err)
	}
	return nil
}

// LoadState reads the diagnostics record; ok is false when none exists.
func LoadState(path string) (RuntimeState, bool, error) {
	var s RuntimeState
	if err := fsutil.ReadJSON(path, &s); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return RuntimeState{}, false, nil
		}
		return RuntimeState{}, false, fmt.Errorf("failed to read reuse state: %w", err)
	}
	return s, true, nil
}
