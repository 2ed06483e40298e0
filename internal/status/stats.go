package status

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mvp-joe/cortex-index/internal/fsutil"
	"github.com/mvp-joe/cortex-index/internal/workspace"
)

// DiffCounts sizes the diff of a build against its base manifest.
type DiffCounts struct {
	Added     int `json:"added"`
	Modified  int `json:"modified"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
	Touched   int `json:"touched"`
}

// DetectCounts mirrors the change detector's work.
type DetectCounts struct {
	Scanned  int `json:"scanned"`
	Suspects int `json:"suspects"`
	Hashed   int `json:"hashed"`
}

// Timings are per-phase wall times in milliseconds.
type Timings struct {
	Reuse  int64 `json:"reuse"`
	Scan   int64 `json:"scan"`
	Index  int64 `json:"index"`
	Commit int64 `json:"commit"`
	Total  int64 `json:"total"`
}

// RunStats is the content of stats.json: what the last successful build did.
type RunStats struct {
	SchemaVersion string       `json:"schema_version"`
	BuildID       string       `json:"build_id"`
	Generation    string       `json:"generation,omitempty"`
	FinishedAt    time.Time    `json:"finished_at"`
	Background    bool         `json:"background"`
	Committed     bool         `json:"committed"`
	Rebuilt       bool         `json:"rebuilt"`
	Bulk          bool         `json:"bulk"`
	Diff          DiffCounts   `json:"diff"`
	Detect        DetectCounts `json:"detect"`
	Processed     int          `json:"processed"`
	Failed        int          `json:"failed"`
	Files         int          `json:"files"`
	Reuse         string       `json:"reuse,omitempty"`
	TimingsMS     Timings      `json:"timings_ms"`
}

// WriteStats atomically replaces stats.json.
func WriteStats(layout workspace.Layout, s RunStats) error {
	s.SchemaVersion = SchemaVersion
	if err := fsutil.WriteJSONAtomic(layout.StatsPath(), s); err != nil {
		return fmt.Errorf("failed to write build stats: %w", err)
	}
	return nil
}

// ReadStats loads stats.json. ok is false when no build has completed yet.
func ReadStats(layout workspace.Layout) (s RunStats, ok bool, err error) {
	if err := fsutil.ReadJSON(layout.StatsPath(), &s); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return RunStats{}, false, nil
		}
		return RunStats{}, false, fmt.Errorf("failed to read build stats: %w", err)
	}
	return s, true, nil
}
