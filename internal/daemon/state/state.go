// Package state persists the background daemon record and answers whether
// the process it names is still alive.
package state

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mvp-joe/cortex-index/internal/fsutil"
	"github.com/mvp-joe/cortex-index/internal/scheduler"
)

// DaemonState is the content of daemon.json.
type DaemonState struct {
	PID          int                    `json:"pid"`
	LogPath      string                 `json:"log_path"`
	StartedAt    time.Time              `json:"started_at"`
	LastRunAt    *time.Time             `json:"last_run_at,omitempty"`
	BackoffState scheduler.BackoffState `json:"backoff_state"`
}

// Liveness classifies a recorded daemon.
type Liveness int

const (
	NotRunning Liveness = iota
	Running
	Stale // state file names a pid that is no longer alive
)

func (l Liveness) String() string {
	switch l {
	case Running:
		return "running"
	case Stale:
		return "stale"
	default:
		return "not running"
	}
}

// Load reads daemon.json. A missing file returns (nil, nil).
func Load(path string) (*DaemonState, error) {
	var s DaemonState
	if err := fsutil.ReadJSON(path, &s); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read daemon state: %w", err)
	}
	return &s, nil
}

// Save atomically writes daemon.json.
func Save(path string, s *DaemonState) error {
	if err := fsutil.WriteJSONAtomic(path, s); err != nil {
		return fmt.Errorf("failed to write daemon state: %w", err)
	}
	return nil
}

// Remove deletes daemon.json; a missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove daemon state: %w", err)
	}
	return nil
}

// Inspect loads the state at path and classifies it. An unreadable state file
// is reported as stale so callers clean it up.
func Inspect(path string) (*DaemonState, Liveness) {
	s, err := Load(path)
	if err != nil {
		return nil, Stale
	}
	if s == nil {
		return nil, NotRunning
	}
	if s.PID > 0 && ProcessAlive(s.PID) {
		return s, Running
	}
	return s, Stale
}
