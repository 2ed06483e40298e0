package status

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mvp-joe/cortex-index/internal/daemon/state"
	"github.com/mvp-joe/cortex-index/internal/fsutil"
	"github.com/mvp-joe/cortex-index/internal/manifest"
	"github.com/mvp-joe/cortex-index/internal/workspace"
)

const staleMessage = "index process is not running"

// Read returns the reconciled status of a workspace. A missing file yields
// an idle record. An in-progress record whose writer died is rewritten as
// interrupted. The daemon section always reflects daemon.json.
func Read(layout workspace.Layout) (Record, error) {
	now := time.Now().UTC()

	prev, err := load(layout.StatusPath())
	if err != nil {
		return Record{}, fmt.Errorf("failed to read status: %w", err)
	}
	rec := idleRecord(now)
	if prev != nil {
		rec = *prev
	}

	if _, err := layout.CurrentGeneration(); err != nil {
		return Record{}, err
	}
	gen := setReadiness(&rec, layout)
	if prev == nil {
		rec.Generation = gen
	}

	if recoverStale(&rec, now) {
		if err := fsutil.WriteJSONAtomic(layout.StatusPath(), rec); err != nil {
			return Record{}, fmt.Errorf("failed to write recovered status: %w", err)
		}
	}

	rec.Daemon = daemonView(layout)
	return rec, nil
}

// setReadiness derives basic_ready and full_ready from what is committed, not
// from the last build's outcome. basic_ready needs CURRENT to name a
// generation; full_ready also needs that generation's manifest. It returns
// the committed generation id.
func setReadiness(rec *Record, layout workspace.Layout) string {
	gen, err := layout.CurrentGeneration()
	if err != nil || gen == "" {
		rec.BasicReady, rec.FullReady = false, false
		return ""
	}
	rec.BasicReady = true
	_, err = os.Stat(filepath.Join(workspace.ManifestDir(layout.GenerationDir(gen)), manifest.FileName))
	rec.FullReady = err == nil
	return gen
}

// recoverStale rewrites a record whose writer is gone. It reports whether rec changed.
func recoverStale(rec *Record, now time.Time) bool {
	if !rec.Phase.InProgress() {
		return false
	}
	if rec.PID != nil && state.ProcessAlive(*rec.PID) {
		return false
	}
	rec.Phase = PhaseInterrupted
	rec.PID = nil
	rec.UpdatedAt = now
	rec.Message = staleMessage
	return true
}

func daemonView(layout workspace.Layout) Daemon {
	s, l := state.Inspect(layout.DaemonStatePath())
	d := Daemon{Running: l == state.Running, Stale: l == state.Stale}
	if s != nil && s.PID > 0 {
		pid := s.PID
		d.PID = &pid
	}
	return d
}
