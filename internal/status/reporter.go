package status

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/mvp-joe/cortex-index/internal/fsutil"
	"github.com/mvp-joe/cortex-index/internal/workspace"
)

// progressInterval throttles status.json rewrites during indexing.
const progressInterval = 250 * time.Millisecond

// Reporter owns status.json for the duration of one build. Every write
// replaces the file atomically. Write failures are logged, never returned:
// a build does not fail because its status could not be published.
type Reporter struct {
	layout workspace.Layout
	log    zerolog.Logger

	mu        sync.Mutex
	rec       Record
	throttle  rate.Sometimes
	now       func() time.Time
	lastWrite error
}

// NewReporter starts a reporter for build id.
func NewReporter(layout workspace.Layout, buildID string, background bool, log zerolog.Logger) *Reporter {
	r := &Reporter{
		layout:   layout,
		log:      log,
		throttle: rate.Sometimes{Interval: progressInterval},
		now:      time.Now,
	}
	now := r.now().UTC()
	r.rec = idleRecord(now)
	r.rec.BuildID = buildID
	r.rec.Background = background
	return r
}

// Start marks the build as started by this process.
func (r *Reporter) Start(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pid := os.Getpid()
	now := r.now().UTC()
	r.rec.Phase = PhaseStarting
	r.rec.PID = &pid
	r.rec.StartedAt = now
	r.rec.Progress = Progress{}
	r.rec.Message = message
	r.writeLocked()
}

// Phase moves to p.
func (r *Reporter) Phase(p Phase, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rec.Phase = p
	r.rec.Message = message
	r.writeLocked()
}

// SetTotal records the number of paths in the diff.
func (r *Reporter) SetTotal(total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rec.Progress = Progress{Total: total}
	r.writeLocked()
}

// Progress updates the counters. Writes are throttled; the final counts are
// always flushed by the terminal phase.
func (r *Reporter) Progress(processed, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rec.Progress.Processed = min(processed, r.rec.Progress.Total)
	r.rec.Progress.Failed = failed
	r.throttle.Do(r.writeLocked)
}

// SetReuse attaches the reuse decision.
func (r *Reporter) SetReuse(decision, source, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rec.Reuse = &Reuse{Decision: decision, Source: source, Reason: reason}
	r.writeLocked()
}

// Complete marks the build as finished on top of generation.
func (r *Reporter) Complete(generation, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rec.Phase = PhaseComplete
	r.rec.Generation = generation
	r.rec.PID = nil
	r.rec.Message = message
	r.writeLocked()
}

// Fail records a failed build. Readiness keeps following the committed
// generation, which a failed build never touches.
func (r *Reporter) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rec.Phase = PhaseFailed
	r.rec.PID = nil
	r.rec.Message = err.Error()
	r.writeLocked()
}

// Interrupt records a cancelled build. The committed generation, if any,
// is untouched.
func (r *Reporter) Interrupt(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rec.Phase = PhaseInterrupted
	r.rec.PID = nil
	r.rec.Message = message
	r.writeLocked()
}

// snapshot returns a copy of the in-memory record.
func (r *Reporter) snapshot() Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec
}

// writeErr returns the most recent write error, if any.
func (r *Reporter) writeErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastWrite
}

func (r *Reporter) writeLocked() {
	r.rec.UpdatedAt = r.now().UTC()
	gen := setReadiness(&r.rec, r.layout)
	if r.rec.Generation == "" {
		r.rec.Generation = gen
	}
	if err := r.layout.Ensure(); err != nil {
		r.lastWrite = err
		r.log.Warn().Err(err).Msg("status write skipped")
		return
	}
	if err := fsutil.WriteJSONAtomic(r.layout.StatusPath(), r.rec); err != nil {
		r.lastWrite = fmt.Errorf("failed to write status: %w", err)
		r.log.Warn().Err(err).Msg("status write failed")
		return
	}
	r.lastWrite = nil
}

func load(path string) (*Record, error) {
	var rec Record
	if err := fsutil.ReadJSON(path, &rec); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}
