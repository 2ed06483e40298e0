// Package scheduler decides when the background daemon reindexes.
//
// Scheduler is a clock-free state machine: every method takes the current
// time, so the daemon drives it from real timers and tests drive it from a
// synthetic clock.
package scheduler

import (
	"sort"
	"time"
)

// State is the scheduler phase.
type State int

const (
	Idle State = iota
	Debouncing
	Reindexing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Debouncing:
		return "debouncing"
	case Reindexing:
		return "reindexing"
	default:
		return "unknown"
	}
}

// Trigger explains why a batch was released.
type Trigger string

const (
	TriggerQuiet    Trigger = "quiet"     // debounce elapsed and min-interval satisfied
	TriggerMaxDelay Trigger = "max_delay" // max-batch-delay ceiling reached
)

// Batch is a set of pending paths handed to the indexer.
type Batch struct {
	Paths   []string // sorted, workspace-relative
	Rescan  bool     // run a full detection instead of a hinted one
	Bulk    bool
	Trigger Trigger
}

// BackoffState is the adaptive state persisted alongside the daemon record.
type BackoffState struct {
	LastDuration        time.Duration `json:"last_duration"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Debounce            time.Duration `json:"effective_debounce"`
	MinInterval         time.Duration `json:"effective_min_interval"`
}

// Scheduler accumulates change events and releases them in batches.
// It is not safe for concurrent use.
type Scheduler struct {
	policy Policy
	state  State

	pending    map[string]struct{}
	rescan     bool
	firstEvent time.Time
	lastEvent  time.Time

	lastRun      time.Time
	lastDuration time.Duration
	failures     int

	inflight       []string
	inflightRescan bool
}

// New creates a scheduler. Startup counts as the most recent run, so the
// first background batch honors the min-interval after an initial build.
func New(p Policy, now time.Time) *Scheduler {
	return &Scheduler{
		policy:  p.normalized(),
		pending: make(map[string]struct{}),
		lastRun: now,
	}
}

// Restore seeds adaptive state recorded by a previous daemon.
func (s *Scheduler) Restore(b BackoffState) {
	if b.LastDuration > 0 {
		s.lastDuration = b.LastDuration
	}
	if b.ConsecutiveFailures > 0 {
		s.failures = b.ConsecutiveFailures
	}
}

// Policy returns the configured policy.
func (s *Scheduler) Policy() Policy { return s.policy }

// State returns the current phase.
func (s *Scheduler) State() State { return s.state }

// Pending returns the number of distinct pending paths.
func (s *Scheduler) Pending() int { return len(s.pending) }

// Observe records a change to path. Every call restarts the debounce window;
// the return value reports whether path was not already pending.
func (s *Scheduler) Observe(now time.Time, path string) bool {
	_, seen := s.pending[path]
	if !seen {
		s.pending[path] = struct{}{}
	}
	s.touch(now)
	return !seen
}

// ObserveRescan asks for the next batch to run a full detection, used when
// ignore rules change.
func (s *Scheduler) ObserveRescan(now time.Time) {
	s.rescan = true
	s.touch(now)
}

func (s *Scheduler) touch(now time.Time) {
	if s.firstEvent.IsZero() {
		s.firstEvent = now
	}
	s.lastEvent = now
	if s.state == Idle {
		s.state = Debouncing
	}
}

func (s *Scheduler) hasWork() bool {
	return len(s.pending) > 0 || s.rescan
}

// Debounce is the quiet period currently in effect.
func (s *Scheduler) Debounce() time.Duration {
	return s.policy.EffectiveDebounce(len(s.pending), s.lastDuration)
}

// MinInterval is the run spacing currently in effect, including failure backoff.
func (s *Scheduler) MinInterval() time.Duration {
	return s.policy.EffectiveMinInterval(s.lastDuration) + s.policy.FailureBackoff(s.failures)
}

func (s *Scheduler) ceiling() time.Time {
	return s.firstEvent.Add(s.policy.MaxBatchDelay)
}

// Due reports whether a batch should be released at now.
func (s *Scheduler) Due(now time.Time) bool {
	_, ok := s.trigger(now)
	return ok
}

func (s *Scheduler) trigger(now time.Time) (Trigger, bool) {
	if s.state != Debouncing || !s.hasWork() {
		return "", false
	}
	if !now.Before(s.ceiling()) {
		return TriggerMaxDelay, true
	}
	quiet := !now.Before(s.lastEvent.Add(s.Debounce()))
	spaced := !now.Before(s.lastRun.Add(s.MinInterval()))
	if quiet && spaced {
		return TriggerQuiet, true
	}
	return "", false
}

// Deadline returns the earliest time at which Due can become true without
// further events. ok is false when nothing is pending or a run is in flight.
func (s *Scheduler) Deadline(now time.Time) (deadline time.Time, ok bool) {
	if s.state != Debouncing || !s.hasWork() {
		return time.Time{}, false
	}
	quiet := s.lastEvent.Add(s.Debounce())
	spaced := s.lastRun.Add(s.MinInterval())
	t := quiet
	if spaced.After(t) {
		t = spaced
	}
	if c := s.ceiling(); c.Before(t) {
		t = c
	}
	if t.Before(now) {
		t = now
	}
	return t, true
}

// Take releases the pending set and enters Reindexing. indexed is the size
// of the current manifest, used for the bulk decision. Take returns false
// when no batch is due.
func (s *Scheduler) Take(now time.Time, indexed int) (Batch, bool) {
	trig, ok := s.trigger(now)
	if !ok {
		return Batch{}, false
	}
	paths := make([]string, 0, len(s.pending))
	for p := range s.pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	b := Batch{
		Paths:   paths,
		Rescan:  s.rescan,
		Bulk:    s.rescan || IsBulk(len(paths), indexed),
		Trigger: trig,
	}

	s.inflight = paths
	s.inflightRescan = s.rescan
	s.pending = make(map[string]struct{})
	s.rescan = false
	s.firstEvent = time.Time{}
	s.lastEvent = time.Time{}
	s.state = Reindexing
	return b, true
}

// Finish completes the in-flight batch. A failed batch is put back into the
// pending set and increases the failure backoff; events observed during the
// run stay pending either way.
func (s *Scheduler) Finish(now time.Time, took time.Duration, err error) {
	if s.state != Reindexing {
		return
	}
	if err != nil {
		s.failures++
		s.requeue(now)
	} else {
		s.failures = 0
		s.lastDuration = took
	}
	s.inflight = nil
	s.inflightRescan = false
	s.lastRun = now
	s.settle()
}

// Requeue returns the in-flight batch to the pending set without counting a
// failure, as when another process holds the build lock. The batch waits a
// fresh debounce period before it is due again.
func (s *Scheduler) Requeue(now time.Time) {
	if s.state != Reindexing {
		return
	}
	s.requeue(now)
	s.inflight = nil
	s.inflightRescan = false
	s.settle()
}

func (s *Scheduler) requeue(now time.Time) {
	for _, p := range s.inflight {
		s.pending[p] = struct{}{}
	}
	if s.inflightRescan {
		s.rescan = true
	}
	if s.hasWork() {
		if s.firstEvent.IsZero() {
			s.firstEvent = now
		}
		s.lastEvent = now
	}
}

func (s *Scheduler) settle() {
	if s.hasWork() {
		s.state = Debouncing
	} else {
		s.state = Idle
	}
}

// Backoff snapshots the adaptive state for persistence.
func (s *Scheduler) Backoff() BackoffState {
	return BackoffState{
		LastDuration:        s.lastDuration,
		ConsecutiveFailures: s.failures,
		Debounce:            s.Debounce(),
		MinInterval:         s.MinInterval(),
	}
}
