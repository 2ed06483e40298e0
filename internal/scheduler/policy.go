package scheduler

import "time"

const (
	// DefaultDebounce is the quiet period after the last event before a batch runs.
	DefaultDebounce = 15 * time.Second
	// DefaultMinInterval is the minimum spacing between two reindex runs.
	DefaultMinInterval = 180 * time.Second
	// DefaultMaxBatchDelay bounds how long a pending change may wait.
	DefaultMaxBatchDelay = 180 * time.Second

	maxAdaptiveDebounce    = 120 * time.Second
	maxAdaptiveMinInterval = 600 * time.Second
	maxFailureBackoff      = 10 * time.Minute

	// BulkFloor and BulkCeiling clamp the bulk-mode threshold.
	BulkFloor   = 1500
	BulkCeiling = 12000
)

// Policy holds the configured timing knobs.
type Policy struct {
	Debounce      time.Duration
	MinInterval   time.Duration
	MaxBatchDelay time.Duration
	Adaptive      bool
}

// DefaultPolicy returns the stock timings with adaptation enabled.
func DefaultPolicy() Policy {
	return Policy{
		Debounce:      DefaultDebounce,
		MinInterval:   DefaultMinInterval,
		MaxBatchDelay: DefaultMaxBatchDelay,
		Adaptive:      true,
	}
}

func (p Policy) normalized() Policy {
	if p.Debounce <= 0 {
		p.Debounce = DefaultDebounce
	}
	if p.MinInterval < 0 {
		p.MinInterval = 0
	}
	if p.MaxBatchDelay <= 0 {
		p.MaxBatchDelay = DefaultMaxBatchDelay
	}
	return p
}

// EffectiveDebounce widens the base debounce for large pending sets and for
// recently expensive runs.
func (p Policy) EffectiveDebounce(pending int, lastDuration time.Duration) time.Duration {
	if !p.Adaptive {
		return p.Debounce
	}
	d := p.Debounce
	switch {
	case pending >= 1000:
		d = max(d, 30*time.Second)
	case pending >= 200:
		d = max(d, 15*time.Second)
	}
	if lastDuration > 0 {
		d = max(d, scale(lastDuration, 1.25, maxAdaptiveDebounce))
	}
	return d
}

// EffectiveMinInterval spaces runs at least twice the last run's duration apart.
func (p Policy) EffectiveMinInterval(lastDuration time.Duration) time.Duration {
	if !p.Adaptive || lastDuration <= 0 {
		return p.MinInterval
	}
	return max(p.MinInterval, scale(lastDuration, 2, maxAdaptiveMinInterval))
}

// FailureBackoff is the extra delay after n consecutive failed runs.
func (p Policy) FailureBackoff(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := p.Debounce
	for i := 1; i < failures && d < maxFailureBackoff; i++ {
		d *= 2
	}
	return min(d, maxFailureBackoff)
}

// BulkThreshold returns clamp(indexed/4, BulkFloor, BulkCeiling).
func BulkThreshold(indexed int) int {
	return min(max(indexed/4, BulkFloor), BulkCeiling)
}

// IsBulk reports whether a batch of pending paths should use the bulk path.
func IsBulk(pending, indexed int) bool {
	return pending >= BulkThreshold(indexed)
}

func scale(d time.Duration, factor float64, ceiling time.Duration) time.Duration {
	return min(time.Duration(float64(d)*factor), ceiling)
}
