// Package reuse restores index state from a machine-wide snapshot cache and
// writes completed builds back into it.
//
// Snapshots live under <cache_root>/<repo_key>/<snapshot_key>/ and are
// never modified once published. A restored snapshot is only a starting
// point: its manifest passes a safety gate against the working tree before
// any entry is trusted.
package reuse

import (
	"fmt"
	"strings"
)

// Mode selects how snapshots are looked up.
type Mode string

const (
	ModeOff    Mode = "off"
	ModeStrict Mode = "strict" // exact snapshot key only
	ModeAuto   Mode = "auto"   // best-scoring compatible snapshot
)

// ParseMode parses a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeOff, "":
		return ModeOff, nil
	case ModeStrict:
		return ModeStrict, nil
	case ModeAuto:
		return ModeAuto, nil
	}
	return "", fmt.Errorf("unknown reuse mode %q: expected off, strict or auto", s)
}

// Decision is the outcome class of a reuse attempt.
type Decision string

const (
	DecisionOff      Decision = "off"
	DecisionHit      Decision = "hit"
	DecisionMiss     Decision = "miss"
	DecisionFallback Decision = "fallback" // a snapshot was found but could not be used
)

// Reasons recorded for misses and fallbacks.
const (
	ReasonCacheRootUnavailable    = "cache_root_unavailable"
	ReasonStrictSnapshotMissing   = "strict_snapshot_missing"
	ReasonAutoSnapshotMissing     = "auto_snapshot_missing"
	ReasonSnapshotMetadataCorrupt = "snapshot_metadata_corrupt"
	ReasonSnapshotIncompatible    = "snapshot_incompatible"
	ReasonSnapshotCorrupt         = "snapshot_corrupt"
)

// Outcome describes one reuse attempt.
type Outcome struct {
	Mode        Mode
	Decision    Decision
	Source      string // snapshot directory for hits and fallbacks
	RepoKey     string
	SnapshotKey string
	Reason      string
}

// Active reports whether a snapshot is being used.
func (o Outcome) Active() bool { return o.Decision == DecisionHit }

func off() Outcome { return Outcome{Mode: ModeOff, Decision: DecisionOff} }

func miss(mode Mode, repoKey, reason string) Outcome {
	return Outcome{Mode: mode, Decision: DecisionMiss, RepoKey: repoKey, Reason: reason}
}

func fallback(mode Mode, repoKey, snapshotKey, source, reason string) Outcome {
	return Outcome{
		Mode:        mode,
		Decision:    DecisionFallback,
		Source:      source,
		RepoKey:     repoKey,
		SnapshotKey: snapshotKey,
		Reason:      reason,
	}
}
