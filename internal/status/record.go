// Package status publishes build progress to status.json so other processes
// can report on an index without taking the build lock.
package status

import (
	"time"
)

// SchemaVersion is written into every record.
const SchemaVersion = "1"

// Phase is the lifecycle stage of a build.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseStarting    Phase = "starting"
	PhaseReusing     Phase = "reusing"
	PhaseScanning    Phase = "scanning"
	PhaseIndexing    Phase = "indexing"
	PhaseCommitting  Phase = "committing"
	PhaseComplete    Phase = "complete"
	PhaseFailed      Phase = "failed"
	PhaseInterrupted Phase = "interrupted"
)

// InProgress reports whether p is a phase written while a builder is running.
func (p Phase) InProgress() bool {
	switch p {
	case PhaseStarting, PhaseReusing, PhaseScanning, PhaseIndexing, PhaseCommitting:
		return true
	}
	return false
}

// Progress counts paths of the current diff.
type Progress struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Daemon is the reconciled view of the background daemon.
type Daemon struct {
	Running bool `json:"running"`
	Stale   bool `json:"stale"`
	PID     *int `json:"pid"`
}

// Reuse describes the snapshot reuse decision of the current build.
type Reuse struct {
	Decision string `json:"decision"`
	Source   string `json:"source,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Record is the content of status.json.
type Record struct {
	SchemaVersion string    `json:"schema_version"`
	BuildID       string    `json:"build_id,omitempty"`
	Phase         Phase     `json:"phase"`
	Background    bool      `json:"background"`
	BasicReady    bool      `json:"basic_ready"`
	FullReady     bool      `json:"full_ready"`
	Progress      Progress  `json:"progress"`
	Daemon        Daemon    `json:"daemon"`
	Reuse         *Reuse    `json:"reuse,omitempty"`
	PID           *int      `json:"pid,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Message       string    `json:"message,omitempty"`
	Generation    string    `json:"generation,omitempty"`
}

func idleRecord(now time.Time) Record {
	return Record{
		SchemaVersion: SchemaVersion,
		Phase:         PhaseIdle,
		StartedAt:     now,
		UpdatedAt:     now,
	}
}
