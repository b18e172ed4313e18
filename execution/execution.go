// Package execution defines one contact's live run through a workflow: its
// current position, an append-only log of step outcomes, and the context
// carried between steps. State lives in the execution store; this package
// is pure data.
package execution

import (
	"time"

	"github.com/c360/journeykit/contact"
)

// Status is the execution lifecycle state
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPaused    Status = "paused"
	StatusExited    Status = "exited"
)

// Terminal reports whether no further advancement is possible
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExited
}

// StepStatus is the outcome of one step recorded in the log
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailure StepStatus = "failure"
	StepSkipped StepStatus = "skipped"
)

// LogEntry is one append-only record of a step outcome. IdempotencyKey
// deduplicates retried advances: re-appending an entry with a key already
// present in the log is a no-op.
type LogEntry struct {
	StepID         string     `json:"step_id"`
	StepKind       string     `json:"step_kind"`
	Status         StepStatus `json:"status"`
	Detail         string     `json:"detail,omitempty"`
	IdempotencyKey string     `json:"idempotency_key"`
	At             time.Time  `json:"at"`
}

// Execution is one contact's run through a pinned workflow version
type Execution struct {
	ID              string `json:"id"`
	WorkflowID      string `json:"workflow_id"`
	WorkflowVersion int    `json:"workflow_version"`
	ContactID       string `json:"contact_id"`
	Status          Status `json:"status"`
	CurrentStepID   string `json:"current_step_id"`

	// NextRunAt is when the execution becomes due. Create sets it to now;
	// Park pushes it into the future. Meaningless once terminal.
	NextRunAt time.Time `json:"next_run_at"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// ClaimedBy serializes mutation: while set (and fresh) only the owning
	// worker may advance this execution.
	ClaimedBy string     `json:"claimed_by,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`

	// Contact is the mutable snapshot used during the run. Action steps
	// update it in lockstep with the system of record.
	Contact *contact.Snapshot `json:"contact,omitempty"`

	// Context carries the trigger payload and step-to-step data.
	Context map[string]any `json:"context,omitempty"`

	Log []LogEntry `json:"log"`
}

// HasLogEntry reports whether an entry with the idempotency key was already
// appended
func (e *Execution) HasLogEntry(idempotencyKey string) bool {
	for _, entry := range e.Log {
		if entry.IdempotencyKey == idempotencyKey {
			return true
		}
	}
	return false
}

// Due reports whether the execution is ready for processing at now
func (e *Execution) Due(now time.Time) bool {
	return e.Status == StatusRunning && !e.NextRunAt.After(now)
}

// Claimed reports whether a claim is held and still fresh at now. Claims
// older than ttl are treated as abandoned by a crashed worker.
func (e *Execution) Claimed(now time.Time, ttl time.Duration) bool {
	if e.ClaimedBy == "" || e.ClaimedAt == nil {
		return false
	}
	return now.Sub(*e.ClaimedAt) < ttl
}
