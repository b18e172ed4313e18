// Package workflow defines the workflow graph model: a directed set of
// steps joined by labeled connections, plus the trigger and settings that
// govern entry. Published definitions are immutable; content edits create a
// new version so a running execution always resolves step IDs against the
// exact version it started with.
package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/journeykit/errors"
)

// Status is the workflow lifecycle state
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusArchived Status = "archived"
)

// CanTransition reports whether a status change is allowed. Archived is
// terminal. Pausing and resuming toggle active ⇄ paused.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusDraft:
		return to == StatusActive || to == StatusArchived
	case StatusActive:
		return to == StatusPaused || to == StatusArchived
	case StatusPaused:
		return to == StatusActive || to == StatusArchived
	default:
		return false
	}
}

// TriggerSpec declares the event that enrolls contacts. PayloadSchema, when
// set, is a JSON Schema the trigger payload must satisfy at the gate.
type TriggerSpec struct {
	Event         string          `json:"event"`
	PayloadSchema json.RawMessage `json:"payload_schema,omitempty"`
}

// Settings holds per-workflow entry and delivery policy
type Settings struct {
	// MaxExecutionsPerContact of 1 rejects re-entry for contacts with a
	// running or completed execution. 0 means unlimited.
	MaxExecutionsPerContact int `json:"max_executions_per_contact"`

	// RespectUnsubscribes rejects entry for suppressed contacts.
	RespectUnsubscribes bool `json:"respect_unsubscribes"`

	// FrequencyCapPerDay limits messages per contact per day. 0 disables
	// the cap.
	FrequencyCapPerDay int `json:"frequency_cap_per_day"`

	// AllowConcurrentRuns permits more than one running execution per
	// contact for this workflow.
	AllowConcurrentRuns bool `json:"allow_concurrent_runs,omitempty"`

	TrackOpens  bool `json:"track_opens"`
	TrackClicks bool `json:"track_clicks"`
}

// Connection is a directed labeled edge between two steps
type Connection struct {
	SourceStepID string `json:"source_step_id"`
	TargetStepID string `json:"target_step_id"`
	Label        string `json:"label,omitempty"` // defaults to LabelDefault
}

// Definition is one immutable version of a workflow graph
type Definition struct {
	ID          string       `json:"id"`
	OwnerID     string       `json:"owner_id"`
	Name        string       `json:"name"`
	Version     int          `json:"version"`
	Status      Status       `json:"status"`
	Trigger     TriggerSpec  `json:"trigger"`
	Steps       []Step       `json:"steps"`
	Connections []Connection `json:"connections,omitempty"`
	Settings    Settings     `json:"settings"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Validate checks structural integrity: non-empty step list, unique step
// IDs, well-formed per-kind configs, no dangling connections, and exactly
// one entry step. Called at definition save time so execution never sees a
// malformed graph.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return errors.WrapInvalid(
			fmt.Errorf("definition requires an id"),
			"Definition", "Validate", "check identity")
	}
	if len(d.Steps) == 0 {
		return errors.WrapInvalid(errors.ErrEmptyDefinition,
			"Definition", "Validate", "check steps")
	}

	stepIDs := make(map[string]bool, len(d.Steps))
	for i := range d.Steps {
		step := &d.Steps[i]
		if err := step.Validate(); err != nil {
			return errors.WrapInvalid(err, "Definition", "Validate", "check step config")
		}
		if stepIDs[step.ID] {
			return errors.WrapInvalid(
				fmt.Errorf("duplicate step id %q", step.ID),
				"Definition", "Validate", "check step ids")
		}
		stepIDs[step.ID] = true
	}

	hasIncoming := make(map[string]bool, len(d.Steps))
	for _, conn := range d.Connections {
		if !stepIDs[conn.SourceStepID] {
			return errors.WrapInvalid(
				fmt.Errorf("%w: source %q", errors.ErrDanglingEdge, conn.SourceStepID),
				"Definition", "Validate", "check connections")
		}
		if !stepIDs[conn.TargetStepID] {
			return errors.WrapInvalid(
				fmt.Errorf("%w: target %q", errors.ErrDanglingEdge, conn.TargetStepID),
				"Definition", "Validate", "check connections")
		}
		hasIncoming[conn.TargetStepID] = true
	}

	entries := 0
	for _, step := range d.Steps {
		if !hasIncoming[step.ID] {
			entries++
		}
	}
	switch {
	case entries == 0:
		return errors.WrapInvalid(errors.ErrNoEntryStep,
			"Definition", "Validate", "check entry step")
	case entries > 1:
		return errors.WrapInvalid(
			fmt.Errorf("%w: found %d", errors.ErrMultipleEntries, entries),
			"Definition", "Validate", "check entry step")
	}

	return nil
}

// EntryStep returns the unique step with no incoming connection. Assumes
// the definition passed Validate.
func (d *Definition) EntryStep() (*Step, error) {
	hasIncoming := make(map[string]bool, len(d.Steps))
	for _, conn := range d.Connections {
		hasIncoming[conn.TargetStepID] = true
	}
	for i := range d.Steps {
		if !hasIncoming[d.Steps[i].ID] {
			return &d.Steps[i], nil
		}
	}
	return nil, errors.ErrNoEntryStep
}

// StepByID looks up a step in this version
func (d *Definition) StepByID(stepID string) (*Step, error) {
	for i := range d.Steps {
		if d.Steps[i].ID == stepID {
			return &d.Steps[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", errors.ErrStepNotFound, stepID)
}

// NextStep resolves the outgoing connection with the given label. An empty
// connection label matches LabelDefault.
func (d *Definition) NextStep(stepID, label string) (string, bool) {
	for _, conn := range d.Connections {
		if conn.SourceStepID != stepID {
			continue
		}
		l := conn.Label
		if l == "" {
			l = LabelDefault
		}
		if l == label {
			return conn.TargetStepID, true
		}
	}
	return "", false
}

// VersionKey is the storage key for one immutable version of a workflow
func VersionKey(workflowID string, version int) string {
	return fmt.Sprintf("%s.v%d", workflowID, version)
}
