// Package processor implements the per-kind step semantics: message sends
// with delivery idempotency, durable waits, ordered condition evaluation,
// contact actions, and deterministic split tests. Processors are pure with
// respect to the store: they compute an Outcome and the engine persists it.
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/c360/journeykit/contact"
	"github.com/c360/journeykit/errors"
	"github.com/c360/journeykit/execution"
	"github.com/c360/journeykit/workflow"
)

// Outcome is the uniform result of processing one step
type Outcome struct {
	// Status of the step for the log. Skipped still advances.
	Status execution.StepStatus

	// NextStepID is where the execution moves next. Empty means the graph
	// ends here and the execution completes.
	NextStepID string

	// WakeAt, when set, parks the execution until that time instead of
	// making it immediately due.
	WakeAt *time.Time

	// Detail is a human-readable note for the log entry.
	Detail string

	// Data merges into the execution context before the next step runs.
	Data map[string]any

	// Contact, when set, replaces the execution's contact snapshot. Set
	// by action steps after reconciling with the system of record.
	Contact *contact.Snapshot
}

// Processor handles one step kind
type Processor interface {
	Kind() workflow.StepKind
	Process(ctx context.Context, step *workflow.Step, exec *execution.Execution,
		def *workflow.Definition) (*Outcome, error)
}

// Registry maps step kinds to processors. Populated at wiring time; not
// safe for concurrent registration after startup.
type Registry struct {
	processors map[workflow.StepKind]Processor
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{processors: make(map[workflow.StepKind]Processor)}
}

// Register adds a processor for its kind, rejecting duplicates
func (r *Registry) Register(p Processor) error {
	if _, exists := r.processors[p.Kind()]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("processor for kind %q already registered", p.Kind()),
			"Registry", "Register", "add processor")
	}
	r.processors[p.Kind()] = p
	return nil
}

// Get returns the processor for a kind
func (r *Registry) Get(kind workflow.StepKind) (Processor, error) {
	p, ok := r.processors[kind]
	if !ok {
		return nil, errors.WrapFatal(
			fmt.Errorf("no processor registered for kind %q", kind),
			"Registry", "Get", "resolve processor")
	}
	return p, nil
}

// defaultNext resolves the step's default outgoing edge. ok is false for
// terminal steps.
func defaultNext(def *workflow.Definition, stepID string) (string, bool) {
	return def.NextStep(stepID, workflow.LabelDefault)
}
