// Package trigger decides whether a contact may enter a workflow. A
// rejection is a normal decision, not an error: it is logged and the
// trigger discarded.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/journeykit/contact"
	"github.com/c360/journeykit/errors"
	"github.com/c360/journeykit/execution"
	"github.com/c360/journeykit/workflow"
)

// RejectReason enumerates why the gate refused entry
type RejectReason string

const (
	ReasonWorkflowNotActive RejectReason = "workflow_not_active"
	ReasonAlreadyEnrolled   RejectReason = "already_enrolled"
	ReasonNotSubscribed     RejectReason = "not_subscribed"
	ReasonPayloadRejected   RejectReason = "payload_rejected"
)

// Decision is the gate's verdict for one trigger
type Decision struct {
	Admitted bool
	Reason   RejectReason // set when not admitted
	Detail   string
}

// Reject builds a refusal decision
func Reject(reason RejectReason, detail string) Decision {
	return Decision{Admitted: false, Reason: reason, Detail: detail}
}

// Err maps a refusal to its sentinel error, for callers that surface a
// rejection as an error instead of a logged decision. Admissions map to nil.
func (d Decision) Err() error {
	if d.Admitted {
		return nil
	}
	switch d.Reason {
	case ReasonWorkflowNotActive:
		return errors.ErrWorkflowNotActive
	case ReasonAlreadyEnrolled:
		return errors.ErrAlreadyEnrolled
	case ReasonNotSubscribed:
		return errors.ErrNotSubscribed
	default:
		return errors.ErrPayloadRejected
	}
}

// ExecutionLister is the slice of the execution store the gate needs for
// re-entry checks
type ExecutionLister interface {
	ListFor(ctx context.Context, workflowID, contactID string) ([]*execution.Execution, error)
}

// Gate applies the entry rules in order: workflow must be active, the
// contact must not exceed max executions, suppressed contacts are refused
// when the workflow respects unsubscribes, and the trigger payload must
// satisfy the declared schema.
type Gate struct {
	executions ExecutionLister
	logger     *slog.Logger
}

// GateOption configures a Gate
type GateOption func(*Gate)

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) { g.logger = logger }
}

// NewGate builds a gate over the execution store
func NewGate(executions ExecutionLister, opts ...GateOption) *Gate {
	g := &Gate{
		executions: executions,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Admit evaluates the entry rules for one (workflow, contact, payload)
// trigger. Rule order is load-bearing: status, then re-entry, then
// suppression, then payload shape.
func (g *Gate) Admit(ctx context.Context, def *workflow.Definition,
	c *contact.Snapshot, payload map[string]any) (Decision, error) {

	if def.Status != workflow.StatusActive {
		return Reject(ReasonWorkflowNotActive,
			fmt.Sprintf("workflow %s is %s", def.ID, def.Status)), nil
	}

	if def.Settings.MaxExecutionsPerContact > 0 {
		prior, err := g.executions.ListFor(ctx, def.ID, c.ID)
		if err != nil {
			return Decision{}, errors.Wrap(err, "Gate", "Admit", "list prior executions")
		}
		blocking := 0
		for _, e := range prior {
			switch e.Status {
			case execution.StatusRunning, execution.StatusCompleted, execution.StatusPaused:
				blocking++
			}
		}
		if blocking >= def.Settings.MaxExecutionsPerContact {
			return Reject(ReasonAlreadyEnrolled,
				fmt.Sprintf("contact %s has %d prior executions", c.ID, blocking)), nil
		}
	}

	if def.Settings.RespectUnsubscribes && c.Subscription.Suppressed() {
		return Reject(ReasonNotSubscribed,
			fmt.Sprintf("contact %s is %s", c.ID, c.Subscription)), nil
	}

	if len(def.Trigger.PayloadSchema) > 0 {
		if err := validatePayload(def.Trigger.PayloadSchema, payload); err != nil {
			return Reject(ReasonPayloadRejected, err.Error()), nil
		}
	}

	g.logger.Debug("Trigger admitted",
		"workflow_id", def.ID, "contact_id", c.ID, "event", def.Trigger.Event)
	return Decision{Admitted: true}, nil
}

func validatePayload(schema json.RawMessage, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewGoLoader(payload),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrPayloadRejected, err)
	}
	if !result.Valid() {
		detail := ""
		for i, desc := range result.Errors() {
			if i > 0 {
				detail += "; "
			}
			detail += desc.String()
		}
		return fmt.Errorf("%w: %s", errors.ErrPayloadRejected, detail)
	}
	return nil
}
