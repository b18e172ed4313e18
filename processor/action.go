package processor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360/journeykit/contact"
	"github.com/c360/journeykit/delivery"
	"github.com/c360/journeykit/errors"
	"github.com/c360/journeykit/execution"
	"github.com/c360/journeykit/workflow"
)

// Action mutates the contact through the capability interface or calls a
// webhook. Contact changes reconcile with the system of record before the
// execution advances, so downstream steps never read a stale snapshot.
type Action struct {
	contacts contact.Store
	webhooks *delivery.Caller
	logger   *slog.Logger
}

// NewAction wires the action processor. webhooks may be nil when no
// workflow uses webhook actions.
func NewAction(contacts contact.Store, webhooks *delivery.Caller, logger *slog.Logger) *Action {
	if logger == nil {
		logger = slog.Default()
	}
	return &Action{contacts: contacts, webhooks: webhooks, logger: logger}
}

// Kind returns the step kind this processor handles
func (p *Action) Kind() workflow.StepKind {
	return workflow.KindAction
}

// Process applies the configured action
func (p *Action) Process(ctx context.Context, step *workflow.Step,
	exec *execution.Execution, def *workflow.Definition) (*Outcome, error) {

	next, _ := defaultNext(def, step.ID)
	cfg := step.Action

	switch cfg.Type {
	case workflow.ActionAddTag, workflow.ActionRemoveTag, workflow.ActionUpdateField:
		return p.mutateContact(ctx, cfg, next, step, exec)
	case workflow.ActionWebhook:
		return p.callWebhook(ctx, cfg, next, step, exec, def)
	default:
		return nil, errors.WrapFatal(
			fmt.Errorf("unknown action type %q", cfg.Type),
			"Action", "Process", "dispatch action")
	}
}

func (p *Action) mutateContact(ctx context.Context, cfg *workflow.ActionConfig,
	next string, step *workflow.Step, exec *execution.Execution) (*Outcome, error) {

	m := contact.Mutation{
		Kind:  contact.MutationKind(cfg.Type),
		Tag:   cfg.Tag,
		Field: cfg.Field,
		Value: cfg.Value,
	}

	updated, err := p.contacts.ApplyMutation(ctx, exec.ContactID, m)
	if err != nil {
		return nil, errors.Wrap(err, "Action", "Process", "reconcile contact mutation")
	}

	p.logger.Debug("Contact mutated",
		"execution_id", exec.ID, "step_id", step.ID,
		"contact_id", exec.ContactID, "mutation", string(m.Kind))

	return &Outcome{
		Status:     execution.StepSuccess,
		NextStepID: next,
		Detail:     describeMutation(cfg),
		Contact:    updated,
	}, nil
}

func (p *Action) callWebhook(ctx context.Context, cfg *workflow.ActionConfig,
	next string, step *workflow.Step, exec *execution.Execution,
	def *workflow.Definition) (*Outcome, error) {

	if p.webhooks == nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("webhook action configured but no caller wired"),
			"Action", "Process", "call webhook")
	}

	payload := map[string]any{
		"workflow_id":  def.ID,
		"execution_id": exec.ID,
		"step_id":      step.ID,
		"contact_id":   exec.ContactID,
		"context":      exec.Context,
	}
	if err := p.webhooks.Call(ctx, cfg.WebhookURL, payload); err != nil {
		return nil, errors.Wrap(err, "Action", "Process", "call webhook")
	}

	return &Outcome{
		Status:     execution.StepSuccess,
		NextStepID: next,
		Detail:     fmt.Sprintf("webhook %s called", cfg.WebhookURL),
	}, nil
}

func describeMutation(cfg *workflow.ActionConfig) string {
	switch cfg.Type {
	case workflow.ActionAddTag:
		return fmt.Sprintf("added tag %q", cfg.Tag)
	case workflow.ActionRemoveTag:
		return fmt.Sprintf("removed tag %q", cfg.Tag)
	default:
		return fmt.Sprintf("updated field %q", cfg.Field)
	}
}
