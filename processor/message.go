package processor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360/journeykit/delivery"
	"github.com/c360/journeykit/errors"
	"github.com/c360/journeykit/execution"
	"github.com/c360/journeykit/frequency"
	"github.com/c360/journeykit/metric"
	"github.com/c360/journeykit/pkg/clock"
	"github.com/c360/journeykit/template"
	"github.com/c360/journeykit/workflow"
)

// Message renders and sends one message per step execution. Ineligible
// recipients (suppressed, over the frequency cap) are skipped down the
// default edge without error so one bad recipient never blocks a workflow.
type Message struct {
	renderer template.Renderer
	provider delivery.Provider
	limiter  frequency.Limiter
	clock    clock.Clock
	metrics  *metric.Metrics
	logger   *slog.Logger
}

// MessageOption configures the message processor
type MessageOption func(*Message)

// WithMessageClock injects a clock for deterministic cap accounting
func WithMessageClock(c clock.Clock) MessageOption {
	return func(m *Message) { m.clock = c }
}

// WithMessageMetrics wires send counters
func WithMessageMetrics(metrics *metric.Metrics) MessageOption {
	return func(m *Message) { m.metrics = metrics }
}

// WithMessageLogger sets the structured logger
func WithMessageLogger(logger *slog.Logger) MessageOption {
	return func(m *Message) { m.logger = logger }
}

// NewMessage wires the message processor with its collaborators
func NewMessage(renderer template.Renderer, provider delivery.Provider,
	limiter frequency.Limiter, opts ...MessageOption) *Message {

	m := &Message{
		renderer: renderer,
		provider: provider,
		limiter:  limiter,
		clock:    clock.System(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Kind returns the step kind this processor handles
func (p *Message) Kind() workflow.StepKind {
	return workflow.KindMessage
}

// Process sends the configured template to the execution's contact
func (p *Message) Process(ctx context.Context, step *workflow.Step,
	exec *execution.Execution, def *workflow.Definition) (*Outcome, error) {

	return p.send(ctx, step.Message, "", step, exec, def)
}

// send is shared with the split-test processor, which supplies the chosen
// variant's message config.
func (p *Message) send(ctx context.Context, cfg *workflow.MessageConfig, variant string,
	step *workflow.Step, exec *execution.Execution, def *workflow.Definition) (*Outcome, error) {

	next, _ := defaultNext(def, step.ID)

	if exec.Contact == nil || exec.Contact.Subscription.Suppressed() {
		p.logger.Info("Skipping message for suppressed recipient",
			"execution_id", exec.ID, "step_id", step.ID, "contact_id", exec.ContactID)
		return &Outcome{
			Status:     execution.StepSkipped,
			NextStepID: next,
			Detail:     "recipient not subscribed",
		}, nil
	}

	if cap := def.Settings.FrequencyCapPerDay; cap > 0 {
		// The send key ties the slot to this (execution, step) send, so a
		// transient delivery failure retried by the engine reuses the slot
		// it already consumed instead of draining the contact's cap.
		ok, err := p.limiter.TryConsume(ctx, exec.ContactID,
			delivery.SendKey(exec.ID, step.ID), p.clock.Now(), cap)
		if err != nil {
			return nil, errors.Wrap(err, "Message", "Process", "consume frequency slot")
		}
		if !ok {
			p.logger.Info("Skipping message over frequency cap",
				"execution_id", exec.ID, "step_id", step.ID,
				"contact_id", exec.ContactID, "cap", cap)
			if p.metrics != nil {
				p.metrics.RecordMessageSent(def.ID, "capped")
			}
			return &Outcome{
				Status:     execution.StepSkipped,
				NextStepID: next,
				Detail:     fmt.Sprintf("frequency cap of %d/day reached", cap),
			}, nil
		}
	}

	content, err := p.renderer.Render(ctx, cfg.TemplateID, p.templateData(exec))
	if err != nil {
		return nil, errors.Wrap(err, "Message", "Process", "render template")
	}

	subject := content.Subject
	if cfg.Subject != "" {
		subject = cfg.Subject
	}

	receipt, err := p.provider.Send(ctx, delivery.SendRequest{
		IdempotencyKey: delivery.SendKey(exec.ID, step.ID),
		ContactID:      exec.ContactID,
		Email:          exec.Contact.Email,
		Channel:        cfg.Channel,
		Subject:        subject,
		Body:           content.Body,
		WorkflowID:     def.ID,
		ExecutionID:    exec.ID,
		StepID:         step.ID,
		Variant:        variant,
	})
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordMessageSent(def.ID, "error")
		}
		return nil, errors.Wrap(err, "Message", "Process", "deliver message")
	}

	if p.metrics != nil {
		p.metrics.RecordMessageSent(def.ID, "sent")
	}

	detail := fmt.Sprintf("sent template %s", cfg.TemplateID)
	if variant != "" {
		detail = fmt.Sprintf("sent template %s (variant %s)", cfg.TemplateID, variant)
	}
	if receipt.Duplicate {
		detail += " (duplicate suppressed by provider)"
	}

	data := map[string]any{"last_delivery_id": receipt.DeliveryID}
	if variant != "" {
		data["variant."+step.ID] = variant
	}

	return &Outcome{
		Status:     execution.StepSuccess,
		NextStepID: next,
		Detail:     detail,
		Data:       data,
	}, nil
}

func (p *Message) templateData(exec *execution.Execution) map[string]any {
	data := make(map[string]any, len(exec.Context)+4)
	for k, v := range exec.Context {
		data[k] = v
	}
	if c := exec.Contact; c != nil {
		for k, v := range c.Fields {
			data[k] = v
		}
		data["email"] = c.Email
		data["contact_id"] = c.ID
	}
	return data
}
