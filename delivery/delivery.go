// Package delivery is the narrow send interface the Message processor
// calls. The provider guarantees at-most-once delivery per idempotency
// key; the engine's key for a message step is "executionID.stepID" so a
// retried advance can never double-send.
package delivery

import (
	"context"
	"time"
)

// SendRequest is one message handed to the provider
type SendRequest struct {
	// IdempotencyKey deduplicates sends across retries.
	IdempotencyKey string

	ContactID string
	Email     string
	Channel   string // email, sms
	Subject   string
	Body      string

	// Attribution for analytics callbacks.
	WorkflowID  string
	ExecutionID string
	StepID      string
	Variant     string
}

// Receipt is the provider's acknowledgement
type Receipt struct {
	DeliveryID string
	SentAt     time.Time

	// Duplicate is true when the idempotency key was seen before and no
	// new send happened.
	Duplicate bool
}

// Provider sends messages. Send must be bounded by the context deadline; a
// timeout is a failure outcome, never a hang.
type Provider interface {
	Send(ctx context.Context, req SendRequest) (*Receipt, error)
}

// SendKey builds the engine's delivery idempotency key for a message step
func SendKey(executionID, stepID string) string {
	return executionID + "." + stepID
}
