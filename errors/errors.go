// Package errors provides standardized error handling for JourneyKit
// components. It classifies errors into transient, invalid, and fatal
// categories so the engine can decide between retrying a step, rejecting a
// definition, and terminating an execution.
package errors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/c360/journeykit/pkg/retry"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	// (collaborator timeouts, KV conflicts, broker unavailability)
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	// (malformed definitions, rejected entries, bad step config)
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that terminate the
	// affected execution (missing branch, exhausted retries, corrupt state)
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Definition errors
	ErrEmptyDefinition   = errors.New("workflow has no steps")
	ErrNoEntryStep       = errors.New("workflow has no entry step")
	ErrMultipleEntries   = errors.New("workflow has multiple entry steps")
	ErrDanglingEdge      = errors.New("connection targets unknown step")
	ErrStepNotFound      = errors.New("step not found in definition")
	ErrVersionNotFound   = errors.New("workflow version not found")
	ErrInvalidTransition = errors.New("invalid workflow status transition")

	// Entry admission errors
	ErrWorkflowNotActive = errors.New("workflow is not active")
	ErrAlreadyEnrolled   = errors.New("contact already has an execution for this workflow")
	ErrNotSubscribed     = errors.New("contact is not subscribed")
	ErrPayloadRejected   = errors.New("trigger payload failed schema validation")

	// Execution errors
	ErrExecutionNotFound = errors.New("execution not found")
	ErrExecutionClaimed  = errors.New("execution claimed by another worker")
	ErrExecutionFinished = errors.New("execution already reached a terminal status")
	ErrMissingBranch     = errors.New("no outgoing connection for branch result")

	// Collaborator errors
	ErrContactNotFound    = errors.New("contact not found")
	ErrTemplateNotFound   = errors.New("template not found")
	ErrDeliveryTimeout    = errors.New("delivery provider timed out")
	ErrDeliveryRejected   = errors.New("delivery provider rejected message")
	ErrMutationConflict   = errors.New("contact mutation conflicted with concurrent change")
	ErrWebhookUnreachable = errors.New("webhook endpoint unreachable")

	// Storage errors
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrRevisionConflict = errors.New("revision conflict (concurrent update)")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	return errors.Is(err, ErrDeliveryTimeout) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrRevisionConflict) ||
		errors.Is(err, ErrMutationConflict) ||
		errors.Is(err, ErrWebhookUnreachable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrEmptyDefinition) ||
		errors.Is(err, ErrNoEntryStep) ||
		errors.Is(err, ErrMultipleEntries) ||
		errors.Is(err, ErrDanglingEdge) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrWorkflowNotActive) ||
		errors.Is(err, ErrAlreadyEnrolled) ||
		errors.Is(err, ErrNotSubscribed) ||
		errors.Is(err, ErrPayloadRejected)
}

// IsFatal checks if an error should terminate the affected execution
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrMissingBranch) ||
		errors.Is(err, ErrStepNotFound) ||
		errors.Is(err, ErrExecutionFinished) ||
		errors.Is(err, ErrDeliveryRejected)
}

// Classify returns the error class for an error. Unknown errors default to
// fatal: an unclassified processor failure must terminate its execution, not
// loop forever in retry.
func Classify(err error) ErrorClass {
	switch {
	case IsTransient(err):
		return ErrorTransient
	case IsInvalid(err):
		return ErrorInvalid
	default:
		return ErrorFatal
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func newClassified(class ErrorClass, err error, component, operation string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   err.Error(),
		Component: component,
		Operation: operation,
	}
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newClassified(ErrorTransient, Wrap(err, component, method, action), component, method)
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newClassified(ErrorInvalid, Wrap(err, component, method, action), component, method)
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newClassified(ErrorFatal, Wrap(err, component, method, action), component, method)
}

// RetryPolicy defines step-level retry behavior for transient collaborator
// failures. MaxRetries counts additional attempts beyond the first.
type RetryPolicy struct {
	MaxRetries    int           `json:"max_retries"`
	InitialDelay  time.Duration `json:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor"`
}

// DefaultRetryPolicy returns the engine's default step retry policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// ToRetryConfig converts the policy to the retry framework's Config. Jitter
// is always enabled to avoid synchronized retries across workers.
func (rp RetryPolicy) ToRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  rp.MaxRetries + 1,
		InitialDelay: rp.InitialDelay,
		MaxDelay:     rp.MaxDelay,
		Multiplier:   rp.BackoffFactor,
		AddJitter:    true,
	}
}
