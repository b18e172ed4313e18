package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(99).String())
}

func TestWrapFormatting(t *testing.T) {
	base := stderrors.New("connection refused")
	err := Wrap(base, "executionstore", "Advance", "put to KV")

	require.Error(t, err)
	assert.Equal(t, "executionstore.Advance: put to KV failed: connection refused", err.Error())
	assert.True(t, stderrors.Is(err, base))

	assert.NoError(t, Wrap(nil, "executionstore", "Advance", "put to KV"))
}

func TestClassifiedWrappers(t *testing.T) {
	tests := []struct {
		name  string
		wrap  func(error, string, string, string) error
		check func(error) bool
		class ErrorClass
	}{
		{"transient", WrapTransient, IsTransient, ErrorTransient},
		{"invalid", WrapInvalid, IsInvalid, ErrorInvalid},
		{"fatal", WrapFatal, IsFatal, ErrorFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := stderrors.New("boom")
			err := tt.wrap(base, "engine", "process", "step execution")

			require.Error(t, err)
			assert.True(t, tt.check(err))
			assert.Equal(t, tt.class, Classify(err))
			assert.True(t, stderrors.Is(err, base))

			var ce *ClassifiedError
			require.True(t, stderrors.As(err, &ce))
			assert.Equal(t, "engine", ce.Component)
			assert.Equal(t, "process", ce.Operation)

			assert.NoError(t, tt.wrap(nil, "engine", "process", "step execution"))
		})
	}
}

func TestSentinelClassification(t *testing.T) {
	assert.True(t, IsTransient(ErrDeliveryTimeout))
	assert.True(t, IsTransient(ErrRevisionConflict))
	assert.True(t, IsTransient(ErrMutationConflict))
	assert.True(t, IsTransient(fmt.Errorf("send: %w", context.DeadlineExceeded)))

	assert.True(t, IsInvalid(ErrNoEntryStep))
	assert.True(t, IsInvalid(ErrDanglingEdge))
	assert.True(t, IsInvalid(ErrWorkflowNotActive))
	assert.True(t, IsInvalid(ErrAlreadyEnrolled))
	assert.True(t, IsInvalid(ErrNotSubscribed))
	assert.True(t, IsInvalid(fmt.Errorf("admit: %w", ErrPayloadRejected)))

	assert.True(t, IsFatal(ErrMissingBranch))
	assert.True(t, IsFatal(ErrStepNotFound))
	assert.True(t, IsFatal(ErrDeliveryRejected))

	// Sentinels must not leak across classes.
	assert.False(t, IsTransient(ErrMissingBranch))
	assert.False(t, IsFatal(ErrDeliveryTimeout))
	assert.False(t, IsInvalid(ErrDeliveryTimeout))
	assert.False(t, IsTransient(ErrDeliveryRejected))
}

func TestClassifyDefaultsToFatal(t *testing.T) {
	// An unclassified processor error must terminate the execution rather
	// than retry forever.
	assert.Equal(t, ErrorFatal, Classify(stderrors.New("nil pointer dereference")))
}

func TestRetryPolicyConversion(t *testing.T) {
	rp := RetryPolicy{
		MaxRetries:    4,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 3.0,
	}

	cfg := rp.ToRetryConfig()
	assert.Equal(t, 5, cfg.MaxAttempts) // retries are additional attempts
	assert.Equal(t, 50*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 2*time.Second, cfg.MaxDelay)
	assert.Equal(t, 3.0, cfg.Multiplier)
	assert.True(t, cfg.AddJitter)
}
