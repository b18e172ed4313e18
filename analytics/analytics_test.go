package analytics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/journeykit/metric"
)

func TestRecordTransitionCounts(t *testing.T) {
	a, err := NewAggregator(nil)
	require.NoError(t, err)

	a.RecordTransition(Transition{Type: WorkflowEntered, WorkflowID: "wf-1"})
	a.RecordTransition(Transition{Type: WorkflowEntered, WorkflowID: "wf-1"})
	a.RecordTransition(Transition{Type: WorkflowCompleted, WorkflowID: "wf-1"})
	a.RecordTransition(Transition{Type: WorkflowFailed, WorkflowID: "wf-1"})
	a.RecordTransition(Transition{Type: WorkflowExited, WorkflowID: "wf-2"})

	ws := a.Workflow("wf-1")
	assert.Equal(t, int64(2), ws.Entered)
	assert.Equal(t, int64(1), ws.Completed)
	assert.Equal(t, int64(1), ws.Failed)
	assert.Equal(t, int64(0), ws.Exited)

	assert.Equal(t, int64(1), a.Workflow("wf-2").Exited)
	assert.Equal(t, WorkflowStats{}, a.Workflow("unknown"))
}

func TestRecordStepTransitions(t *testing.T) {
	a, err := NewAggregator(nil)
	require.NoError(t, err)

	a.RecordTransition(Transition{Type: StepCompleted, WorkflowID: "wf-1", StepID: "s1"})
	a.RecordTransition(Transition{Type: StepSkipped, WorkflowID: "wf-1", StepID: "s1"})
	a.RecordTransition(Transition{Type: StepFailed, WorkflowID: "wf-1", StepID: "s2"})
	a.RecordTransition(Transition{Type: MessageSent, WorkflowID: "wf-1", StepID: "s1"})

	s1 := a.Step("wf-1", "s1")
	assert.Equal(t, int64(1), s1.Completed)
	assert.Equal(t, int64(1), s1.Skipped)
	assert.Equal(t, int64(1), s1.Sent)

	assert.Equal(t, int64(1), a.Step("wf-1", "s2").Failed)
	assert.Equal(t, StepStats{}, a.Step("wf-1", "ghost"))
}

func TestCallbacksIdempotentByDeliveryID(t *testing.T) {
	a, err := NewAggregator(metric.NewRegistry())
	require.NoError(t, err)

	cb := Callback{DeliveryID: "d-1", Type: CallbackOpened, WorkflowID: "wf-1", StepID: "s1"}

	assert.True(t, a.RecordDeliveryCallback(cb))
	// Provider redelivers the same callback.
	assert.False(t, a.RecordDeliveryCallback(cb))
	assert.False(t, a.RecordDeliveryCallback(cb))

	assert.Equal(t, int64(1), a.Step("wf-1", "s1").Opened)

	// A different event type for the same delivery is new.
	click := cb
	click.Type = CallbackClicked
	assert.True(t, a.RecordDeliveryCallback(click))
	assert.Equal(t, int64(1), a.Step("wf-1", "s1").Clicked)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		a.callbacks.WithLabelValues("wf-1", string(CallbackOpened))))
}

func TestCallbackTypes(t *testing.T) {
	a, err := NewAggregator(nil)
	require.NoError(t, err)

	for i, typ := range []CallbackType{
		CallbackDelivered, CallbackOpened, CallbackClicked, CallbackBounced,
	} {
		assert.True(t, a.RecordDeliveryCallback(Callback{
			DeliveryID: "d-1", Type: typ, WorkflowID: "wf-1", StepID: "s1",
		}), "callback %d", i)
	}

	s := a.Step("wf-1", "s1")
	assert.Equal(t, int64(1), s.Delivered)
	assert.Equal(t, int64(1), s.Opened)
	assert.Equal(t, int64(1), s.Clicked)
	assert.Equal(t, int64(1), s.Bounced)

	// Unknown types are dropped, not counted.
	assert.False(t, a.RecordDeliveryCallback(Callback{DeliveryID: "d-2", Type: "forwarded"}))
}
