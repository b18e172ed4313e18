// Package analytics aggregates workflow and step counters from execution
// transitions and delivery callbacks. Consumers key on workflow and step
// IDs only; cross-execution ordering is not guaranteed and must not be
// assumed.
package analytics

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/journeykit/errors"
	"github.com/c360/journeykit/metric"
)

// TransitionType classifies an execution transition
type TransitionType string

const (
	WorkflowEntered   TransitionType = "workflow_entered"
	WorkflowCompleted TransitionType = "workflow_completed"
	WorkflowFailed    TransitionType = "workflow_failed"
	WorkflowExited    TransitionType = "workflow_exited"
	StepCompleted     TransitionType = "step_completed"
	StepSkipped       TransitionType = "step_skipped"
	StepFailed        TransitionType = "step_failed"
	MessageSent       TransitionType = "message_sent"
)

// Transition is one execution event reported by the engine
type Transition struct {
	Type        TransitionType
	WorkflowID  string
	StepID      string // empty for workflow-level transitions
	ExecutionID string
	ContactID   string
	Variant     string
	At          time.Time
}

// CallbackType classifies a delivery provider callback
type CallbackType string

const (
	CallbackDelivered CallbackType = "delivered"
	CallbackOpened    CallbackType = "opened"
	CallbackClicked   CallbackType = "clicked"
	CallbackBounced   CallbackType = "bounced"
)

// Callback is an out-of-band delivery event. Providers may redeliver;
// dedup is on (DeliveryID, Type).
type Callback struct {
	DeliveryID string
	Type       CallbackType
	WorkflowID string
	StepID     string
	At         time.Time
}

// WorkflowStats is a point-in-time counter snapshot for one workflow
type WorkflowStats struct {
	Entered   int64
	Completed int64
	Failed    int64
	Exited    int64
}

// StepStats is a point-in-time counter snapshot for one step
type StepStats struct {
	Completed int64
	Skipped   int64
	Failed    int64
	Sent      int64
	Delivered int64
	Opened    int64
	Clicked   int64
	Bounced   int64
}

type stepKey struct {
	workflowID string
	stepID     string
}

// Aggregator accumulates counters in memory and mirrors them to
// prometheus. Callback ingestion is idempotent.
type Aggregator struct {
	mu        sync.RWMutex
	workflows map[string]*WorkflowStats
	steps     map[stepKey]*StepStats
	seen      map[string]bool // (deliveryID, callback type) pairs

	callbacks *prometheus.CounterVec
	logger    *slog.Logger
}

// AggregatorOption configures an Aggregator
type AggregatorOption func(*Aggregator)

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) AggregatorOption {
	return func(a *Aggregator) { a.logger = logger }
}

// NewAggregator creates the aggregator and registers its prometheus
// counters. registry may be nil in tests that only read snapshots.
func NewAggregator(registry *metric.Registry, opts ...AggregatorOption) (*Aggregator, error) {
	a := &Aggregator{
		workflows: make(map[string]*WorkflowStats),
		steps:     make(map[stepKey]*StepStats),
		seen:      make(map[string]bool),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if registry != nil {
		a.callbacks = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "journeykit",
				Subsystem: "delivery",
				Name:      "callbacks_total",
				Help:      "Delivery callbacks ingested by type",
			},
			[]string{"workflow_id", "type"},
		)
		if err := registry.RegisterCounterVec("analytics", "callbacks_total", a.callbacks); err != nil {
			return nil, errors.Wrap(err, "Aggregator", "NewAggregator", "register callback counter")
		}
	}
	return a, nil
}

func (a *Aggregator) workflowStats(workflowID string) *WorkflowStats {
	ws, ok := a.workflows[workflowID]
	if !ok {
		ws = &WorkflowStats{}
		a.workflows[workflowID] = ws
	}
	return ws
}

func (a *Aggregator) stepStats(workflowID, stepID string) *StepStats {
	key := stepKey{workflowID: workflowID, stepID: stepID}
	ss, ok := a.steps[key]
	if !ok {
		ss = &StepStats{}
		a.steps[key] = ss
	}
	return ss
}

// RecordTransition ingests one execution event
func (a *Aggregator) RecordTransition(t Transition) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch t.Type {
	case WorkflowEntered:
		a.workflowStats(t.WorkflowID).Entered++
	case WorkflowCompleted:
		a.workflowStats(t.WorkflowID).Completed++
	case WorkflowFailed:
		a.workflowStats(t.WorkflowID).Failed++
	case WorkflowExited:
		a.workflowStats(t.WorkflowID).Exited++
	case StepCompleted:
		a.stepStats(t.WorkflowID, t.StepID).Completed++
	case StepSkipped:
		a.stepStats(t.WorkflowID, t.StepID).Skipped++
	case StepFailed:
		a.stepStats(t.WorkflowID, t.StepID).Failed++
	case MessageSent:
		a.stepStats(t.WorkflowID, t.StepID).Sent++
	default:
		a.logger.Warn("Unknown transition type", "type", string(t.Type))
	}
}

// RecordDeliveryCallback ingests one delivery callback, deduplicating on
// (delivery ID, type). Returns true when the callback was new.
func (a *Aggregator) RecordDeliveryCallback(cb Callback) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := cb.DeliveryID + "|" + string(cb.Type)
	if a.seen[key] {
		return false
	}
	a.seen[key] = true

	ss := a.stepStats(cb.WorkflowID, cb.StepID)
	switch cb.Type {
	case CallbackDelivered:
		ss.Delivered++
	case CallbackOpened:
		ss.Opened++
	case CallbackClicked:
		ss.Clicked++
	case CallbackBounced:
		ss.Bounced++
	default:
		a.logger.Warn("Unknown callback type",
			"type", string(cb.Type), "delivery_id", cb.DeliveryID)
		return false
	}

	if a.callbacks != nil {
		a.callbacks.WithLabelValues(cb.WorkflowID, string(cb.Type)).Inc()
	}
	return true
}

// Workflow returns a snapshot of one workflow's counters
func (a *Aggregator) Workflow(workflowID string) WorkflowStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if ws, ok := a.workflows[workflowID]; ok {
		return *ws
	}
	return WorkflowStats{}
}

// Step returns a snapshot of one step's counters
func (a *Aggregator) Step(workflowID, stepID string) StepStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if ss, ok := a.steps[stepKey{workflowID: workflowID, stepID: stepID}]; ok {
		return *ss
	}
	return StepStats{}
}
