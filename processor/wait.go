package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/c360/journeykit/execution"
	"github.com/c360/journeykit/pkg/clock"
	"github.com/c360/journeykit/workflow"
)

// Wait computes a wake time and lets the engine park the execution in
// durable storage. Nothing holds a goroutine while waiting; a restart
// while parked loses nothing.
type Wait struct {
	clock clock.Clock
}

// NewWait creates the wait processor
func NewWait(c clock.Clock) *Wait {
	if c == nil {
		c = clock.System()
	}
	return &Wait{clock: c}
}

// Kind returns the step kind this processor handles
func (p *Wait) Kind() workflow.StepKind {
	return workflow.KindWait
}

// Process computes the wake time from the configured duration
func (p *Wait) Process(_ context.Context, step *workflow.Step,
	exec *execution.Execution, def *workflow.Definition) (*Outcome, error) {

	next, _ := defaultNext(def, step.ID)
	wakeAt := p.clock.Now().UTC().Add(WaitDuration(step.Wait))

	return &Outcome{
		Status:     execution.StepSuccess,
		NextStepID: next,
		WakeAt:     &wakeAt,
		Detail:     fmt.Sprintf("waiting %d %s", step.Wait.Duration, step.Wait.Unit),
	}, nil
}

// WaitDuration converts a wait config into a concrete duration
func WaitDuration(cfg *workflow.WaitConfig) time.Duration {
	d := time.Duration(cfg.Duration)
	switch cfg.Unit {
	case workflow.UnitMinutes:
		return d * time.Minute
	case workflow.UnitHours:
		return d * time.Hour
	case workflow.UnitDays:
		return d * 24 * time.Hour
	case workflow.UnitWeeks:
		return d * 7 * 24 * time.Hour
	default:
		return 0
	}
}
