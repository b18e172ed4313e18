// Package engine drives executions through their workflows. A scheduler
// tick drains the due scan into a bounded worker pool; each worker claims
// its execution, runs the current step's processor, and persists the
// outcome atomically before advancing to the next step within the same
// pass. Wait steps park the execution; transient collaborator failures
// retry with the step's backoff policy; everything else fails the
// execution with a log entry explaining why.
package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360/journeykit/analytics"
	"github.com/c360/journeykit/contact"
	"github.com/c360/journeykit/errors"
	"github.com/c360/journeykit/execution"
	"github.com/c360/journeykit/executionstore"
	"github.com/c360/journeykit/health"
	"github.com/c360/journeykit/metric"
	"github.com/c360/journeykit/pkg/clock"
	"github.com/c360/journeykit/pkg/retry"
	"github.com/c360/journeykit/pkg/worker"
	"github.com/c360/journeykit/processor"
	"github.com/c360/journeykit/trigger"
	"github.com/c360/journeykit/workflow"
	"github.com/c360/journeykit/workflowstore"
)

// Config holds engine tuning knobs
type Config struct {
	// TickInterval is how often the due scan runs.
	TickInterval time.Duration `json:"tick_interval"`

	// DrainLimit caps how many due executions one tick loads.
	DrainLimit int `json:"drain_limit"`

	// Workers and QueueSize bound the processing pool.
	Workers   int `json:"workers"`
	QueueSize int `json:"queue_size"`

	// MaxStepsPerPass bounds same-pass advancement so a definition with a
	// tight cycle and no waits cannot pin a worker. The execution stays due
	// and the next tick resumes it.
	MaxStepsPerPass int `json:"max_steps_per_pass"`

	// WorkerID identifies this process in claims. Empty generates one.
	WorkerID string `json:"worker_id"`

	// StopTimeout is how long Run waits for in-flight work on shutdown.
	StopTimeout time.Duration `json:"stop_timeout"`
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		TickInterval:    5 * time.Second,
		DrainLimit:      10,
		Workers:         8,
		QueueSize:       256,
		MaxStepsPerPass: 100,
		StopTimeout:     30 * time.Second,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.DrainLimit <= 0 {
		c.DrainLimit = d.DrainLimit
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.MaxStepsPerPass <= 0 {
		c.MaxStepsPerPass = d.MaxStepsPerPass
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	if c.WorkerID == "" {
		c.WorkerID = "worker-" + uuid.NewString()
	}
}

// Engine schedules due executions and advances them step by step
type Engine struct {
	cfg        Config
	workflows  workflowstore.Store
	executions executionstore.Store
	contacts   contact.Store
	gate       *trigger.Gate
	registry   *processor.Registry
	aggregator *analytics.Aggregator
	pool       *worker.Pool[string]
	clock      clock.Clock
	logger     *slog.Logger
	metrics    *engineMetrics
	health     *health.Monitor
}

// Option configures an Engine
type Option func(*Engine)

// WithClock injects a clock for deterministic scheduling in tests
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithHealth reports tick liveness into the monitor
func WithHealth(monitor *health.Monitor) Option {
	return func(e *Engine) { e.health = monitor }
}

// NewEngine wires the engine with its collaborators. A nil metrics
// registry disables engine metrics.
func NewEngine(
	cfg Config,
	workflows workflowstore.Store,
	executions executionstore.Store,
	contacts contact.Store,
	gate *trigger.Gate,
	registry *processor.Registry,
	aggregator *analytics.Aggregator,
	metricsRegistry *metric.Registry,
	opts ...Option,
) (*Engine, error) {
	cfg.normalize()

	metrics, err := newEngineMetrics(metricsRegistry)
	if err != nil {
		return nil, errors.Wrap(err, "engine", "NewEngine", "initialize metrics")
	}

	e := &Engine{
		cfg:        cfg,
		workflows:  workflows,
		executions: executions,
		contacts:   contacts,
		gate:       gate,
		registry:   registry,
		aggregator: aggregator,
		clock:      clock.System(),
		logger:     slog.Default(),
		metrics:    metrics,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.pool = worker.NewPool[string](cfg.Workers, cfg.QueueSize,
		func(ctx context.Context, execID string) error {
			return e.processExecution(ctx, execID)
		},
		worker.WithMetrics[string](metricsRegistry, "engine"))

	return e, nil
}

// WorkerID returns the claim identity of this engine instance
func (e *Engine) WorkerID() string {
	return e.cfg.WorkerID
}

// Run starts the worker pool and the scheduler loop, blocking until ctx is
// cancelled. The first tick fires immediately so work left due by a
// previous process is picked up without waiting a full interval.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "engine", "Run", "start worker pool")
	}
	defer func() {
		if err := e.pool.Stop(e.cfg.StopTimeout); err != nil {
			e.logger.Warn("Worker pool stop timed out", "error", err)
		}
	}()

	e.logger.Info("Engine started",
		"worker_id", e.cfg.WorkerID,
		"tick_interval", e.cfg.TickInterval,
		"drain_limit", e.cfg.DrainLimit,
		"workers", e.cfg.Workers)

	e.Tick(ctx)

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Engine stopping", "worker_id", e.cfg.WorkerID)
			return ctx.Err()
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick runs one due scan and hands the results to the worker pool. A full
// queue leaves the remainder in the durable due index for the next tick.
func (e *Engine) Tick(ctx context.Context) {
	e.metrics.recordTick()

	due, err := e.executions.LoadDue(ctx, e.clock.Now(), e.cfg.DrainLimit)
	if err != nil {
		e.logger.Warn("Due scan failed", "error", err)
		if e.health != nil {
			e.health.Unhealthy("engine", fmt.Sprintf("due scan failed: %v", err))
		}
		return
	}
	if e.health != nil {
		e.health.Healthy("engine", "ticking")
	}
	e.metrics.recordDueLoaded(len(due))

	for _, exec := range due {
		if err := e.pool.Submit(exec.ID); err != nil {
			if stderrors.Is(err, worker.ErrQueueFull) {
				e.logger.Debug("Worker queue full, deferring to next tick",
					"execution_id", exec.ID)
				return
			}
			e.logger.Warn("Submit failed", "execution_id", exec.ID, "error", err)
		}
	}
}

// DrainOnce loads due executions and processes them inline, returning how
// many were processed. Used for single-shot runs and tests; Run's tick
// path goes through the worker pool instead.
func (e *Engine) DrainOnce(ctx context.Context) (int, error) {
	due, err := e.executions.LoadDue(ctx, e.clock.Now(), e.cfg.DrainLimit)
	if err != nil {
		return 0, errors.Wrap(err, "engine", "DrainOnce", "load due executions")
	}

	processed := 0
	for _, exec := range due {
		if err := e.processExecution(ctx, exec.ID); err != nil {
			e.logger.Warn("Processing failed",
				"execution_id", exec.ID, "error", err)
			continue
		}
		processed++
	}
	return processed, nil
}

// Enroll admits one (workflow, contact, payload) trigger through the gate
// and creates an execution at the entry step, pinned to the head version.
// A refused trigger returns the gate's decision with a nil execution.
func (e *Engine) Enroll(ctx context.Context, workflowID, contactID string,
	payload map[string]any) (*execution.Execution, trigger.Decision, error) {

	def, err := e.workflows.Get(ctx, workflowID)
	if err != nil {
		return nil, trigger.Decision{}, errors.Wrap(err, "engine", "Enroll", "resolve workflow")
	}

	snap, err := e.contacts.Get(ctx, contactID)
	if err != nil {
		return nil, trigger.Decision{}, errors.Wrap(err, "engine", "Enroll", "resolve contact")
	}

	decision, err := e.gate.Admit(ctx, def, snap, payload)
	if err != nil {
		return nil, trigger.Decision{}, errors.Wrap(err, "engine", "Enroll", "evaluate entry rules")
	}
	if !decision.Admitted {
		e.metrics.recordEnrollment(workflowID, string(decision.Reason))
		e.logger.Info("Trigger refused",
			"workflow_id", workflowID, "contact_id", contactID,
			"reason", decision.Reason, "detail", decision.Detail)
		return nil, decision, nil
	}

	entry, err := def.EntryStep()
	if err != nil {
		return nil, trigger.Decision{}, errors.Wrap(err, "engine", "Enroll", "resolve entry step")
	}

	execCtx := make(map[string]any, len(payload))
	for k, v := range payload {
		execCtx[k] = v
	}

	now := e.clock.Now().UTC()
	exec := &execution.Execution{
		ID:              uuid.NewString(),
		WorkflowID:      def.ID,
		WorkflowVersion: def.Version,
		ContactID:       contactID,
		Status:          execution.StatusRunning,
		CurrentStepID:   entry.ID,
		NextRunAt:       now,
		StartedAt:       now,
		Contact:         snap,
		Context:         execCtx,
	}
	if err := e.executions.Create(ctx, exec); err != nil {
		return nil, trigger.Decision{}, errors.Wrap(err, "engine", "Enroll", "create execution")
	}

	e.aggregator.RecordTransition(analytics.Transition{
		Type:        analytics.WorkflowEntered,
		WorkflowID:  def.ID,
		ExecutionID: exec.ID,
		ContactID:   contactID,
		At:          now,
	})
	e.metrics.recordEnrollment(workflowID, "admitted")
	e.logger.Info("Contact enrolled",
		"workflow_id", def.ID, "workflow_version", def.Version,
		"contact_id", contactID, "execution_id", exec.ID, "entry_step", entry.ID)

	return exec, decision, nil
}

// processExecution claims one execution and advances it until it parks,
// finishes, or exhausts the per-pass step budget. Claim conflicts and
// races with completion are not errors: another worker owns the work.
func (e *Engine) processExecution(ctx context.Context, execID string) error {
	exec, err := e.executions.Claim(ctx, execID, e.cfg.WorkerID)
	if err != nil {
		switch {
		case stderrors.Is(err, errors.ErrExecutionClaimed):
			e.metrics.recordClaimConflict()
			return nil
		case stderrors.Is(err, errors.ErrExecutionNotFound),
			stderrors.Is(err, errors.ErrExecutionFinished):
			return nil
		}
		return errors.Wrap(err, "engine", "processExecution", "claim execution")
	}
	defer func() {
		if err := e.executions.Release(context.WithoutCancel(ctx), execID, e.cfg.WorkerID); err != nil {
			e.logger.Warn("Release failed", "execution_id", execID, "error", err)
		}
	}()

	// A queue entry can go stale: the tick re-submits any execution still
	// due, so a second submission may arrive after the first one already
	// parked or advanced it. The claim gives a fresh read; anything not due
	// anymore belongs to a future tick.
	if !exec.Due(e.clock.Now()) {
		return nil
	}

	head, err := e.workflows.Get(ctx, exec.WorkflowID)
	if err != nil {
		return errors.Wrap(err, "engine", "processExecution", "resolve workflow head")
	}
	if head.Status == workflow.StatusArchived {
		return e.exitExecution(ctx, exec, "workflow archived")
	}

	// Steps always resolve against the version the execution started with,
	// not the head.
	def, err := e.workflows.GetVersion(ctx, exec.WorkflowID, exec.WorkflowVersion)
	if err != nil {
		return errors.Wrap(err, "engine", "processExecution", "resolve pinned version")
	}

	for steps := 0; steps < e.cfg.MaxStepsPerPass; steps++ {
		parked, done, err := e.advanceOne(ctx, exec, def)
		if err != nil || parked || done {
			e.metrics.recordPassSteps(steps + 1)
			return err
		}
	}

	// Budget exhausted: the execution is still due, the next tick resumes.
	e.metrics.recordPassSteps(e.cfg.MaxStepsPerPass)
	e.logger.Warn("Step budget exhausted in one pass",
		"execution_id", exec.ID, "workflow_id", exec.WorkflowID,
		"current_step", exec.CurrentStepID)
	return nil
}

// advanceOne processes the execution's current step and persists the
// outcome. It mutates exec in place so the caller can keep advancing
// without re-reading the store.
func (e *Engine) advanceOne(ctx context.Context, exec *execution.Execution,
	def *workflow.Definition) (parked, done bool, err error) {

	step, err := def.StepByID(exec.CurrentStepID)
	if err != nil {
		return false, true, e.failExecution(ctx, exec, nil,
			fmt.Sprintf("step %s not in version %d: %v", exec.CurrentStepID, def.Version, err))
	}

	outcome, err := e.runStep(ctx, step, exec, def)
	if err != nil {
		return false, true, e.failExecution(ctx, exec, step, err.Error())
	}

	now := e.clock.Now().UTC()
	entry := execution.LogEntry{
		StepID:         step.ID,
		StepKind:       string(step.Kind),
		Status:         outcome.Status,
		Detail:         outcome.Detail,
		IdempotencyKey: stepEntryKey(exec, step.ID),
		At:             now,
	}
	update := buildStateUpdate(exec, outcome)

	switch {
	case outcome.WakeAt != nil && outcome.NextStepID != "":
		if err := e.executions.Park(ctx, exec.ID, outcome.NextStepID, *outcome.WakeAt, entry, update); err != nil {
			return false, false, errors.Wrap(err, "engine", "advanceOne", "park execution")
		}
		e.recordStepTransition(exec, step, outcome, now)
		e.logger.Debug("Execution parked",
			"execution_id", exec.ID, "step_id", step.ID,
			"next_step", outcome.NextStepID, "wake_at", *outcome.WakeAt)
		return true, false, nil

	case outcome.NextStepID == "":
		if err := e.executions.Complete(ctx, exec.ID, entry, update); err != nil {
			return false, false, errors.Wrap(err, "engine", "advanceOne", "complete execution")
		}
		e.recordStepTransition(exec, step, outcome, now)
		e.aggregator.RecordTransition(analytics.Transition{
			Type:        analytics.WorkflowCompleted,
			WorkflowID:  exec.WorkflowID,
			ExecutionID: exec.ID,
			ContactID:   exec.ContactID,
			At:          now,
		})
		e.metrics.recordFinished("completed")
		e.logger.Info("Execution completed",
			"execution_id", exec.ID, "workflow_id", exec.WorkflowID,
			"contact_id", exec.ContactID, "steps", len(exec.Log)+1)
		return false, true, nil

	default:
		if err := e.executions.Advance(ctx, exec.ID, outcome.NextStepID, entry, update); err != nil {
			return false, false, errors.Wrap(err, "engine", "advanceOne", "advance execution")
		}
		e.recordStepTransition(exec, step, outcome, now)
		applyLocally(exec, outcome, entry, update)
		return false, false, nil
	}
}

// runStep invokes the step's processor, retrying transient failures with
// the step's backoff policy. Non-transient errors abort immediately.
func (e *Engine) runStep(ctx context.Context, step *workflow.Step,
	exec *execution.Execution, def *workflow.Definition) (*processor.Outcome, error) {

	proc, err := e.registry.Get(step.Kind)
	if err != nil {
		return nil, err
	}

	policy := errors.DefaultRetryPolicy()
	if step.Retry != nil {
		policy = *step.Retry
	}

	start := e.clock.Now()
	outcome, err := retry.DoWithResult(ctx, policy.ToRetryConfig(),
		func() (*processor.Outcome, error) {
			out, perr := proc.Process(ctx, step, exec, def)
			if perr != nil && !errors.IsTransient(perr) {
				return nil, retry.NonRetryable(perr)
			}
			return out, perr
		})
	e.metrics.recordStep(string(step.Kind), err == nil, e.clock.Now().Sub(start).Seconds())
	return outcome, err
}

// failExecution marks the execution failed with a log entry carrying the
// reason. step is nil when the position itself could not be resolved.
func (e *Engine) failExecution(ctx context.Context, exec *execution.Execution,
	step *workflow.Step, detail string) error {

	now := e.clock.Now().UTC()
	entry := execution.LogEntry{
		StepID:         exec.CurrentStepID,
		Status:         execution.StepFailure,
		Detail:         detail,
		IdempotencyKey: fmt.Sprintf("fail.%s", stepEntryKey(exec, exec.CurrentStepID)),
		At:             now,
	}
	if step != nil {
		entry.StepKind = string(step.Kind)
	}

	if err := e.executions.Fail(ctx, exec.ID, entry); err != nil {
		return errors.Wrap(err, "engine", "failExecution", "mark execution failed")
	}

	e.aggregator.RecordTransition(analytics.Transition{
		Type:        analytics.StepFailed,
		WorkflowID:  exec.WorkflowID,
		StepID:      exec.CurrentStepID,
		ExecutionID: exec.ID,
		ContactID:   exec.ContactID,
		At:          now,
	})
	e.aggregator.RecordTransition(analytics.Transition{
		Type:        analytics.WorkflowFailed,
		WorkflowID:  exec.WorkflowID,
		ExecutionID: exec.ID,
		ContactID:   exec.ContactID,
		At:          now,
	})
	e.metrics.recordFinished("failed")
	e.logger.Error("Execution failed",
		"execution_id", exec.ID, "workflow_id", exec.WorkflowID,
		"step_id", exec.CurrentStepID, "detail", detail)
	return nil
}

// exitExecution removes the execution from a workflow that was archived
// while it was in flight.
func (e *Engine) exitExecution(ctx context.Context, exec *execution.Execution, detail string) error {
	now := e.clock.Now().UTC()
	entry := execution.LogEntry{
		StepID:         exec.CurrentStepID,
		Status:         execution.StepSkipped,
		Detail:         detail,
		IdempotencyKey: fmt.Sprintf("exit.%s", stepEntryKey(exec, exec.CurrentStepID)),
		At:             now,
	}
	if err := e.executions.Exit(ctx, exec.ID, entry); err != nil {
		return errors.Wrap(err, "engine", "exitExecution", "mark execution exited")
	}

	e.aggregator.RecordTransition(analytics.Transition{
		Type:        analytics.WorkflowExited,
		WorkflowID:  exec.WorkflowID,
		ExecutionID: exec.ID,
		ContactID:   exec.ContactID,
		At:          now,
	})
	e.metrics.recordFinished("exited")
	e.logger.Info("Execution exited",
		"execution_id", exec.ID, "workflow_id", exec.WorkflowID, "detail", detail)
	return nil
}

// recordStepTransition emits the per-step analytics transition, plus the
// message-sent transition for successful message and split-test sends.
func (e *Engine) recordStepTransition(exec *execution.Execution,
	step *workflow.Step, outcome *processor.Outcome, at time.Time) {

	typ := analytics.StepCompleted
	if outcome.Status == execution.StepSkipped {
		typ = analytics.StepSkipped
	}
	e.aggregator.RecordTransition(analytics.Transition{
		Type:        typ,
		WorkflowID:  exec.WorkflowID,
		StepID:      step.ID,
		ExecutionID: exec.ID,
		ContactID:   exec.ContactID,
		At:          at,
	})

	if outcome.Status != execution.StepSuccess {
		return
	}
	if step.Kind != workflow.KindMessage && step.Kind != workflow.KindSplitTest {
		return
	}
	variant, _ := outcome.Data["variant."+step.ID].(string)
	e.aggregator.RecordTransition(analytics.Transition{
		Type:        analytics.MessageSent,
		WorkflowID:  exec.WorkflowID,
		StepID:      step.ID,
		ExecutionID: exec.ID,
		ContactID:   exec.ContactID,
		Variant:     variant,
		At:          at,
	})
}

// stepEntryKey builds the log entry idempotency key for the current visit
// of stepID. The log length distinguishes revisits of the same step in
// definitions with loops, while staying stable across a crash-and-replay
// of the same visit.
func stepEntryKey(exec *execution.Execution, stepID string) string {
	return fmt.Sprintf("%s.%s.%d", exec.ID, stepID, len(exec.Log))
}

// buildStateUpdate merges the outcome's data into the execution context
// and carries the contact snapshot replacement, or returns nil when the
// outcome changed neither.
func buildStateUpdate(exec *execution.Execution, outcome *processor.Outcome) *executionstore.StateUpdate {
	if len(outcome.Data) == 0 && outcome.Contact == nil {
		return nil
	}
	update := &executionstore.StateUpdate{Contact: outcome.Contact}
	if len(outcome.Data) > 0 {
		merged := make(map[string]any, len(exec.Context)+len(outcome.Data))
		for k, v := range exec.Context {
			merged[k] = v
		}
		for k, v := range outcome.Data {
			merged[k] = v
		}
		update.Context = merged
	}
	return update
}

// applyLocally mirrors a persisted advance onto the in-memory execution so
// the pass can continue without re-reading the store.
func applyLocally(exec *execution.Execution, outcome *processor.Outcome,
	entry execution.LogEntry, update *executionstore.StateUpdate) {

	exec.CurrentStepID = outcome.NextStepID
	exec.Log = append(exec.Log, entry)
	if update != nil {
		if update.Context != nil {
			exec.Context = update.Context
		}
		if update.Contact != nil {
			exec.Contact = update.Contact
		}
	}
}
