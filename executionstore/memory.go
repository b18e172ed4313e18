package executionstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/c360/journeykit/errors"
	"github.com/c360/journeykit/execution"
	"github.com/c360/journeykit/pkg/clock"
)

// Memory is an in-memory Store for unit tests and single-process runs. It
// keeps the same semantics as the KV store, including idempotency and
// claim takeover, serialized under one lock.
type Memory struct {
	mu         sync.RWMutex
	executions map[string]*execution.Execution
	clock      clock.Clock
	claimTTL   time.Duration
}

// MemoryOption configures a Memory store
type MemoryOption func(*Memory)

// WithClock injects a clock for deterministic tests
func WithClock(c clock.Clock) MemoryOption {
	return func(m *Memory) { m.clock = c }
}

// WithClaimTTL overrides the claim freshness window
func WithClaimTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) { m.claimTTL = ttl }
}

// NewMemory creates an empty in-memory execution store
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		executions: make(map[string]*execution.Execution),
		clock:      clock.System(),
		claimTTL:   ClaimTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func cloneExecution(e *execution.Execution) *execution.Execution {
	// JSON round-trip keeps the clone honest about what survives
	// persistence, matching KV store behavior.
	data, err := json.Marshal(e)
	if err != nil {
		panic(fmt.Sprintf("execution not serializable: %v", err))
	}
	var out execution.Execution
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("execution not deserializable: %v", err))
	}
	return &out
}

// Create persists a new execution
func (m *Memory) Create(_ context.Context, exec *execution.Execution) error {
	if exec.ID == "" {
		return errors.WrapInvalid(
			fmt.Errorf("execution requires an id"), "Memory", "Create", "validate execution")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.executions[exec.ID]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("execution %s already exists", exec.ID),
			"Memory", "Create", "insert execution")
	}
	m.executions[exec.ID] = cloneExecution(exec)
	return nil
}

// Get returns the execution by ID
func (m *Memory) Get(_ context.Context, id string) (*execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.executions[id]
	if !ok {
		return nil, errors.ErrExecutionNotFound
	}
	return cloneExecution(e), nil
}

// mutate applies fn to the stored execution under idempotency and terminal
// checks shared by every mutating operation.
func (m *Memory) mutate(id string, entry execution.LogEntry,
	fn func(e *execution.Execution)) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.executions[id]
	if !ok {
		return errors.ErrExecutionNotFound
	}
	if entry.IdempotencyKey != "" && e.HasLogEntry(entry.IdempotencyKey) {
		return nil
	}
	if e.Status.Terminal() {
		return errors.ErrExecutionFinished
	}

	updated := cloneExecution(e)
	if entry.At.IsZero() {
		entry.At = m.clock.Now().UTC()
	}
	updated.Log = append(updated.Log, entry)
	fn(updated)
	m.executions[id] = updated
	return nil
}

func applyState(e *execution.Execution, update *StateUpdate) {
	if update == nil {
		return
	}
	if update.Context != nil {
		e.Context = update.Context
	}
	if update.Contact != nil {
		e.Contact = update.Contact
	}
}

// Advance moves the execution and makes it immediately due again
func (m *Memory) Advance(_ context.Context, id, newStepID string,
	entry execution.LogEntry, update *StateUpdate) error {

	return m.mutate(id, entry, func(e *execution.Execution) {
		e.CurrentStepID = newStepID
		e.NextRunAt = m.clock.Now().UTC()
		applyState(e, update)
	})
}

// Park moves the execution and suspends it until wakeAt
func (m *Memory) Park(_ context.Context, id, newStepID string, wakeAt time.Time,
	entry execution.LogEntry, update *StateUpdate) error {

	return m.mutate(id, entry, func(e *execution.Execution) {
		e.CurrentStepID = newStepID
		e.NextRunAt = wakeAt.UTC()
		applyState(e, update)
	})
}

// Complete marks the execution completed
func (m *Memory) Complete(_ context.Context, id string,
	entry execution.LogEntry, update *StateUpdate) error {

	return m.mutate(id, entry, func(e *execution.Execution) {
		now := m.clock.Now().UTC()
		e.Status = execution.StatusCompleted
		e.CompletedAt = &now
		applyState(e, update)
	})
}

// Fail marks the execution failed
func (m *Memory) Fail(_ context.Context, id string, entry execution.LogEntry) error {
	return m.mutate(id, entry, func(e *execution.Execution) {
		now := m.clock.Now().UTC()
		e.Status = execution.StatusFailed
		e.CompletedAt = &now
	})
}

// Exit marks the execution exited
func (m *Memory) Exit(_ context.Context, id string, entry execution.LogEntry) error {
	return m.mutate(id, entry, func(e *execution.Execution) {
		now := m.clock.Now().UTC()
		e.Status = execution.StatusExited
		e.CompletedAt = &now
	})
}

// LoadDue returns up to limit due executions, oldest first
func (m *Memory) LoadDue(_ context.Context, now time.Time, limit int) ([]*execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var due []*execution.Execution
	for _, e := range m.executions {
		if e.Due(now) {
			due = append(due, cloneExecution(e))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRunAt.Before(due[j].NextRunAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Claim marks the execution owned by workerID
func (m *Memory) Claim(_ context.Context, id, workerID string) (*execution.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.executions[id]
	if !ok {
		return nil, errors.ErrExecutionNotFound
	}
	if e.Status.Terminal() {
		return nil, errors.ErrExecutionFinished
	}

	now := m.clock.Now().UTC()
	if e.ClaimedBy != "" && e.ClaimedBy != workerID && e.Claimed(now, m.claimTTL) {
		return nil, errors.ErrExecutionClaimed
	}

	updated := cloneExecution(e)
	updated.ClaimedBy = workerID
	updated.ClaimedAt = &now
	m.executions[id] = updated
	return cloneExecution(updated), nil
}

// Release clears a claim held by workerID
func (m *Memory) Release(_ context.Context, id, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.executions[id]
	if !ok {
		return errors.ErrExecutionNotFound
	}
	if e.ClaimedBy != workerID {
		return nil
	}

	updated := cloneExecution(e)
	updated.ClaimedBy = ""
	updated.ClaimedAt = nil
	m.executions[id] = updated
	return nil
}

// ListFor returns all executions for one (workflow, contact) pair
func (m *Memory) ListFor(_ context.Context, workflowID, contactID string) ([]*execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*execution.Execution
	for _, e := range m.executions {
		if e.WorkflowID == workflowID && e.ContactID == contactID {
			out = append(out, cloneExecution(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}
