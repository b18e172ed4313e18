// Package executionstore persists executions durably and atomically: every
// position change lands together with the log entry explaining it, and
// replaying a mutation with an idempotency key already in the log is a
// no-op. Two implementations exist: Memory for unit tests and KV on NATS
// JetStream for production.
package executionstore

import (
	"context"
	"time"

	"github.com/c360/journeykit/contact"
	"github.com/c360/journeykit/execution"
)

// StateUpdate carries context and contact snapshot changes that must land
// atomically with a position change. Nil fields leave state untouched.
type StateUpdate struct {
	Context map[string]any
	Contact *contact.Snapshot
}

// Store is the durable execution store contract. All mutating operations
// are idempotent on the entry's IdempotencyKey: a key already present in
// the log makes the call a no-op. Mutations on a terminal execution return
// ErrExecutionFinished.
type Store interface {
	// Create persists a new execution. The execution must carry an ID,
	// position, and NextRunAt.
	Create(ctx context.Context, exec *execution.Execution) error

	// Get returns the execution by ID, or ErrExecutionNotFound.
	Get(ctx context.Context, id string) (*execution.Execution, error)

	// Advance moves the execution to newStepID, appends the entry, and
	// makes it immediately due again.
	Advance(ctx context.Context, id, newStepID string, entry execution.LogEntry, update *StateUpdate) error

	// Park moves the execution to newStepID, appends the entry, and
	// suspends it until wakeAt. The process can restart while parked with
	// nothing lost.
	Park(ctx context.Context, id, newStepID string, wakeAt time.Time, entry execution.LogEntry, update *StateUpdate) error

	// Complete appends the final entry and marks the execution completed.
	Complete(ctx context.Context, id string, entry execution.LogEntry, update *StateUpdate) error

	// Fail appends the failure entry and marks the execution failed.
	Fail(ctx context.Context, id string, entry execution.LogEntry) error

	// Exit appends the entry and marks the execution exited (workflow
	// archived mid-run or entry conditions invalidated).
	Exit(ctx context.Context, id string, entry execution.LogEntry) error

	// LoadDue returns up to limit running executions whose NextRunAt has
	// passed, oldest first.
	LoadDue(ctx context.Context, now time.Time, limit int) ([]*execution.Execution, error)

	// Claim marks the execution as owned by workerID so no other worker
	// advances it concurrently. A fresh claim held elsewhere returns
	// ErrExecutionClaimed; stale claims are taken over.
	Claim(ctx context.Context, id, workerID string) (*execution.Execution, error)

	// Release clears a claim held by workerID. Releasing a claim that is
	// no longer held is a no-op.
	Release(ctx context.Context, id, workerID string) error

	// ListFor returns all executions for one (workflow, contact) pair,
	// used by the trigger gate for re-entry checks.
	ListFor(ctx context.Context, workflowID, contactID string) ([]*execution.Execution, error)
}

// ClaimTTL is how long a claim is honored before it is considered
// abandoned by a crashed worker.
const ClaimTTL = 30 * time.Second
