package executionstore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/c360/journeykit/errors"
	"github.com/c360/journeykit/execution"
	"github.com/c360/journeykit/natsclient"
	"github.com/c360/journeykit/pkg/clock"
	"github.com/c360/journeykit/pkg/retry"
)

// Bucket names used by the KV store
const (
	ExecutionBucket = "executions"
	DueIndexBucket  = "execution-due"
	PairIndexBucket = "execution-pairs"
)

// dueRecord is the value stored in the due index, keyed by execution ID
type dueRecord struct {
	NextRunAt time.Time `json:"next_run_at"`
}

// KV is the durable execution store on NATS JetStream KV. The execution
// record is the source of truth; the due and pair indexes are advisory and
// re-verified against the record on read, so a crash between the record
// write and an index write only leaves a stale index entry that the next
// scan skips or repairs.
type KV struct {
	executions *natsclient.KVStore
	dueIndex   *natsclient.KVStore
	pairIndex  *natsclient.KVStore
	clock      clock.Clock
	claimTTL   time.Duration
	logger     *slog.Logger
}

// KVOption configures a KV store
type KVOption func(*KV)

// WithKVClock injects a clock for deterministic tests
func WithKVClock(c clock.Clock) KVOption {
	return func(s *KV) { s.clock = c }
}

// WithKVClaimTTL overrides the claim freshness window
func WithKVClaimTTL(ttl time.Duration) KVOption {
	return func(s *KV) { s.claimTTL = ttl }
}

// WithKVLogger sets the structured logger
func WithKVLogger(logger *slog.Logger) KVOption {
	return func(s *KV) { s.logger = logger }
}

// NewKV builds the store over three pre-created buckets
func NewKV(executions, dueIndex, pairIndex *natsclient.KVStore, opts ...KVOption) *KV {
	s := &KV{
		executions: executions,
		dueIndex:   dueIndex,
		pairIndex:  pairIndex,
		clock:      clock.System(),
		claimTTL:   ClaimTTL,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func pairKey(workflowID, contactID, executionID string) string {
	return fmt.Sprintf("%s.%s.%s", workflowID, contactID, executionID)
}

// Create persists a new execution and its index entries
func (s *KV) Create(ctx context.Context, exec *execution.Execution) error {
	if exec.ID == "" {
		return errors.WrapInvalid(
			fmt.Errorf("execution requires an id"), "KV", "Create", "validate execution")
	}

	data, err := json.Marshal(exec)
	if err != nil {
		return errors.WrapFatal(err, "KV", "Create", "marshal execution")
	}

	if _, err := s.executions.Create(ctx, exec.ID, data); err != nil {
		if natsclient.IsKVConflictError(err) {
			return errors.WrapInvalid(
				fmt.Errorf("execution %s already exists", exec.ID),
				"KV", "Create", "insert execution")
		}
		return errors.WrapTransient(err, "KV", "Create", "insert execution")
	}

	if err := s.writeDueIndex(ctx, exec.ID, exec.NextRunAt); err != nil {
		return err
	}

	key := pairKey(exec.WorkflowID, exec.ContactID, exec.ID)
	if _, err := s.pairIndex.Put(ctx, key, []byte(exec.ID)); err != nil {
		return errors.WrapTransient(err, "KV", "Create", "write pair index")
	}
	return nil
}

func (s *KV) writeDueIndex(ctx context.Context, id string, nextRunAt time.Time) error {
	data, err := json.Marshal(dueRecord{NextRunAt: nextRunAt.UTC()})
	if err != nil {
		return errors.WrapFatal(err, "KV", "writeDueIndex", "marshal due record")
	}
	if _, err := s.dueIndex.Put(ctx, id, data); err != nil {
		return errors.WrapTransient(err, "KV", "writeDueIndex", "write due index")
	}
	return nil
}

func (s *KV) dropDueIndex(ctx context.Context, id string) {
	if err := s.dueIndex.Delete(ctx, id); err != nil && err != natsclient.ErrKVKeyNotFound {
		s.logger.Warn("Failed to remove due index entry", "execution_id", id, "error", err)
	}
}

// Get returns the execution by ID
func (s *KV) Get(ctx context.Context, id string) (*execution.Execution, error) {
	entry, err := s.executions.Get(ctx, id)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, errors.ErrExecutionNotFound
		}
		return nil, errors.WrapTransient(err, "KV", "Get", "read execution")
	}

	var exec execution.Execution
	if err := json.Unmarshal(entry.Value, &exec); err != nil {
		return nil, errors.WrapFatal(err, "KV", "Get", "unmarshal execution")
	}
	return &exec, nil
}

// mutate runs a CAS read-modify-write on the execution record with the
// shared idempotency and terminal checks. fn runs only when the entry is
// new and the execution is not terminal.
func (s *KV) mutate(ctx context.Context, id string, entry execution.LogEntry,
	fn func(e *execution.Execution)) (*execution.Execution, error) {

	var result *execution.Execution
	err := s.executions.UpdateWithRetry(ctx, id, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, errors.ErrExecutionNotFound
		}

		var e execution.Execution
		if err := json.Unmarshal(current, &e); err != nil {
			return nil, fmt.Errorf("unmarshal execution: %w", err)
		}

		if entry.IdempotencyKey != "" && e.HasLogEntry(entry.IdempotencyKey) {
			result = &e
			return current, nil
		}
		if e.Status.Terminal() {
			return nil, errors.ErrExecutionFinished
		}

		logEntry := entry
		if logEntry.At.IsZero() {
			logEntry.At = s.clock.Now().UTC()
		}
		e.Log = append(e.Log, logEntry)
		fn(&e)

		result = &e
		return json.Marshal(&e)
	})
	if err != nil {
		if nested := unwrapDomain(err); nested != nil {
			return nil, nested
		}
		return nil, errors.WrapTransient(err, "KV", "mutate", "update execution")
	}
	return result, nil
}

// unwrapDomain surfaces domain sentinels that the KV retry wrapper buried
func unwrapDomain(err error) error {
	for _, sentinel := range []error{
		errors.ErrExecutionNotFound,
		errors.ErrExecutionFinished,
	} {
		if stderrors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}

// Advance moves the execution and makes it immediately due again
func (s *KV) Advance(ctx context.Context, id, newStepID string,
	entry execution.LogEntry, update *StateUpdate) error {

	now := s.clock.Now().UTC()
	exec, err := s.mutate(ctx, id, entry, func(e *execution.Execution) {
		e.CurrentStepID = newStepID
		e.NextRunAt = now
		applyState(e, update)
	})
	if err != nil {
		return err
	}
	return s.writeDueIndex(ctx, exec.ID, exec.NextRunAt)
}

// Park moves the execution and suspends it until wakeAt
func (s *KV) Park(ctx context.Context, id, newStepID string, wakeAt time.Time,
	entry execution.LogEntry, update *StateUpdate) error {

	exec, err := s.mutate(ctx, id, entry, func(e *execution.Execution) {
		e.CurrentStepID = newStepID
		e.NextRunAt = wakeAt.UTC()
		applyState(e, update)
	})
	if err != nil {
		return err
	}
	return s.writeDueIndex(ctx, exec.ID, exec.NextRunAt)
}

// Complete marks the execution completed
func (s *KV) Complete(ctx context.Context, id string,
	entry execution.LogEntry, update *StateUpdate) error {

	_, err := s.mutate(ctx, id, entry, func(e *execution.Execution) {
		now := s.clock.Now().UTC()
		e.Status = execution.StatusCompleted
		e.CompletedAt = &now
		applyState(e, update)
	})
	if err != nil {
		return err
	}
	s.dropDueIndex(ctx, id)
	return nil
}

// Fail marks the execution failed
func (s *KV) Fail(ctx context.Context, id string, entry execution.LogEntry) error {
	_, err := s.mutate(ctx, id, entry, func(e *execution.Execution) {
		now := s.clock.Now().UTC()
		e.Status = execution.StatusFailed
		e.CompletedAt = &now
	})
	if err != nil {
		return err
	}
	s.dropDueIndex(ctx, id)
	return nil
}

// Exit marks the execution exited
func (s *KV) Exit(ctx context.Context, id string, entry execution.LogEntry) error {
	_, err := s.mutate(ctx, id, entry, func(e *execution.Execution) {
		now := s.clock.Now().UTC()
		e.Status = execution.StatusExited
		e.CompletedAt = &now
	})
	if err != nil {
		return err
	}
	s.dropDueIndex(ctx, id)
	return nil
}

// LoadDue scans the due index and returns up to limit due executions,
// oldest first. Each candidate is re-verified against the execution record;
// stale index entries for finished executions are removed as they are
// found.
func (s *KV) LoadDue(ctx context.Context, now time.Time, limit int) ([]*execution.Execution, error) {
	keys, err := s.dueIndex.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "KV", "LoadDue", "list due index")
	}

	type candidate struct {
		id  string
		due time.Time
	}
	var candidates []candidate
	for _, key := range keys {
		entry, err := s.dueIndex.Get(ctx, key)
		if err != nil {
			if natsclient.IsKVNotFoundError(err) {
				continue
			}
			return nil, errors.WrapTransient(err, "KV", "LoadDue", "read due record")
		}
		var rec dueRecord
		if err := json.Unmarshal(entry.Value, &rec); err != nil {
			s.logger.Warn("Corrupt due index entry", "key", key, "error", err)
			continue
		}
		if !rec.NextRunAt.After(now) {
			candidates = append(candidates, candidate{id: key, due: rec.NextRunAt})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].due.Before(candidates[j].due)
	})

	var due []*execution.Execution
	for _, c := range candidates {
		if limit > 0 && len(due) >= limit {
			break
		}
		exec, err := s.Get(ctx, c.id)
		if err != nil {
			if err == errors.ErrExecutionNotFound {
				s.dropDueIndex(ctx, c.id)
				continue
			}
			return nil, err
		}
		if !exec.Due(now) {
			if exec.Status.Terminal() {
				s.dropDueIndex(ctx, c.id)
			}
			continue
		}
		due = append(due, exec)
	}
	return due, nil
}

// Claim marks the execution owned by workerID via CAS
func (s *KV) Claim(ctx context.Context, id, workerID string) (*execution.Execution, error) {
	var claimed *execution.Execution
	err := s.executions.UpdateWithRetry(ctx, id, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, errors.ErrExecutionNotFound
		}

		var e execution.Execution
		if err := json.Unmarshal(current, &e); err != nil {
			return nil, fmt.Errorf("unmarshal execution: %w", err)
		}
		if e.Status.Terminal() {
			return nil, errors.ErrExecutionFinished
		}

		now := s.clock.Now().UTC()
		if e.ClaimedBy != "" && e.ClaimedBy != workerID && e.Claimed(now, s.claimTTL) {
			return nil, errors.ErrExecutionClaimed
		}

		e.ClaimedBy = workerID
		e.ClaimedAt = &now
		claimed = &e
		return json.Marshal(&e)
	})
	if err != nil {
		if nested := unwrapClaimDomain(err); nested != nil {
			return nil, nested
		}
		return nil, errors.WrapTransient(err, "KV", "Claim", "claim execution")
	}
	return claimed, nil
}

func unwrapClaimDomain(err error) error {
	for _, sentinel := range []error{
		errors.ErrExecutionNotFound,
		errors.ErrExecutionFinished,
		errors.ErrExecutionClaimed,
	} {
		if stderrors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}

// Release clears a claim held by workerID
func (s *KV) Release(ctx context.Context, id, workerID string) error {
	err := s.executions.UpdateWithRetry(ctx, id, func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, errors.ErrExecutionNotFound
		}

		var e execution.Execution
		if err := json.Unmarshal(current, &e); err != nil {
			return nil, fmt.Errorf("unmarshal execution: %w", err)
		}
		if e.ClaimedBy != workerID {
			return nil, retry.NonRetryable(errNoChange)
		}

		e.ClaimedBy = ""
		e.ClaimedAt = nil
		return json.Marshal(&e)
	})
	if err != nil {
		if stderrors.Is(err, errNoChange) {
			return nil
		}
		if stderrors.Is(err, errors.ErrExecutionNotFound) {
			return errors.ErrExecutionNotFound
		}
		return errors.WrapTransient(err, "KV", "Release", "release claim")
	}
	return nil
}

var errNoChange = fmt.Errorf("no change required")

// ListFor returns all executions for one (workflow, contact) pair via the
// pair index
func (s *KV) ListFor(ctx context.Context, workflowID, contactID string) ([]*execution.Execution, error) {
	keys, err := s.pairIndex.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "KV", "ListFor", "list pair index")
	}

	prefix := fmt.Sprintf("%s.%s.", workflowID, contactID)
	var out []*execution.Execution
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		id := strings.TrimPrefix(key, prefix)
		exec, err := s.Get(ctx, id)
		if err != nil {
			if err == errors.ErrExecutionNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, exec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}
