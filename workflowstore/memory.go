package workflowstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/c360/journeykit/errors"
	"github.com/c360/journeykit/pkg/clock"
	"github.com/c360/journeykit/workflow"
)

// Memory is an in-memory Store for unit tests and single-process runs
type Memory struct {
	mu       sync.RWMutex
	heads    map[string]*workflow.Definition
	versions map[string]*workflow.Definition // keyed by VersionKey
	clock    clock.Clock
}

// MemoryOption configures a Memory store
type MemoryOption func(*Memory)

// WithClock injects a clock for deterministic timestamps
func WithClock(c clock.Clock) MemoryOption {
	return func(m *Memory) { m.clock = c }
}

// NewMemory creates an empty in-memory workflow store
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		heads:    make(map[string]*workflow.Definition),
		versions: make(map[string]*workflow.Definition),
		clock:    clock.System(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func cloneDefinition(d *workflow.Definition) *workflow.Definition {
	data, err := json.Marshal(d)
	if err != nil {
		panic(fmt.Sprintf("definition not serializable: %v", err))
	}
	var out workflow.Definition
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("definition not deserializable: %v", err))
	}
	return &out
}

// Publish validates and stores the definition as the next version
func (m *Memory) Publish(_ context.Context, def *workflow.Definition) (*workflow.Definition, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := cloneDefinition(def)
	now := m.clock.Now().UTC().Truncate(time.Millisecond)

	if head, ok := m.heads[def.ID]; ok {
		stored.Version = head.Version + 1
		stored.CreatedAt = head.CreatedAt
	} else {
		stored.Version = 1
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	m.heads[def.ID] = stored
	m.versions[workflow.VersionKey(def.ID, stored.Version)] = stored
	return cloneDefinition(stored), nil
}

// Get returns the head version of the workflow
func (m *Memory) Get(_ context.Context, workflowID string) (*workflow.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	head, ok := m.heads[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrVersionNotFound, workflowID)
	}
	return cloneDefinition(head), nil
}

// GetVersion returns one immutable published version
func (m *Memory) GetVersion(_ context.Context, workflowID string, version int) (*workflow.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.versions[workflow.VersionKey(workflowID, version)]
	if !ok {
		return nil, fmt.Errorf("%w: %s v%d", errors.ErrVersionNotFound, workflowID, version)
	}
	return cloneDefinition(d), nil
}

// UpdateStatus transitions the workflow's lifecycle status
func (m *Memory) UpdateStatus(_ context.Context, workflowID string, to workflow.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	head, ok := m.heads[workflowID]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrVersionNotFound, workflowID)
	}
	if !head.Status.CanTransition(to) {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s -> %s", errors.ErrInvalidTransition, head.Status, to),
			"Memory", "UpdateStatus", "check transition")
	}

	updated := cloneDefinition(head)
	updated.Status = to
	updated.UpdatedAt = m.clock.Now().UTC().Truncate(time.Millisecond)
	m.heads[workflowID] = updated
	return nil
}

// List returns the head version of every stored workflow
func (m *Memory) List(_ context.Context) ([]*workflow.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*workflow.Definition, 0, len(m.heads))
	for _, d := range m.heads {
		out = append(out, cloneDefinition(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
