package contact

import (
	"context"
	"sync"
	"time"

	"github.com/c360/journeykit/errors"
	"github.com/c360/journeykit/pkg/clock"
)

// MemoryStore is an in-memory Store for tests and single-process use.
// Mutations are serialized under one lock, so conflicts cannot occur here;
// the interface still reports them for KV-backed implementations.
type MemoryStore struct {
	mu       sync.RWMutex
	contacts map[string]*Snapshot
	clock    clock.Clock
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithClock injects a clock, used by tests to control UpdatedAt
func WithClock(c clock.Clock) MemoryOption {
	return func(s *MemoryStore) { s.clock = c }
}

// NewMemoryStore creates an empty in-memory contact store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		contacts: make(map[string]*Snapshot),
		clock:    clock.System(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put inserts or replaces a contact. Used to seed stores.
func (s *MemoryStore) Put(snapshot *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[snapshot.ID] = snapshot.Clone()
}

// Get returns a snapshot of the contact
func (s *MemoryStore) Get(_ context.Context, contactID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contacts[contactID]
	if !ok {
		return nil, errors.ErrContactNotFound
	}
	return c.Clone(), nil
}

// ApplyMutation applies one change and returns the updated snapshot
func (s *MemoryStore) ApplyMutation(_ context.Context, contactID string, m Mutation) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contacts[contactID]
	if !ok {
		return nil, errors.ErrContactNotFound
	}

	updated := c.Clone()
	if err := m.Apply(updated); err != nil {
		return nil, errors.WrapInvalid(err, "MemoryStore", "ApplyMutation", "apply mutation")
	}
	updated.UpdatedAt = s.clock.Now().UTC().Truncate(time.Millisecond)

	s.contacts[contactID] = updated
	return updated.Clone(), nil
}

// Len reports how many contacts are stored
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contacts)
}
