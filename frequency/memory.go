package frequency

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-memory Limiter for unit tests and single-process runs
type Memory struct {
	mu     sync.Mutex
	counts map[string]int
	held   map[string]struct{}
}

// NewMemory creates an empty in-memory limiter
func NewMemory() *Memory {
	return &Memory{
		counts: make(map[string]int),
		held:   make(map[string]struct{}),
	}
}

// TryConsume atomically takes one slot under the day's cap. A slot
// already held for sendKey is reused without consuming another.
func (m *Memory) TryConsume(_ context.Context, contactID, sendKey string, at time.Time, cap int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sendKey != "" {
		if _, ok := m.held[sendKey]; ok {
			return true, nil
		}
	}

	key := DayKey(contactID, at)
	if cap > 0 && m.counts[key] >= cap {
		return false, nil
	}
	m.counts[key]++
	if sendKey != "" {
		m.held[sendKey] = struct{}{}
	}
	return true, nil
}

// Count returns the slots consumed on the day
func (m *Memory) Count(_ context.Context, contactID string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[DayKey(contactID, at)], nil
}
