package delivery

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/c360/journeykit/errors"
	"github.com/c360/journeykit/pkg/clock"
)

// Memory is an in-process Provider for tests and local runs. It honors
// idempotency keys and can inject failures to exercise retry paths.
type Memory struct {
	mu       sync.Mutex
	byKey    map[string]*Receipt
	sends    []SendRequest
	failures int
	failWith error
	clock    clock.Clock
}

// MemoryOption configures a Memory provider
type MemoryOption func(*Memory)

// WithClock injects a clock for deterministic receipts
func WithClock(c clock.Clock) MemoryOption {
	return func(m *Memory) { m.clock = c }
}

// NewMemory creates an empty in-memory provider
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		byKey: make(map[string]*Receipt),
		clock: clock.System(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FailNext makes the next n sends fail with err before any is recorded
func (m *Memory) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
	m.failWith = err
}

// Send records the message, deduplicating on the idempotency key
func (m *Memory) Send(ctx context.Context, req SendRequest) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapTransient(errors.ErrDeliveryTimeout, "Memory", "Send", "send message")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failures > 0 {
		m.failures--
		return nil, m.failWith
	}

	if req.IdempotencyKey != "" {
		if prior, ok := m.byKey[req.IdempotencyKey]; ok {
			dup := *prior
			dup.Duplicate = true
			return &dup, nil
		}
	}

	receipt := &Receipt{
		DeliveryID: uuid.NewString(),
		SentAt:     m.clock.Now().UTC(),
	}
	if req.IdempotencyKey != "" {
		m.byKey[req.IdempotencyKey] = receipt
	}
	m.sends = append(m.sends, req)
	return receipt, nil
}

// Sends returns a copy of every recorded (non-duplicate) send
func (m *Memory) Sends() []SendRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SendRequest, len(m.sends))
	copy(out, m.sends)
	return out
}

// SendCount reports how many distinct sends happened
func (m *Memory) SendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sends)
}
