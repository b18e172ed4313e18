package health

import (
	"sort"
	"sync"
	"time"
)

// Monitor collects subsystem statuses. Reports older than the staleness
// window count as unhealthy: a subsystem that stopped reporting is as bad
// as one that reported a failure.
type Monitor struct {
	mu        sync.RWMutex
	statuses  map[string]Status
	staleness time.Duration
	now       func() time.Time
}

// MonitorOption configures a Monitor
type MonitorOption func(*Monitor)

// WithStaleness overrides the staleness window. Zero disables stale
// detection.
func WithStaleness(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.staleness = d }
}

// WithNow injects the time source for tests
func WithNow(now func() time.Time) MonitorOption {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor creates a monitor with a 60s staleness window
func NewMonitor(opts ...MonitorOption) *Monitor {
	m := &Monitor{
		statuses:  make(map[string]Status),
		staleness: 60 * time.Second,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Update records a subsystem's latest status
func (m *Monitor) Update(status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if status.Timestamp.IsZero() {
		status.Timestamp = m.now().UTC()
	}
	m.statuses[status.Subsystem] = status
}

// Healthy records a healthy report for the subsystem
func (m *Monitor) Healthy(subsystem, message string) {
	m.Update(NewHealthy(subsystem, message))
}

// Unhealthy records a failure report for the subsystem
func (m *Monitor) Unhealthy(subsystem, message string) {
	m.Update(NewUnhealthy(subsystem, message))
}

// Degraded records a degraded report for the subsystem
func (m *Monitor) Degraded(subsystem, message string) {
	m.Update(NewDegraded(subsystem, message))
}

// Get returns the current status for one subsystem
func (m *Monitor) Get(subsystem string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.statuses[subsystem]
	if !ok {
		return Status{}, false
	}
	return m.withStaleness(s), true
}

// Report aggregates all subsystem statuses into one system verdict,
// with subsystems ordered by name for stable output.
func (m *Monitor) Report(system string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]Status, 0, len(m.statuses))
	for _, s := range m.statuses {
		statuses = append(statuses, m.withStaleness(s))
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Subsystem < statuses[j].Subsystem
	})

	return Aggregate(system, statuses)
}

func (m *Monitor) withStaleness(s Status) Status {
	if m.staleness <= 0 || s.State == StateUnhealthy {
		return s
	}
	if m.now().Sub(s.Timestamp) > m.staleness {
		s.State = StateUnhealthy
		s.Message = "no report within staleness window"
	}
	return s
}
