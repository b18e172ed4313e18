// Package health tracks the liveness of engine subsystems. Each subsystem
// reports a Status into a Monitor; the metrics server serves the aggregate
// on /health so orchestrators can gate traffic on it.
package health

import (
	"regexp"
	"time"
)

// Message sanitization: status messages often carry connection errors,
// which must not leak endpoints or credentials to the health endpoint.
var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|tls|wss?)://[^\s]+`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// State is the coarse health verdict for one subsystem
type State string

const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

// Status is one subsystem's health report
type Status struct {
	Subsystem   string    `json:"subsystem"`
	State       State     `json:"state"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// Healthy reports whether the subsystem is fully operational
func (s Status) Healthy() bool {
	return s.State == StateHealthy
}

// NewHealthy builds a healthy status
func NewHealthy(subsystem, message string) Status {
	return Status{
		Subsystem: subsystem,
		State:     StateHealthy,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// NewDegraded builds a degraded status. Degraded subsystems keep serving
// but something needs attention.
func NewDegraded(subsystem, message string) Status {
	return Status{
		Subsystem: subsystem,
		State:     StateDegraded,
		Message:   sanitize(message),
		Timestamp: time.Now().UTC(),
	}
}

// NewUnhealthy builds an unhealthy status
func NewUnhealthy(subsystem, message string) Status {
	return Status{
		Subsystem: subsystem,
		State:     StateUnhealthy,
		Message:   sanitize(message),
		Timestamp: time.Now().UTC(),
	}
}

// Aggregate folds subsystem statuses into one system verdict: any
// unhealthy subsystem makes the system unhealthy, any degraded one makes
// it degraded, and an empty set counts as healthy.
func Aggregate(system string, statuses []Status) Status {
	state := StateHealthy
	for _, s := range statuses {
		switch s.State {
		case StateUnhealthy:
			state = StateUnhealthy
		case StateDegraded:
			if state == StateHealthy {
				state = StateDegraded
			}
		}
	}

	return Status{
		Subsystem:   system,
		State:       state,
		Timestamp:   time.Now().UTC(),
		SubStatuses: statuses,
	}
}

func sanitize(message string) string {
	if message == "" {
		return ""
	}
	out := urlRegex.ReplaceAllString(message, "[URL]")
	out = credentialRegex.ReplaceAllString(out, "[REDACTED]")
	return out
}
