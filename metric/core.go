package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains platform-level metrics shared across engine components
type Metrics struct {
	// Execution metrics
	ExecutionsActive prometheus.Gauge
	ExecutionsTotal  *prometheus.CounterVec
	StepsProcessed   *prometheus.CounterVec
	StepDuration     *prometheus.HistogramVec
	MessagesSent     *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ExecutionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "journeykit",
				Subsystem: "executions",
				Name:      "active",
				Help:      "Current number of running executions",
			},
		),

		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "journeykit",
				Subsystem: "executions",
				Name:      "total",
				Help:      "Total executions by final status",
			},
			[]string{"workflow_id", "status"},
		),

		StepsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "journeykit",
				Subsystem: "steps",
				Name:      "processed_total",
				Help:      "Total steps processed by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),

		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "journeykit",
				Subsystem: "steps",
				Name:      "duration_seconds",
				Help:      "Step processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),

		MessagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "journeykit",
				Subsystem: "delivery",
				Name:      "sent_total",
				Help:      "Total messages handed to the delivery provider",
			},
			[]string{"workflow_id", "status"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "journeykit",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total errors by component and class",
			},
			[]string{"component", "class"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "journeykit",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "journeykit",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

// Register adds the platform metrics to the registry so they show up on
// the metrics endpoint alongside component metrics.
func (m *Metrics) Register(r *Registry) error {
	if r == nil {
		return nil
	}
	if err := r.RegisterGauge("core", "executions_active", m.ExecutionsActive); err != nil {
		return err
	}
	if err := r.RegisterCounterVec("core", "executions_total", m.ExecutionsTotal); err != nil {
		return err
	}
	if err := r.RegisterCounterVec("core", "steps_processed_total", m.StepsProcessed); err != nil {
		return err
	}
	if err := r.RegisterHistogramVec("core", "step_duration_seconds", m.StepDuration); err != nil {
		return err
	}
	if err := r.RegisterCounterVec("core", "messages_sent_total", m.MessagesSent); err != nil {
		return err
	}
	if err := r.RegisterCounterVec("core", "errors_total", m.ErrorsTotal); err != nil {
		return err
	}
	if err := r.RegisterGauge("core", "nats_connected", m.NATSConnected); err != nil {
		return err
	}
	return r.RegisterCounter("core", "nats_reconnects_total", m.NATSReconnects)
}

// RecordExecutionFinished increments the per-workflow terminal status counter
func (m *Metrics) RecordExecutionFinished(workflowID, status string) {
	m.ExecutionsTotal.WithLabelValues(workflowID, status).Inc()
}

// RecordStep increments the step counter and observes its duration
func (m *Metrics) RecordStep(kind, outcome string, elapsed time.Duration) {
	m.StepsProcessed.WithLabelValues(kind, outcome).Inc()
	m.StepDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// RecordMessageSent increments the delivery counter
func (m *Metrics) RecordMessageSent(workflowID, status string) {
	m.MessagesSent.WithLabelValues(workflowID, status).Inc()
}

// RecordError increments the error counter
func (m *Metrics) RecordError(component, class string) {
	m.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordNATSStatus updates NATS connection status
func (m *Metrics) RecordNATSStatus(connected bool) {
	v := 0.0
	if connected {
		v = 1.0
	}
	m.NATSConnected.Set(v)
}

// RecordNATSReconnect increments the reconnection counter
func (m *Metrics) RecordNATSReconnect() {
	m.NATSReconnects.Inc()
}
