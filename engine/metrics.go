package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/journeykit/metric"
)

// engineMetrics holds Prometheus metrics for the scheduler and the
// per-execution advance loop.
type engineMetrics struct {
	// Scheduler
	ticks     prometheus.Counter
	dueLoaded prometheus.Histogram

	// Advance loop
	passSteps      prometheus.Histogram
	claimConflicts prometheus.Counter
	stepDuration   *prometheus.HistogramVec // By step kind and status
	finished       *prometheus.CounterVec   // By terminal status

	// Entry
	enrollments *prometheus.CounterVec // By workflow_id and decision
}

// newEngineMetrics creates and registers engine metrics with the provided
// registry. A nil registry disables metrics; every record method is safe
// to call on a nil receiver.
func newEngineMetrics(registry *metric.Registry) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &engineMetrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "journeykit",
			Subsystem: "engine",
			Name:      "ticks_total",
			Help:      "Total number of scheduler ticks",
		}),

		dueLoaded: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "journeykit",
			Subsystem: "engine",
			Name:      "due_loaded",
			Help:      "Due executions loaded per scheduler tick",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		}),

		passSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "journeykit",
			Subsystem: "engine",
			Name:      "pass_steps",
			Help:      "Steps advanced within one processing pass",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		}),

		claimConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "journeykit",
			Subsystem: "engine",
			Name:      "claim_conflicts_total",
			Help:      "Executions skipped because another worker held the claim",
		}),

		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "journeykit",
			Subsystem: "engine",
			Name:      "step_duration_seconds",
			Help:      "Step processing duration in seconds, including retries",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
		}, []string{"kind", "status"}), // status: success, failure

		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "journeykit",
			Subsystem: "engine",
			Name:      "executions_finished_total",
			Help:      "Executions reaching a terminal status",
		}, []string{"status"}), // status: completed, failed, exited

		enrollments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "journeykit",
			Subsystem: "engine",
			Name:      "enrollments_total",
			Help:      "Enrollment decisions by outcome",
		}, []string{"workflow_id", "decision"}), // decision: admitted or a refusal reason
	}

	if err := registry.RegisterCounter("engine", "ticks", m.ticks); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("engine", "due_loaded", m.dueLoaded); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("engine", "pass_steps", m.passSteps); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("engine", "claim_conflicts", m.claimConflicts); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("engine", "step_duration", m.stepDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "executions_finished", m.finished); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "enrollments", m.enrollments); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *engineMetrics) recordTick() {
	if m != nil {
		m.ticks.Inc()
	}
}

func (m *engineMetrics) recordDueLoaded(count int) {
	if m != nil {
		m.dueLoaded.Observe(float64(count))
	}
}

func (m *engineMetrics) recordPassSteps(count int) {
	if m != nil {
		m.passSteps.Observe(float64(count))
	}
}

func (m *engineMetrics) recordClaimConflict() {
	if m != nil {
		m.claimConflicts.Inc()
	}
}

func (m *engineMetrics) recordStep(kind string, success bool, duration float64) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.stepDuration.WithLabelValues(kind, status).Observe(duration)
}

func (m *engineMetrics) recordFinished(status string) {
	if m != nil {
		m.finished.WithLabelValues(status).Inc()
	}
}

func (m *engineMetrics) recordEnrollment(workflowID, decision string) {
	if m != nil {
		m.enrollments.WithLabelValues(workflowID, decision).Inc()
	}
}
