package metric

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/journeykit/errors"
)

func TestNewRegistryHasCoreMetrics(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r.Core)
	require.NotNil(t, r.PrometheusRegistry())

	// Core metrics must be usable immediately.
	r.Core.RecordStep("message", "success", 10*time.Millisecond)
	r.Core.RecordExecutionFinished("wf-1", "completed")
	r.Core.RecordNATSStatus(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.Core.NATSConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Core.ExecutionsTotal.WithLabelValues("wf-1", "completed")))
}

func TestRegisterAndUnregister(t *testing.T) {
	r := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_component_ops_total",
		Help: "test counter",
	})
	require.NoError(t, r.RegisterCounter("engine", "ops_total", counter))

	// Same key is rejected.
	err := r.RegisterCounter("engine", "ops_total", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	assert.True(t, r.Unregister("engine", "ops_total"))
	assert.False(t, r.Unregister("engine", "ops_total"))

	// After unregistering, the key is free again.
	require.NoError(t, r.RegisterCounter("engine", "ops_total", counter))
}

func TestRegisterAllKinds(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.RegisterGauge("a", "g", prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_g", Help: "g"})))
	require.NoError(t, r.RegisterHistogram("a", "h", prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_h", Help: "h"})))
	require.NoError(t, r.RegisterCounterVec("a", "cv", prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_cv", Help: "cv"}, []string{"l"})))
	require.NoError(t, r.RegisterGaugeVec("a", "gv", prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "test_gv", Help: "gv"}, []string{"l"})))
	require.NoError(t, r.RegisterHistogramVec("a", "hv", prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_hv", Help: "hv"}, []string{"l"})))
}

func TestPrometheusNameConflict(t *testing.T) {
	r := NewRegistry()

	c1 := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_dup_total", Help: "x"})
	c2 := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_dup_total", Help: "x"})

	require.NoError(t, r.RegisterCounter("a", "first", c1))
	// Different registry key but identical prometheus name.
	err := r.RegisterCounter("b", "second", c2)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
