package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistry(t *testing.T) {
	r := NewMetricsRegistry()
	require.NotNil(t, r)
	require.NotNil(t, r.PrometheusRegistry())
	require.NotNil(t, r.CoreMetrics())
}

func TestRegisterCounter(t *testing.T) {
	r := NewMetricsRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_assets_fetched_total",
		Help: "test counter",
	})

	require.NoError(t, r.RegisterCounter("asset_cache", "fetched_total", counter))

	// Duplicate registration under the same service.metric key is rejected
	err := r.RegisterCounter("asset_cache", "fetched_total", counter)
	assert.Error(t, err)
}

func TestRegisterSameNameDifferentService(t *testing.T) {
	r := NewMetricsRegistry()

	c1 := prometheus.NewCounter(prometheus.CounterOpts{Name: "svc_a_ops_total", Help: "a"})
	c2 := prometheus.NewCounter(prometheus.CounterOpts{Name: "svc_b_ops_total", Help: "b"})

	require.NoError(t, r.RegisterCounter("svc_a", "ops_total", c1))
	require.NoError(t, r.RegisterCounter("svc_b", "ops_total", c2))
}

func TestUnregister(t *testing.T) {
	r := NewMetricsRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_display_slot_occupied",
		Help: "test gauge",
	})

	require.NoError(t, r.RegisterGauge("lifecycle", "slot_occupied", gauge))
	assert.True(t, r.Unregister("lifecycle", "slot_occupied"))
	assert.False(t, r.Unregister("lifecycle", "slot_occupied"), "second unregister is a no-op")

	// Re-registration works after unregister
	require.NoError(t, r.RegisterGauge("lifecycle", "slot_occupied", gauge))
}

func TestRegisterVecMetrics(t *testing.T) {
	r := NewMetricsRegistry()

	cv := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_rule_evaluations_total",
		Help: "test",
	}, []string{"surface"})
	require.NoError(t, r.RegisterCounterVec("engine", "evaluations_total", cv))

	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_compile_duration_seconds",
		Help: "test",
	}, []string{"status"})
	require.NoError(t, r.RegisterHistogramVec("compiler", "compile_duration_seconds", hv))
}
