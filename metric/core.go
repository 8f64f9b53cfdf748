package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the core platform metrics shared across components.
// Component-specific metrics (cache, engine, lifecycle) are registered
// separately through the MetricsRegistrar interface.
type Metrics struct {
	PayloadsReceived   *prometheus.CounterVec
	PropositionsCached *prometheus.CounterVec
	RulesRegistered    *prometheus.GaugeVec
	TrackingEvents     *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		PayloadsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "messagekit",
				Subsystem: "payloads",
				Name:      "received_total",
				Help:      "Total number of personalization payloads received",
			},
			[]string{"service", "status"},
		),

		PropositionsCached: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "messagekit",
				Subsystem: "propositions",
				Name:      "cached_total",
				Help:      "Total number of propositions written to the cache",
			},
			[]string{"service"},
		),

		RulesRegistered: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "messagekit",
				Subsystem: "rules",
				Name:      "registered",
				Help:      "Number of rules currently registered per surface",
			},
			[]string{"surface"},
		),

		TrackingEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "messagekit",
				Subsystem: "tracking",
				Name:      "events_total",
				Help:      "Total number of tracking events dispatched",
			},
			[]string{"event_type"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "messagekit",
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Payload processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service", "operation"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "messagekit",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by component and class",
			},
			[]string{"service", "class"},
		),
	}
}
