package rules

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/messagekit/metric"
)

// Engine is the per-surface rule registry. A surface's rule set is always
// replaced wholesale; registration after a refresh retracts the previous set
// first so stale rules never accumulate.
type Engine struct {
	logger  *slog.Logger
	metrics *engineMetrics

	mu        sync.RWMutex
	bySurface map[string][]CompiledRule
}

// NewEngine creates a rule engine. registry may be nil to disable metrics.
func NewEngine(logger *slog.Logger, registry *metric.MetricsRegistry) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger:    logger.With("component", "rules.Engine"),
		metrics:   newEngineMetrics(registry),
		bySurface: make(map[string][]CompiledRule),
	}
}

// RegisterRules replaces the rule set registered for a surface. Passing an
// empty slice is equivalent to RetractRules.
func (e *Engine) RegisterRules(surfaceURI string, rules []CompiledRule) {
	e.mu.Lock()
	previous := len(e.bySurface[surfaceURI])
	if len(rules) == 0 {
		delete(e.bySurface, surfaceURI)
	} else {
		e.bySurface[surfaceURI] = rules
	}
	total := e.ruleCountLocked()
	e.mu.Unlock()

	e.metrics.setActiveRules(total)
	e.logger.Info("rules registered",
		"surface", surfaceURI,
		"count", len(rules),
		"replaced", previous)
}

// RetractRules removes every rule registered for a surface and returns how
// many were removed.
func (e *Engine) RetractRules(surfaceURI string) int {
	e.mu.Lock()
	removed := len(e.bySurface[surfaceURI])
	delete(e.bySurface, surfaceURI)
	total := e.ruleCountLocked()
	e.mu.Unlock()

	e.metrics.setActiveRules(total)
	if removed > 0 {
		e.logger.Info("rules retracted", "surface", surfaceURI, "count", removed)
	}
	return removed
}

// Evaluate matches every registered rule's condition tree against a context
// map and returns the rules that fired. Evaluation errors drop the offending
// rule from the result without aborting the pass.
func (e *Engine) Evaluate(context map[string]any) []CompiledRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var triggered []CompiledRule
	for surfaceURI, rules := range e.bySurface {
		for _, rule := range rules {
			matched, err := rule.Condition.Evaluate(context)
			if err != nil {
				e.metrics.recordEvaluation("error")
				e.logger.Warn("condition evaluation failed",
					"surface", surfaceURI,
					"consequence_id", rule.ConsequenceID,
					"error", err)
				continue
			}
			if matched {
				e.metrics.recordEvaluation("match")
				e.metrics.recordTrigger(rule.ConsequenceType)
				triggered = append(triggered, rule)
			} else {
				e.metrics.recordEvaluation("no_match")
			}
		}
	}
	return triggered
}

// RuleCount returns the number of rules currently registered across all
// surfaces.
func (e *Engine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ruleCountLocked()
}

// Surfaces returns the URIs that currently have registered rules.
func (e *Engine) Surfaces() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	surfaces := make([]string, 0, len(e.bySurface))
	for uri := range e.bySurface {
		surfaces = append(surfaces, uri)
	}
	return surfaces
}

func (e *Engine) ruleCountLocked() int {
	total := 0
	for _, rules := range e.bySurface {
		total += len(rules)
	}
	return total
}

// engineMetrics holds Prometheus metrics for the rule engine.
type engineMetrics struct {
	activeRules      prometheus.Gauge
	evaluationsTotal *prometheus.CounterVec
	triggersTotal    *prometheus.CounterVec
}

// newEngineMetrics creates and registers engine metrics. Returns nil when no
// registry is provided.
func newEngineMetrics(registry *metric.MetricsRegistry) *engineMetrics {
	if registry == nil {
		return nil
	}

	metrics := &engineMetrics{
		activeRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "messagekit",
			Subsystem: "rules",
			Name:      "active_rules",
			Help:      "Number of rules currently registered",
		}),

		evaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "messagekit",
			Subsystem: "rules",
			Name:      "evaluations_total",
			Help:      "Condition evaluations performed",
		}, []string{"result"}),

		triggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "messagekit",
			Subsystem: "rules",
			Name:      "triggers_total",
			Help:      "Rules whose condition matched a context event",
		}, []string{"consequence_type"}),
	}

	registry.PrometheusRegistry().MustRegister(
		metrics.activeRules,
		metrics.evaluationsTotal,
		metrics.triggersTotal,
	)

	return metrics
}

func (m *engineMetrics) setActiveRules(n int) {
	if m == nil {
		return
	}
	m.activeRules.Set(float64(n))
}

func (m *engineMetrics) recordEvaluation(result string) {
	if m == nil {
		return
	}
	m.evaluationsTotal.WithLabelValues(result).Inc()
}

func (m *engineMetrics) recordTrigger(consequenceType string) {
	if m == nil {
		return
	}
	m.triggersTotal.WithLabelValues(consequenceType).Inc()
}
