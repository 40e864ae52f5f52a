// Package metrics exposes gate counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gate collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	decisions     *prometheus.CounterVec
	executions    *prometheus.CounterVec
	sanitizations *prometheus.CounterVec
	patterns      *prometheus.CounterVec
	riskScore     prometheus.Histogram
	decideLatency prometheus.Histogram
	reloads       *prometheus.CounterVec
	sessions      prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgate_decisions_total",
			Help: "Decision envelopes issued, by verdict and reason code.",
		}, []string{"verdict", "reason_code"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgate_executions_total",
			Help: "Execution receipts, by outcome.",
		}, []string{"outcome"}),
		sanitizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgate_sanitizations_total",
			Help: "Actions rewritten by the sanitizer, by rule.",
		}, []string{"rule"}),
		patterns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgate_sequence_patterns_total",
			Help: "Dangerous action sequences detected, by pattern.",
		}, []string{"pattern"}),
		riskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentgate_risk_score",
			Help:    "Final risk score of issued decisions.",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
		decideLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentgate_decide_duration_seconds",
			Help:    "Time spent producing a decision.",
			Buckets: prometheus.DefBuckets,
		}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentgate_config_reloads_total",
			Help: "Configuration reload attempts, by result.",
		}, []string{"result"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentgate_active_sessions",
			Help: "Agent sessions currently active.",
		}),
	}
	m.registry.MustRegister(
		m.decisions, m.executions, m.sanitizations, m.patterns,
		m.riskScore, m.decideLatency, m.reloads, m.sessions,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Decision records one issued envelope. A nil receiver is a no-op so
// callers can run without metrics.
func (m *Metrics) Decision(verdict, reasonCode string, risk int, patterns []string, took time.Duration) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(verdict, reasonCode).Inc()
	m.riskScore.Observe(float64(risk))
	m.decideLatency.Observe(took.Seconds())
	for _, p := range patterns {
		m.patterns.WithLabelValues(p).Inc()
	}
}

// Execution records one receipt.
func (m *Metrics) Execution(outcome string) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(outcome).Inc()
}

// Sanitized records one rewrite.
func (m *Metrics) Sanitized(rule string) {
	if m == nil {
		return
	}
	m.sanitizations.WithLabelValues(rule).Inc()
}

// Reload records a configuration reload.
func (m *Metrics) Reload(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.reloads.WithLabelValues(result).Inc()
}

// ActiveSessions sets the active session gauge.
func (m *Metrics) ActiveSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}
