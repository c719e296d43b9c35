// File: internal/observability/metrics.go
package observability

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for session and resolver activity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	steps       *prometheus.CounterVec
	stepLatency *prometheus.HistogramVec
	strategies  *prometheus.CounterVec
	fallbacks   *prometheus.CounterVec
	sessions    *prometheus.CounterVec
	active      prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns metrics registered with the global registry. The
// collectors are created once so repeated calls never double register.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs Metrics on reg, panicking on registration
// conflicts other than an identical collector already being present.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wayfarer",
			Subsystem: "session",
			Name:      "steps_total",
			Help:      "Executed steps by intent and outcome.",
		}, []string{"intent", "outcome"}),
		stepLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wayfarer",
			Subsystem: "session",
			Name:      "step_duration_seconds",
			Help:      "Wall time spent resolving and executing one step.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"intent"}),
		strategies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wayfarer",
			Subsystem: "resolver",
			Name:      "strategy_resolutions_total",
			Help:      "Targets resolved, by the strategy that found them.",
		}, []string{"strategy"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wayfarer",
			Subsystem: "resolver",
			Name:      "fallbacks_total",
			Help:      "Interaction fallbacks taken (retry, href, dispatch, generic).",
		}, []string{"kind"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wayfarer",
			Subsystem: "session",
			Name:      "terminated_total",
			Help:      "Finished sessions by termination reason.",
		}, []string{"reason"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wayfarer",
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently running.",
		}),
	}

	m.steps = register(reg, m.steps)
	m.stepLatency = register(reg, m.stepLatency)
	m.strategies = register(reg, m.strategies)
	m.fallbacks = register(reg, m.fallbacks)
	m.sessions = register(reg, m.sessions)
	m.active = register(reg, m.active)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveStep records one finished step.
func (m *Metrics) ObserveStep(intent string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.steps.WithLabelValues(intent, outcome).Inc()
	m.stepLatency.WithLabelValues(intent).Observe(d.Seconds())
}

// ObserveStrategy records which strategy resolved a target.
func (m *Metrics) ObserveStrategy(strategy string) {
	if m == nil || strategy == "" {
		return
	}
	m.strategies.WithLabelValues(strategy).Inc()
}

// ObserveFallback records an interaction fallback.
func (m *Metrics) ObserveFallback(kind string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(kind).Inc()
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.active.Inc()
}

// SessionFinished decrements the active gauge and records the reason.
func (m *Metrics) SessionFinished(reason string) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.sessions.WithLabelValues(reason).Inc()
}
