// Package metrics holds the Prometheus collectors for the pipeline. Every
// method is safe on a nil *Metrics so components can run without metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crosspost/internal/outbox"
)

const namespace = "crosspost"

// Metrics groups the pipeline collectors and the registry serving them.
type Metrics struct {
	registry *prometheus.Registry

	StageDuration   *prometheus.HistogramVec
	StageOutcomes   *prometheus.CounterVec
	Posts           *prometheus.CounterVec
	Runs            *prometheus.CounterVec
	Violations      *prometheus.CounterVec
	RateLimitWait   *prometheus.HistogramVec
	BreakerState    *prometheus.GaugeVec
	OutboxEvents    *prometheus.GaugeVec
	OutboxReclaimed prometheus.Counter
}

// New registers the collectors on a fresh registry along with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent executing one pipeline stage event.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"stage", "outcome"}),
		StageOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_events_total",
			Help:      "Stage events by outcome: processed, retry, throttle, failed.",
		}, []string{"stage", "outcome"}),
		Posts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_finalized_total",
			Help:      "Platform posts reaching a terminal status.",
		}, []string{"platform", "status"}),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finalized_total",
			Help:      "Runs reaching a terminal status.",
		}, []string{"status"}),
		Violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "preflight_violations_total",
			Help:      "Preflight violations found.",
		}, []string{"platform", "type", "severity"}),
		RateLimitWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ratelimit_wait_seconds",
			Help:      "Time spent waiting for a rate limit slot.",
			Buckets:   []float64{0, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"platform"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_open",
			Help:      "1 when the platform circuit breaker is open or half-open.",
		}, []string{"platform"}),
		OutboxEvents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_events",
			Help:      "Outbox events by status at the last sweep.",
		}, []string{"status"}),
		OutboxReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_reclaimed_total",
			Help:      "Processing events returned to pending after their heartbeat expired.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.StageDuration, m.StageOutcomes, m.Posts, m.Runs, m.Violations,
		m.RateLimitWait, m.BreakerState, m.OutboxEvents, m.OutboxReclaimed,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStage records one stage execution.
func (m *Metrics) ObserveStage(stage, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage, outcome).Observe(took.Seconds())
	m.StageOutcomes.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) IncPost(platform, status string) {
	if m == nil {
		return
	}
	m.Posts.WithLabelValues(platform, status).Inc()
}

func (m *Metrics) IncRun(status string) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(status).Inc()
}

func (m *Metrics) IncViolation(platform, violationType, severity string) {
	if m == nil {
		return
	}
	m.Violations.WithLabelValues(platform, violationType, severity).Inc()
}

// ObserveRateLimitWait records an Acquire wait. Only the platform is used as
// a label to keep chat ids out of the series set.
func (m *Metrics) ObserveRateLimitWait(platform string, waited time.Duration) {
	if m == nil {
		return
	}
	m.RateLimitWait.WithLabelValues(platform).Observe(waited.Seconds())
}

// SetBreakerState records a circuit breaker transition.
func (m *Metrics) SetBreakerState(platform, state string) {
	if m == nil {
		return
	}
	value := 0.0
	if state != "closed" {
		value = 1
	}
	m.BreakerState.WithLabelValues(platform).Set(value)
}

// SetOutboxStats publishes the latest outbox counts.
func (m *Metrics) SetOutboxStats(stats outbox.Stats) {
	if m == nil {
		return
	}
	m.OutboxEvents.WithLabelValues(string(outbox.StatusPending)).Set(float64(stats.Pending))
	m.OutboxEvents.WithLabelValues(string(outbox.StatusProcessing)).Set(float64(stats.Processing))
	m.OutboxEvents.WithLabelValues(string(outbox.StatusProcessed)).Set(float64(stats.Processed))
	m.OutboxEvents.WithLabelValues(string(outbox.StatusFailed)).Set(float64(stats.Failed))
}

func (m *Metrics) AddReclaimed(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.OutboxReclaimed.Add(float64(n))
}
