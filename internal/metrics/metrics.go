package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "diagrammer"

// Metrics holds every collector the service exports. Each instance owns its
// own registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	attempts      *prometheus.CounterVec
	attemptTime   *prometheus.HistogramVec
	runs          *prometheus.CounterVec
	runTime       *prometheus.HistogramVec
	runAttempts   prometheus.Histogram
	turns         *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
	gateActive    prometheus.Gauge
	gateRejected  prometheus.Counter
	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
	conversations prometheus.Gauge
}

// New creates the collectors on a fresh registry, including the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "generation", Name: "attempts_total",
			Help: "Generation attempts by outcome (accepted, rejected, malformed, error)",
		}, []string{"outcome"}),
		attemptTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "generation", Name: "attempt_duration_seconds",
			Help:    "Latency of one generate-validate attempt",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"outcome"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "generation", Name: "runs_total",
			Help: "Finished generation runs by status",
		}, []string{"status"}),
		runTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "generation", Name: "run_duration_seconds",
			Help:    "End-to-end latency of a generation run",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"status"}),
		runAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "generation", Name: "run_attempts",
			Help:    "Attempts used per finished run",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 10},
		}),
		turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "conversation", Name: "turns_total",
			Help: "Conversation turns by action",
		}, []string{"action"}),
		conversations: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "conversation", Name: "active",
			Help: "Conversations currently held in memory",
		}),
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "generator", Name: "circuit_state",
			Help: "Circuit breaker state per backend (0 closed, 1 half-open, 2 open)",
		}, []string{"backend"}),
		gateActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "admission", Name: "active_runs",
			Help: "Runs currently holding an admission slot",
		}),
		gateRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "admission", Name: "rejected_total",
			Help: "Requests rejected because no admission slot was available",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// AttemptFinished records one attempt.
func (m *Metrics) AttemptFinished(outcome string, d time.Duration) {
	m.attempts.WithLabelValues(outcome).Inc()
	m.attemptTime.WithLabelValues(outcome).Observe(d.Seconds())
}

// RunFinished records one finished run.
func (m *Metrics) RunFinished(status string, attempts int, d time.Duration) {
	m.runs.WithLabelValues(status).Inc()
	m.runTime.WithLabelValues(status).Observe(d.Seconds())
	m.runAttempts.Observe(float64(attempts))
}

// TurnFinished records a conversation turn.
func (m *Metrics) TurnFinished(action string) {
	m.turns.WithLabelValues(action).Inc()
}

// SetConversations records the size of the session table.
func (m *Metrics) SetConversations(n int) {
	m.conversations.Set(float64(n))
}

// BreakerChanged records a circuit breaker transition. state is the
// breaker's state name.
func (m *Metrics) BreakerChanged(backend, state string) {
	v := 0.0
	switch state {
	case "half_open":
		v = 1
	case "open":
		v = 2
	}
	m.breakerState.WithLabelValues(backend).Set(v)
}

// SetActiveRuns records how many admission slots are held.
func (m *Metrics) SetActiveRuns(n int64) {
	m.gateActive.Set(float64(n))
}

// Rejected records an admission rejection.
func (m *Metrics) Rejected() {
	m.gateRejected.Inc()
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(route string, code int, d time.Duration) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpLatency.WithLabelValues(route).Observe(d.Seconds())
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
