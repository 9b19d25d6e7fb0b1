package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the streaming orchestrator.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry               *prometheus.Registry
	requestsTotal          prometheus.Counter
	errorsTotal            prometheus.Counter
	sessionsStartedTotal   prometheus.Counter
	sessionsStoppedTotal   prometheus.Counter
	sessionsFailedTotal    prometheus.Counter
	encoderLinesTotal      prometheus.Counter
	persistenceErrorsTotal prometheus.Counter
	activeSessions         prometheus.Gauge
	provisionDuration      prometheus.Histogram
}

// New creates and registers Prometheus metrics for the orchestrator.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ytlive_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ytlive_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		sessionsStartedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ytlive_sessions_started_total",
			Help: "Total number of sessions that reached the live state",
		}),
		sessionsStoppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ytlive_sessions_stopped_total",
			Help: "Total number of sessions that ended in the stopped state",
		}),
		sessionsFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ytlive_sessions_failed_total",
			Help: "Total number of sessions that ended in the failed state",
		}),
		encoderLinesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ytlive_encoder_output_lines_total",
			Help: "Total number of encoder output lines forwarded to the event store",
		}),
		persistenceErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ytlive_persistence_errors_total",
			Help: "Total number of failed event or session writes",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ytlive_active_sessions",
			Help: "Number of sessions currently provisioning, live or stopping",
		}),
		provisionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ytlive_provision_duration_seconds",
			Help:    "Time spent creating and binding a broadcast",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.sessionsStartedTotal,
		m.sessionsStoppedTotal,
		m.sessionsFailedTotal,
		m.encoderLinesTotal,
		m.persistenceErrorsTotal,
		m.activeSessions,
		m.provisionDuration,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

func (m *Metrics) IncSessionsStarted() {
	if m == nil {
		return
	}
	m.sessionsStartedTotal.Inc()
}

func (m *Metrics) IncSessionsStopped() {
	if m == nil {
		return
	}
	m.sessionsStoppedTotal.Inc()
}

func (m *Metrics) IncSessionsFailed() {
	if m == nil {
		return
	}
	m.sessionsFailedTotal.Inc()
}

func (m *Metrics) IncEncoderLines() {
	if m == nil {
		return
	}
	m.encoderLinesTotal.Inc()
}

func (m *Metrics) IncPersistenceErrors() {
	if m == nil {
		return
	}
	m.persistenceErrorsTotal.Inc()
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// ObserveProvision records how long a provisioning attempt took.
func (m *Metrics) ObserveProvision(d time.Duration) {
	if m == nil {
		return
	}
	m.provisionDuration.Observe(d.Seconds())
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
