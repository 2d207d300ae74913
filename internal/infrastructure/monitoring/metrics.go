package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	Registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Relay metrics
	RelayCalls     *prometheus.CounterVec
	RelayDuration  *prometheus.HistogramVec
	PendingCalls   *prometheus.GaugeVec
	StaleResponses *prometheus.CounterVec

	// Backend metrics
	ProbeAttempts *prometheus.CounterVec
	RetryAttempts prometheus.Counter
	BackendReady  prometheus.Gauge

	// Bridge metrics
	Registrations  prometheus.Counter
	AutoRegistered prometheus.Counter

	// Page session metrics
	PageSessions prometheus.Gauge
	WSMessages   *prometheus.CounterVec
}

// NewMetrics creates a metrics collector on its own registry, so several
// relays (and tests) can coexist in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oprelay_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oprelay_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oprelay_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oprelay_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		// Relay metrics
		RelayCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oprelay_calls_total",
				Help: "Total number of relayed backend calls by op and outcome",
			},
			[]string{"op", "outcome"},
		),
		RelayDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oprelay_call_duration_seconds",
				Help:    "Relayed call duration in seconds, including readiness waits",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10, 15},
			},
			[]string{"op"},
		),
		PendingCalls: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "oprelay_pending_calls",
				Help: "Calls awaiting a response, by hop",
			},
			[]string{"hop"},
		),
		StaleResponses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oprelay_stale_responses_total",
				Help: "Responses discarded because their call had already settled",
			},
			[]string{"hop"},
		),

		// Backend metrics
		ProbeAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oprelay_probe_attempts_total",
				Help: "Backend health probes by result",
			},
			[]string{"result"},
		),
		RetryAttempts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "oprelay_readiness_checks_total",
				Help: "Readiness checks made by calls waiting for the backend",
			},
		),
		BackendReady: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "oprelay_backend_ready",
				Help: "1 when the backend answered a probe since the last disconnect",
			},
		),

		// Bridge metrics
		Registrations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "oprelay_registrations_total",
				Help: "Instance handles registered",
			},
		),
		AutoRegistered: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "oprelay_auto_registrations_total",
				Help: "Instance handles created implicitly for unknown targets",
			},
		),

		// Page session metrics
		PageSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "oprelay_page_sessions",
				Help: "Number of connected page sessions",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oprelay_ws_messages_total",
				Help: "Total number of page session messages",
			},
			[]string{"direction", "type"},
		),
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))
}

// RecordCall records one relayed call
func (m *Metrics) RecordCall(op, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RelayCalls.WithLabelValues(op, outcome).Inc()
	m.RelayDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordProbe records one health probe
func (m *Metrics) RecordProbe(ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.ProbeAttempts.WithLabelValues(result).Inc()
}

// IncRetryAttempts counts one readiness check made by a waiting call
func (m *Metrics) IncRetryAttempts() {
	if m == nil {
		return
	}
	m.RetryAttempts.Inc()
}

// SetBackendReady publishes the readiness state
func (m *Metrics) SetBackendReady(ready bool) {
	if m == nil {
		return
	}
	if ready {
		m.BackendReady.Set(1)
	} else {
		m.BackendReady.Set(0)
	}
}

// AddPending adjusts the pending call gauge for hop
func (m *Metrics) AddPending(hop string, delta int) {
	if m == nil {
		return
	}
	m.PendingCalls.WithLabelValues(hop).Add(float64(delta))
}

// IncStale counts a discarded late response on hop
func (m *Metrics) IncStale(hop string) {
	if m == nil {
		return
	}
	m.StaleResponses.WithLabelValues(hop).Inc()
}

// IncRegistrations counts a registered handle
func (m *Metrics) IncRegistrations(auto bool) {
	if m == nil {
		return
	}
	m.Registrations.Inc()
	if auto {
		m.AutoRegistered.Inc()
	}
}

// RecordWSMessage records a page session message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncPageSessions increments page sessions
func (m *Metrics) IncPageSessions() {
	if m == nil {
		return
	}
	m.PageSessions.Inc()
}

// DecPageSessions decrements page sessions
func (m *Metrics) DecPageSessions() {
	if m == nil {
		return
	}
	m.PageSessions.Dec()
}
