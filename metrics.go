package authclient

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector receives gateway and coordinator measurements.
type MetricsCollector interface {
	RecordRequest(method string, status int, duration time.Duration)
	RecordRequestFailure(method string, kind RequestErrorKind)
	RecordTransition(phase Phase)
	RecordStaleResult()
}

// Collector is the Prometheus MetricsCollector.
type Collector struct {
	requests        *prometheus.CounterVec
	requestFailures *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	transitions     *prometheus.CounterVec
	staleResults    prometheus.Counter
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authclient_requests_total",
			Help: "Backend requests by method and response status.",
		}, []string{"method", "status_code"}),
		requestFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authclient_request_failures_total",
			Help: "Backend request failures by method and kind.",
		}, []string{"method", "kind"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authclient_request_latency_seconds",
			Help:    "Backend request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authclient_session_transitions_total",
			Help: "Session state transitions by resulting phase.",
		}, []string{"phase"}),
		staleResults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authclient_stale_results_total",
			Help: "Profile resolutions discarded because a newer transition superseded them.",
		}),
	}

	reg.MustRegister(
		c.requests,
		c.requestFailures,
		c.requestLatency,
		c.transitions,
		c.staleResults,
	)

	return c
}

// RecordRequest records a completed request.
func (c *Collector) RecordRequest(method string, status int, duration time.Duration) {
	c.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	c.requestLatency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordRequestFailure records a failed request.
func (c *Collector) RecordRequestFailure(method string, kind RequestErrorKind) {
	c.requestFailures.WithLabelValues(method, string(kind)).Inc()
}

// RecordTransition records a published state change.
func (c *Collector) RecordTransition(phase Phase) {
	c.transitions.WithLabelValues(string(phase)).Inc()
}

// RecordStaleResult records a discarded resolution.
func (c *Collector) RecordStaleResult() {
	c.staleResults.Inc()
}

type noopMetrics struct{}

func (noopMetrics) RecordRequest(string, int, time.Duration)       {}
func (noopMetrics) RecordRequestFailure(string, RequestErrorKind) {}
func (noopMetrics) RecordTransition(Phase)                        {}
func (noopMetrics) RecordStaleResult()                            {}

func normalizeMetrics(m MetricsCollector) MetricsCollector {
	if m == nil {
		return noopMetrics{}
	}
	return m
}
