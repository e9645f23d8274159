// Package observability provides Prometheus metrics and health checks for
// the proxy.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentgate_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentgate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Query metrics
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentgate_queries_total",
			Help: "Total number of agent queries by outcome",
		},
		[]string{"outcome"},
	)

	sessionsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentgate_sessions_created_total",
			Help: "Total number of sessions created, local or remote",
		},
		[]string{"kind"},
	)

	upstreamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentgate_upstream_errors_total",
			Help: "Total number of upstream agent call failures",
		},
		[]string{"kind"},
	)

	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentgate_events_total",
			Help: "Total number of streamed events by detected shape",
		},
		[]string{"shape"},
	)

	// ServiceNow metrics
	servicenowRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentgate_servicenow_requests_total",
			Help: "Total number of ServiceNow API requests",
		},
		[]string{"operation", "status"},
	)

	servicenowRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentgate_servicenow_request_duration_seconds",
			Help:    "ServiceNow API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	initOnce sync.Once
)

// InitMetrics registers the Prometheus metrics.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			queriesTotal,
			sessionsCreatedTotal,
			upstreamErrorsTotal,
			eventsTotal,
			servicenowRequestsTotal,
			servicenowRequestDuration,
		)
	})
}

// MetricsHandler returns an HTTP handler for the Prometheus endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordQuery records a query outcome: "ok", "mock", or "error".
func RecordQuery(outcome string) {
	queriesTotal.WithLabelValues(outcome).Inc()
}

// RecordSessionCreated records a session creation: "local" or "remote".
func RecordSessionCreated(kind string) {
	sessionsCreatedTotal.WithLabelValues(kind).Inc()
}

// RecordUpstreamError records an upstream failure: "discovery", "session",
// or "query".
func RecordUpstreamError(kind string) {
	upstreamErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordEventShape records the detected shape of one streamed event.
func RecordEventShape(shape string) {
	eventsTotal.WithLabelValues(shape).Inc()
}

// RecordServiceNowRequest records a ServiceNow API call.
func RecordServiceNowRequest(operation, status string, duration time.Duration) {
	servicenowRequestsTotal.WithLabelValues(operation, status).Inc()
	servicenowRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
