// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the qwengate gateway.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets defines histogram buckets suited for chat-completion latencies,
// ranging from 100ms to 120s.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts all HTTP requests by method and status class.
	// Per-model accounting lives on the upstream metrics, where the
	// resolved model is known.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qwengate_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qwengate_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method"},
	)

	// StreamingConnections tracks the number of active SSE streaming connections.
	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "qwengate_streaming_connections_active",
			Help: "Active streaming connections",
		},
	)

	// UpstreamRequests counts calls sent to the upstream service by status class.
	UpstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qwengate_upstream_requests_total",
			Help: "Upstream requests",
		},
		[]string{"status"},
	)

	// UpstreamLatency records upstream call latency in seconds by model.
	UpstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qwengate_upstream_latency_seconds",
			Help:    "Upstream latency",
			Buckets: LLMBuckets,
		},
		[]string{"model"},
	)

	// CredentialRefreshes counts credential acquisitions by outcome.
	CredentialRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qwengate_credential_refreshes_total",
			Help: "Credential refresh attempts",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		UpstreamRequests,
		UpstreamLatency,
		CredentialRefreshes,
	)
}
