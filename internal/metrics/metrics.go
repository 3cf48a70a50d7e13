// Package metrics registers the Prometheus metrics used by the broker.
// Import this package (via blank import) from the server entry point to
// register all metrics before the /metrics handler is mounted.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts completed client requests labelled by operation
	// ("search", "transform:<kind>", "lookup:<type>") and outcome
	// ("success", "no_support", "error", "rejected").
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "librarian_requests_total",
			Help: "Total number of client requests processed by the broker.",
		},
		[]string{"operation", "status"},
	)

	// DispatchDuration observes end-to-end dispatch latency in seconds.
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "librarian_dispatch_duration_seconds",
			Help:    "End-to-end dispatch duration in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	// FanoutSize observes how many endpoints each request was dispatched to.
	FanoutSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "librarian_fanout_size",
			Help:    "Number of endpoints targeted per dispatched request.",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21, 34},
		},
	)

	// EndpointErrors counts per-endpoint failures broken down by error type
	// ("call_error", "endpoint_error", "circuit_open", "timeout").
	EndpointErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "librarian_endpoint_errors_total",
			Help: "Total endpoint call failures by type.",
		},
		[]string{"endpoint", "error_type"},
	)

	// ConnectedEndpoints tracks the number of registered endpoints. There is
	// no deregistration path, so the gauge only ever rises within a process.
	ConnectedEndpoints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "librarian_connected_endpoints",
			Help: "Number of endpoints currently registered with the broker.",
		},
	)

	// CircuitBreakerState tracks per-endpoint circuit breaker state as a
	// gauge: 0 = closed, 1 = open, 2 = half_open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "librarian_circuit_breaker_state",
			Help: "Circuit breaker state per endpoint (0=closed 1=open 2=half_open).",
		},
		[]string{"endpoint"},
	)

	// RateLimitRejections counts requests rejected by the rate-limit
	// middleware or plugin, labelled by key_type ("ip", "plugin").
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "librarian_rate_limit_rejections_total",
			Help: "Total requests rejected by rate limiting.",
		},
		[]string{"key_type"},
	)
)
