// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the stepwise service.
package observability

import "github.com/prometheus/client_golang/prometheus"

// RequestBuckets defines histogram buckets for orchestration API calls,
// which are dominated by storage round-trips, from 1ms to 5s.
var RequestBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

var (
	// RequestsTotal counts all HTTP requests by method, route and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepwise_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method and route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stepwise_request_duration_seconds",
			Help:    "Request duration",
			Buckets: RequestBuckets,
		},
		[]string{"method", "route"},
	)

	// InFlightRequests tracks the number of requests being served.
	InFlightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stepwise_requests_in_flight",
			Help: "Requests currently being served",
		},
	)

	// StepTransitionsTotal counts active step changes. An empty from label
	// means the session had no active step.
	StepTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepwise_step_transitions_total",
			Help: "Step transitions",
		},
		[]string{"from", "to"},
	)

	// SequenceViolationsTotal counts tools invoked out of their step's sequence.
	SequenceViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepwise_sequence_violations_total",
			Help: "Out-of-order tool invocations",
		},
		[]string{"step"},
	)

	// StateErrorsTotal counts failed state operations by operation and error kind.
	StateErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepwise_state_errors_total",
			Help: "Orchestration state errors",
		},
		[]string{"op", "kind"},
	)

	// ToolUsageTotal counts processed tool invocations by tool name.
	ToolUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepwise_tool_usage_total",
			Help: "Processed tool invocations",
		},
		[]string{"tool"},
	)

	// SessionsSweptTotal counts expired sessions removed by the cleaner.
	SessionsSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stepwise_sessions_swept_total",
			Help: "Expired sessions removed by cleanup",
		},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepwise_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		InFlightRequests,
		StepTransitionsTotal,
		SequenceViolationsTotal,
		StateErrorsTotal,
		ToolUsageTotal,
		SessionsSweptTotal,
		RateLimitRejectedTotal,
	)
}
