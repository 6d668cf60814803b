// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the sandbox service.
package observability

import "github.com/prometheus/client_golang/prometheus"

// PipelineBuckets covers a cached build (well under a second) up to a full
// install plus test run near the child-process timeouts.
var PipelineBuckets = []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 120}

var (
	// RequestsTotal counts HTTP requests by method, status class and route.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsbox_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "route"},
	)

	// RequestDuration records HTTP request duration in seconds by method and route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tsbox_request_duration_seconds",
			Help:    "Request duration",
			Buckets: PipelineBuckets,
		},
		[]string{"method", "route"},
	)

	// PipelineRunsTotal counts finished test pipelines by outcome
	// (succeeded/failed) and the stage they stopped in.
	PipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsbox_pipeline_runs_total",
			Help: "Test pipeline runs",
		},
		[]string{"outcome", "stage"},
	)

	// BuildResultsTotal counts Build Stage results by classification and the
	// strategy that settled it.
	BuildResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsbox_build_results_total",
			Help: "Build results",
		},
		[]string{"result", "strategy"},
	)

	// SandboxExecutionsTotal counts direct executions by result status.
	SandboxExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsbox_sandbox_executions_total",
			Help: "Sandbox executions",
		},
		[]string{"status"},
	)

	// ActiveSessions tracks workspaces that exist right now.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tsbox_active_sessions",
			Help: "Live session workspaces",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		PipelineRunsTotal,
		BuildResultsTotal,
		SandboxExecutionsTotal,
		ActiveSessions,
	)
}
