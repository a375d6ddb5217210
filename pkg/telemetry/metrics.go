// Package telemetry exposes Prometheus metrics for the runtime broker.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsCreated counts sessions provisioned from scratch.
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runtimed_sessions_created_total",
		Help: "Number of runtime sessions created on the platform.",
	})

	// SessionsReused counts create calls satisfied by an existing compose.
	SessionsReused = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runtimed_sessions_reused_total",
		Help: "Number of create requests satisfied by reusing an existing compose.",
	})

	// SweepsRun counts idle-sweeper invocations that actually ran.
	SweepsRun = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runtimed_sweeps_run_total",
		Help: "Number of idle sweeps executed (skipped sweeps not counted).",
	})

	// ComposesDeleted counts composes removed by the sweeper.
	ComposesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runtimed_composes_deleted_total",
		Help: "Number of expired composes deleted by the idle sweeper.",
	})

	// PlatformRequests counts platform RPC attempts by procedure and outcome.
	PlatformRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runtimed_platform_requests_total",
		Help: "Platform RPC attempts by procedure and outcome.",
	}, []string{"procedure", "outcome"})

	// PlatformRequestDuration observes platform RPC latency per procedure.
	PlatformRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "runtimed_platform_request_duration_seconds",
		Help:    "Platform RPC latency by procedure.",
		Buckets: prometheus.DefBuckets,
	}, []string{"procedure"})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
