// Package telemetry exposes Prometheus metrics for the job engine.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	// JobsCreated counts accepted job creations, including dedup misses.
	JobsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_created_total",
		Help: "Jobs accepted into the queue",
	}, []string{"job_type"})

	// JobsDeduplicated counts creations answered by an existing in-flight job.
	JobsDeduplicated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_deduplicated_total",
		Help: "Creations coalesced onto an in-flight duplicate",
	}, []string{"job_type"})

	// CacheHits counts cached-result lookups answered from a completed job.
	CacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_result_cache_hits_total",
		Help: "Cached-result lookups served from a recent completion",
	}, []string{"job_type"})

	// Transitions counts applied lifecycle transitions by operation.
	Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_transitions_total",
		Help: "Applied job lifecycle transitions",
	}, []string{"operation"})

	// TransitionNoops counts transitions refused by a state guard.
	TransitionNoops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_transition_noops_total",
		Help: "Transitions that did not apply because the state guard failed",
	}, []string{"operation"})

	// RateLimitRejects counts API requests rejected by the rate limiter.
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobs_rate_limit_rejects_total",
		Help: "Requests rejected by the per-owner rate limiter",
	})

	// SweepProcessed counts jobs acted on by background sweeps.
	SweepProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_sweep_processed_total",
		Help: "Jobs transitioned or purged by background sweeps",
	}, []string{"sweep"})

	// JobsInFlight tracks jobs currently being processed by workers.
	JobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "jobs_inflight",
		Help: "Jobs currently claimed by workers",
	})

	// HandlerDuration observes handler execution time per job type.
	HandlerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jobs_handler_duration_seconds",
		Help:    "Handler execution time by job type",
		Buckets: prometheus.DefBuckets,
	}, []string{"job_type"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsCreated,
			JobsDeduplicated,
			CacheHits,
			Transitions,
			TransitionNoops,
			RateLimitRejects,
			SweepProcessed,
			JobsInFlight,
			HandlerDuration,
		)
	})
	return promhttp.Handler()
}
