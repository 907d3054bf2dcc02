// Package metrics registers the Prometheus collectors exposed at
// /metrics: request counts/latency, pipeline stage outcomes, cache
// hit rates and job-queue depth. The HTTP request collectors are
// registered but no handler or middleware records into them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tm2bridge_http_requests_total",
		Help: "Total HTTP requests by route and status class.",
	}, []string{"route", "method", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tm2bridge_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})

	PipelineOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tm2bridge_pipeline_outcomes_total",
		Help: "Mapping pipeline terminal outcomes by equivalence.",
	}, []string{"equivalence"})

	PipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tm2bridge_pipeline_duration_seconds",
		Help:    "Mapping pipeline end-to-end latency in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tm2bridge_cache_hits_total",
		Help: "Cache hits by cache name.",
	}, []string{"cache"})

	CacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tm2bridge_cache_misses_total",
		Help: "Cache misses by cache name.",
	}, []string{"cache"})

	RateLimitRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tm2bridge_rate_limit_rejections_total",
		Help: "Requests rejected by the rate limiter, by class.",
	}, []string{"class"})

	JobQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tm2bridge_job_queue_depth",
		Help: "Number of pending batch jobs.",
	})

	JobQueueActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tm2bridge_job_queue_active",
		Help: "Number of batch jobs currently processing.",
	})
)
