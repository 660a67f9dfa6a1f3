// Package metrics exposes Prometheus collectors for the crawl engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PagesFetchedTotal counts page fetch outcomes, labeled success/failed.
	PagesFetchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdcrawl_pages_fetched_total",
			Help: "Total pages fetched, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	// FetchRetriesTotal counts retry attempts across all jobs.
	FetchRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mdcrawl_fetch_retries_total",
			Help: "Total fetch retry attempts.",
		},
	)

	// FrontierRejectsTotal counts frontier rejections by reason.
	FrontierRejectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdcrawl_frontier_rejects_total",
			Help: "Total URLs rejected by the frontier filter, labeled by reason.",
		},
		[]string{"reason"},
	)

	// JobsTotal counts finished jobs by operation and terminal status.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mdcrawl_jobs_total",
			Help: "Total jobs reaching a terminal status, labeled by operation and status.",
		},
		[]string{"operation", "status"},
	)

	// JobDurationSeconds observes wall-clock job duration by operation.
	JobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mdcrawl_job_duration_seconds",
			Help:    "Histogram of job durations, labeled by operation.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"operation"},
	)

	// ActiveJobs tracks jobs currently running.
	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mdcrawl_active_jobs",
			Help: "Number of jobs currently running.",
		},
	)
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
