// Package metrics defines the Prometheus collectors of the clip worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job outcomes used as the "outcome" label.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeRetry     = "retry"
	OutcomeSkipped   = "skipped"
	OutcomeAbandoned = "abandoned"
)

// Metrics holds the collectors. The zero value is not usable; use New.
type Metrics struct {
	// JobsTotal counts finished job runs by outcome.
	JobsTotal *prometheus.CounterVec
	// ActiveJobs is the number of jobs currently running.
	ActiveJobs prometheus.Gauge
	// JobDuration observes job run time in seconds.
	JobDuration prometheus.Histogram
	// PollErrorsTotal counts failed receive calls.
	PollErrorsTotal prometheus.Counter

	// ClipsReclaimedTotal counts expired clips removed by the reaper.
	ClipsReclaimedTotal prometheus.Counter
	// ReclaimErrorsTotal counts per-clip reclamation failures.
	ReclaimErrorsTotal prometheus.Counter
	// ScratchDirsRemovedTotal counts stale scratch directories removed.
	ScratchDirsRemovedTotal prometheus.Counter

	// HTTPRequestsTotal counts operational HTTP requests.
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestDuration observes operational HTTP latency.
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers the collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		JobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clip_worker_jobs_total",
			Help: "Total number of clip jobs handled, by outcome",
		}, []string{"outcome"}),
		ActiveJobs: f.NewGauge(prometheus.GaugeOpts{
			Name: "clip_worker_active_jobs",
			Help: "Number of clip jobs currently running",
		}),
		JobDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "clip_worker_job_duration_seconds",
			Help:    "Duration of clip job runs in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		}),
		PollErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "clip_worker_poll_errors_total",
			Help: "Total number of failed queue receive calls",
		}),
		ClipsReclaimedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "clip_worker_clips_reclaimed_total",
			Help: "Total number of expired clips reclaimed",
		}),
		ReclaimErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "clip_worker_reclaim_errors_total",
			Help: "Total number of expired clips that could not be reclaimed",
		}),
		ScratchDirsRemovedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "clip_worker_scratch_dirs_removed_total",
			Help: "Total number of stale scratch directories removed",
		}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "clip_worker_http_requests_total",
			Help: "Total number of operational HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clip_worker_http_request_duration_seconds",
			Help:    "Duration of operational HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// NewNop returns collectors registered nowhere, for tests and tools.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
