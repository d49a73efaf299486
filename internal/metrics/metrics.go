package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livestream",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "livestream",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"method", "route"})

	ActiveJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "livestream",
		Name:      "active_jobs",
		Help:      "Number of currently running encoder processes.",
	})

	JobStartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "livestream",
		Name:      "job_starts_total",
		Help:      "Total number of encoder processes started.",
	})

	JobFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "livestream",
		Name:      "job_failures_total",
		Help:      "Total number of encoder processes that exited with an error.",
	})

	SpawnFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "livestream",
		Name:      "spawn_failures_total",
		Help:      "Total number of encoder processes that could not be started.",
	})

	AdmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "livestream",
		Name:      "admissions_total",
		Help:      "Total live playlist admissions by outcome.",
	}, []string{"outcome"})

	AdmissionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "livestream",
		Name:      "admission_duration_seconds",
		Help:      "Time from playlist request until the output was playable.",
		Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	SegmentRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "livestream",
		Name:      "segment_requests_total",
		Help:      "Total number of served segment files.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveJobs,
		JobStartsTotal,
		JobFailuresTotal,
		SpawnFailuresTotal,
		AdmissionsTotal,
		AdmissionDuration,
		SegmentRequestsTotal,
	)
}
