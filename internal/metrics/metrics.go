// Package metrics exposes Prometheus instruments for jobs, searches and
// backoff events.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	JobsTotal          *prometheus.CounterVec
	JobDurationSeconds *prometheus.HistogramVec

	SearchDurationSeconds *prometheus.HistogramVec
	SearchResultsTotal    *prometheus.CounterVec

	BackoffEventsTotal *prometheus.CounterVec
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		JobsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "musicgrabber_jobs_total",
				Help: "Finished jobs by source and terminal status",
			},
			[]string{"source", "status"},
		),
		JobDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "musicgrabber_job_duration_seconds",
				Help:    "Wall time of pipeline runs",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"source", "type"},
		),

		SearchDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "musicgrabber_search_duration_seconds",
				Help:    "Per-source search latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		SearchResultsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "musicgrabber_search_results_total",
				Help: "Results returned by each source",
			},
			[]string{"source"},
		),

		BackoffEventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "musicgrabber_backoff_events_total",
				Help: "Bot-block, auth-disable and retry events",
			},
			[]string{"kind"},
		),
	}
}

// ObserveJob records one finished pipeline run.
func (m *Metrics) ObserveJob(source, downloadType, status string, elapsed time.Duration) {
	m.JobsTotal.WithLabelValues(source, status).Inc()
	m.JobDurationSeconds.WithLabelValues(source, downloadType).Observe(elapsed.Seconds())
}

// ObserveSearch records one adapter search.
func (m *Metrics) ObserveSearch(source string, results int, elapsed time.Duration) {
	m.SearchDurationSeconds.WithLabelValues(source).Observe(elapsed.Seconds())
	m.SearchResultsTotal.WithLabelValues(source).Add(float64(results))
}

// BackoffEvent counts one backoff event of the given kind.
func (m *Metrics) BackoffEvent(kind string) {
	m.BackoffEventsTotal.WithLabelValues(kind).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
