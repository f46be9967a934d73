// Package metrics exposes Prometheus metrics for ingestion runs and the read
// API. A long-running server serves them on /metrics; a one-shot ingest run
// pushes them to a Pushgateway when one is configured.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/khg9859/Eternal/internal/core"
)

const namespace = "panelmerge"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	SourceRuns    *prometheus.CounterVec
	RowsWritten   *prometheus.CounterVec
	SkippedRows   *prometheus.CounterVec
	PhaseDuration *prometheus.HistogramVec
	LastSuccess   *prometheus.GaugeVec
	Profiles      prometheus.Counter
	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.SourceRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_runs_total",
			Help:      "Source runs by final state",
		},
		[]string{"source", "state"},
	)

	m.RowsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows written by table",
		},
		[]string{"table"},
	)

	m.SkippedRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_rows_total",
			Help:      "Data rows skipped for lacking a respondent id",
		},
		[]string{"source"},
	)

	m.PhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Time spent per source phase",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
		[]string{"phase"},
	)

	m.LastSuccess = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run per source",
		},
		[]string{"source"},
	)

	m.Profiles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profiles_written_total",
			Help:      "Profile vectors written",
		},
	)

	m.HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route and status",
		},
		[]string{"method", "route", "code"},
	)

	m.HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	m.registry.MustRegister(
		m.SourceRuns,
		m.RowsWritten,
		m.SkippedRows,
		m.PhaseDuration,
		m.LastSuccess,
		m.Profiles,
		m.HTTPRequests,
		m.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePhase records the time a source spent in one phase.
func (m *Metrics) ObservePhase(phase core.Phase, d time.Duration) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(string(phase)).Observe(d.Seconds())
}

// RecordRun counts a finished source run and the rows it wrote.
func (m *Metrics) RecordRun(source string, state core.Phase, rows map[string]int64, skipped int, at time.Time) {
	if m == nil {
		return
	}
	m.SourceRuns.WithLabelValues(source, string(state)).Inc()
	for table, n := range rows {
		if n > 0 {
			m.RowsWritten.WithLabelValues(table).Add(float64(n))
		}
	}
	if skipped > 0 {
		m.SkippedRows.WithLabelValues(source).Add(float64(skipped))
	}
	if state == core.PhaseDone {
		m.LastSuccess.WithLabelValues(source).Set(float64(at.Unix()))
	}
}

// AddProfiles counts written profile vectors.
func (m *Metrics) AddProfiles(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Profiles.Add(float64(n))
}

// ObserveRequest records one API request.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, fmt.Sprint(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Push sends the registry to a Pushgateway, replacing the job's metrics.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if m == nil || url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
