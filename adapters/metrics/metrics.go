// Package metrics provides Prometheus metrics collection for usagegate.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for usagegate.
type Collector struct {
	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Auth metrics
	AuthFailures *prometheus.CounterVec

	// Pipeline metrics
	RecordsParsed  prometheus.Counter
	RecordsSkipped prometheus.Counter

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Log source metrics
	SourcePages   prometheus.Counter
	SourceRetries prometheus.Counter
	FetchDuration *prometheus.HistogramVec

	// Alias metrics
	AliasReloads      prometheus.Counter
	AliasReloadErrors prometheus.Counter
}

// New creates a new metrics collector with all metrics registered on the
// default registry.
func New() *Collector {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates a collector registered on a custom registerer (tests).
func NewWith(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "usagegate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"path"},
		),
		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "auth_failures_total",
				Help:      "Total number of authentication failures",
			},
			[]string{"reason"},
		),
		RecordsParsed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "records_parsed_total",
				Help:      "Raw log records successfully parsed into usage events",
			},
		),
		RecordsSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "records_skipped_total",
				Help:      "Raw log records skipped as malformed",
			},
		),
		CacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "result_cache_hits_total",
				Help:      "Aggregation results served from cache",
			},
		),
		CacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "result_cache_misses_total",
				Help:      "Aggregation results computed on cache miss",
			},
		),
		SourcePages: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "source_pages_total",
				Help:      "Log store pages fetched",
			},
		),
		SourceRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "source_retries_total",
				Help:      "Retried log store page requests",
			},
		),
		FetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "usagegate",
				Name:      "source_fetch_duration_seconds",
				Help:      "Full window fetch duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"source"},
		),
		AliasReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "alias_reloads_total",
				Help:      "Successful alias map reloads",
			},
		),
		AliasReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "usagegate",
				Name:      "alias_reload_errors_total",
				Help:      "Failed alias map reloads",
			},
		),
	}
}
