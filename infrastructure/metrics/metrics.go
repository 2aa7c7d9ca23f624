// Package metrics provides Prometheus metrics collection
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Feed metrics
	TokensIngested  prometheus.Counter
	FeedReconnects  prometheus.Counter
	FeedFramesTotal *prometheus.CounterVec

	// Provider gateway metrics
	ProviderRequestsTotal   *prometheus.CounterVec
	ProviderRequestDuration *prometheus.HistogramVec
	ProviderCacheHits       prometheus.Counter
	ProviderInFlight        prometheus.Gauge

	// Lifecycle metrics
	StatusTransitions *prometheus.CounterVec
	TokensByStatus    *prometheus.GaugeVec

	// Scheduler metrics
	TicksTotal   *prometheus.CounterVec
	TickDuration *prometheus.HistogramVec

	// Scoring metrics
	ScoresComputed *prometheus.CounterVec

	// Store metrics
	StoreQueriesTotal *prometheus.CounterVec
}

// New creates a new Metrics instance with all collectors registered
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		TokensIngested: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "feed_tokens_ingested_total",
				Help: "Total number of token addresses ingested from the feed",
			},
		),
		FeedReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "feed_reconnects_total",
				Help: "Total number of feed reconnect attempts",
			},
		),
		FeedFramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_frames_total",
				Help: "Total number of feed frames by outcome",
			},
			[]string{"outcome"},
		),

		ProviderRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_requests_total",
				Help: "Total number of upstream provider requests",
			},
			[]string{"endpoint", "status"},
		),
		ProviderRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provider_request_duration_seconds",
				Help:    "Upstream provider request duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20},
			},
			[]string{"endpoint"},
		),
		ProviderCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "provider_cache_hits_total",
				Help: "Total number of provider responses served from cache",
			},
		),
		ProviderInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "provider_requests_in_flight",
				Help: "Current number of in-flight upstream requests",
			},
		),

		StatusTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lifecycle_status_transitions_total",
				Help: "Total number of token status transitions",
			},
			[]string{"from", "to", "reason"},
		),
		TokensByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tokens_by_status",
				Help: "Current number of tokens per lifecycle status",
			},
			[]string{"status"},
		),

		TicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_ticks_total",
				Help: "Total number of scheduler ticks",
			},
			[]string{"kind", "status"},
		),
		TickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scheduler_tick_duration_seconds",
				Help:    "Scheduler tick duration in seconds",
				Buckets: []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"kind"},
		),

		ScoresComputed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scores_computed_total",
				Help: "Total number of score computations",
			},
			[]string{"model", "status"},
		),

		StoreQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_queries_total",
				Help: "Total number of store operations",
			},
			[]string{"operation", "status"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.TokensIngested,
			m.FeedReconnects,
			m.FeedFramesTotal,
			m.ProviderRequestsTotal,
			m.ProviderRequestDuration,
			m.ProviderCacheHits,
			m.ProviderInFlight,
			m.StatusTransitions,
			m.TokensByStatus,
			m.TicksTotal,
			m.TickDuration,
			m.ScoresComputed,
			m.StoreQueriesTotal,
		)
	}

	return m
}

// RecordProviderRequest records an upstream provider request
func (m *Metrics) RecordProviderRequest(endpoint, status string, duration time.Duration) {
	m.ProviderRequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.ProviderRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordTransition records a lifecycle status transition
func (m *Metrics) RecordTransition(from, to, reason string) {
	m.StatusTransitions.WithLabelValues(from, to, reason).Inc()
}

// RecordTick records a scheduler tick
func (m *Metrics) RecordTick(kind, status string, duration time.Duration) {
	m.TicksTotal.WithLabelValues(kind, status).Inc()
	m.TickDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordScore records a score computation
func (m *Metrics) RecordScore(model, status string) {
	m.ScoresComputed.WithLabelValues(model, status).Inc()
}

// RecordStoreQuery records a store operation
func (m *Metrics) RecordStoreQuery(operation, status string) {
	m.StoreQueriesTotal.WithLabelValues(operation, status).Inc()
}

// NewNop returns metrics backed by an isolated registry, for tests and for
// components constructed without a live registry.
func NewNop() *Metrics {
	return NewWithRegistry("nop", prometheus.NewRegistry())
}
