// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gateway"

// Decision labels recorded by the admission pipeline.
const (
	DecisionProceed       = "proceed"
	DecisionCacheHit      = "cache_hit"
	DecisionAuthRejected  = "auth_rejected"
	DecisionRateLimited   = "rate_limited"
	DecisionStoreRejected = "store_unavailable"
	DecisionCancelled     = "cancelled"
)

// Metrics holds all gateway collectors. A nil *Metrics records nothing.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	Decisions         *prometheus.CounterVec
	AuthFailures      *prometheus.CounterVec
	CacheLookups      *prometheus.CounterVec
	CacheInvalidated  prometheus.Counter
	RateLimitDegraded prometheus.Counter
	UpstreamErrors    prometheus.Counter
}

// New creates and registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of requests handled",
			},
			[]string{"method", "code"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		Decisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admission_decisions_total",
				Help:      "Admission decisions by outcome",
			},
			[]string{"decision"},
		),
		AuthFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Rejected credentials by failure kind",
			},
			[]string{"kind"},
		),
		CacheLookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Response cache lookups by result",
			},
			[]string{"result"}, // hit/miss
		),
		CacheInvalidated: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_invalidated_entries_total",
				Help:      "Cache entries removed by administrative invalidation",
			},
		),
		RateLimitDegraded: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_degraded_total",
				Help:      "Requests admitted without a counter because the store was unreachable",
			},
		),
		UpstreamErrors: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_errors_total",
				Help:      "Failed calls to the downstream service",
			},
		),
	}
}

func (m *Metrics) Decision(decision string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) AuthFailure(kind string) {
	if m == nil {
		return
	}
	m.AuthFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) Invalidated(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.CacheInvalidated.Add(float64(n))
}

func (m *Metrics) Degraded() {
	if m == nil {
		return
	}
	m.RateLimitDegraded.Inc()
}

func (m *Metrics) UpstreamError() {
	if m == nil {
		return
	}
	m.UpstreamErrors.Inc()
}

func (m *Metrics) Request(method, code string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, code).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(seconds)
}
