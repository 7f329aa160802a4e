package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bandlend_cache_hits_total",
			Help: "memoized reads served from the cache",
		}, []string{"fn"})

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bandlend_cache_misses_total",
			Help: "memoized reads that had to be computed",
		}, []string{"fn"})

	CacheEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bandlend_cache_evictions_total",
			Help: "expired entries dropped by the periodic purge",
		})

	UpstreamCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bandlend_upstream_calls_total",
			Help: "eth_call requests issued, by contract method and mode (single, batch)",
		}, []string{"method", "mode"})

	UpstreamFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bandlend_upstream_failures_total",
			Help: "failed remote reads, by mode",
		}, []string{"mode"})

	BatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bandlend_batch_size",
			Help:    "number of calls per batched read",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		})

	PreviewLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bandlend_preview_seconds",
			Help:    "time to assemble a preview, by kind",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"})

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bandlend_ws_sessions",
			Help: "open websocket preview sessions",
		})
)

func init() {
	prometheus.MustRegister(
		CacheHits,
		CacheMisses,
		CacheEvictions,
		UpstreamCalls,
		UpstreamFailures,
		BatchSize,
		PreviewLatency,
		ActiveSessions,
	)
}
