package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// CacheMetrics records cache engine activity segmented by namespace.
type CacheMetrics struct {
	Hits     *prometheus.CounterVec
	Misses   *prometheus.CounterVec
	Waits    *prometheus.CounterVec
	Failures *prometheus.CounterVec
}

// HTTPMetrics records API handler activity.
type HTTPMetrics struct {
	Requests *prometheus.CounterVec
	Latency  *prometheus.HistogramVec
}

var (
	cacheOnce     sync.Once
	cacheRegistry *CacheMetrics

	httpOnce     sync.Once
	httpRegistry *HTTPMetrics
)

// Cache returns the lazily-initialised cache metrics registry.
func Cache() *CacheMetrics {
	cacheOnce.Do(func() {
		cacheRegistry = &CacheMetrics{
			Hits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pricepath",
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Cache lookups answered from a fresh entry.",
			}, []string{"namespace"}),
			Misses: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pricepath",
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Cache lookups that started a new compute.",
			}, []string{"namespace"}),
			Waits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pricepath",
				Subsystem: "cache",
				Name:      "waits_total",
				Help:      "Cache lookups that joined an in-flight compute.",
			}, []string{"namespace"}),
			Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pricepath",
				Subsystem: "cache",
				Name:      "failures_total",
				Help:      "Computes that failed and were not cached.",
			}, []string{"namespace"}),
		}
		prometheus.MustRegister(
			cacheRegistry.Hits,
			cacheRegistry.Misses,
			cacheRegistry.Waits,
			cacheRegistry.Failures,
		)
	})
	return cacheRegistry
}

// HTTP returns the lazily-initialised HTTP metrics registry.
func HTTP() *HTTPMetrics {
	httpOnce.Do(func() {
		httpRegistry = &HTTPMetrics{
			Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "pricepath",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "API requests segmented by route and status.",
			}, []string{"route", "status"}),
			Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "pricepath",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
		}
		prometheus.MustRegister(httpRegistry.Requests, httpRegistry.Latency)
	})
	return httpRegistry
}
