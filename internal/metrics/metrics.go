// Package metrics exposes the fleet's prometheus instrumentation: cache
// efficiency, queue throughput, and classifier outcomes, the same
// promauto-package-var-plus-Record-helper shape tomtom215-cartographus uses
// for its own cache/DLQ/API metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adscraper_cache_hits_total",
			Help: "Total number of Route Interceptor cache hits (served from Cache Store).",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adscraper_cache_misses_total",
			Help: "Total number of Route Interceptor cache misses (fetched from network).",
		},
	)

	CacheBytesSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adscraper_cache_bytes_saved_total",
			Help: "Total response bytes served from cache instead of the network.",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "adscraper_cache_entries",
			Help: "Current number of artifacts held in the L1 cache.",
		},
	)

	TrafficRequestBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adscraper_traffic_request_bytes_total",
			Help: "Total outbound request bytes observed by the Traffic Tracker.",
		},
	)

	TrafficResponseBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adscraper_traffic_response_bytes_total",
			Help: "Total inbound response bytes observed by the Traffic Tracker.",
		},
	)

	TrafficBlockedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adscraper_traffic_blocked_bytes_total",
			Help: "Total response bytes avoided by blocking a request outright.",
		},
	)

	QueueProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "adscraper_queue_items_processed_total",
			Help: "Total queue entries processed by the worker fleet.",
		},
	)

	QueueOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adscraper_queue_outcomes_total",
			Help: "Queue entries by terminal outcome.",
		},
		[]string{"outcome"}, // success, failed, retry, bad_ad
	)

	ClassifierRules = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adscraper_classifier_rule_matches_total",
			Help: "Error classifications by matched rule kind.",
		},
		[]string{"kind", "category"},
	)

	ProxyAcquireAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adscraper_proxy_acquire_attempts_total",
			Help: "Proxy acquisition attempts by outcome.",
		},
		[]string{"outcome"}, // success, retryable_error, exhausted
	)

	ProxyBreakerOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "adscraper_proxy_breaker_open",
			Help: "1 when the proxy-acquisition circuit breaker is open, 0 otherwise.",
		},
	)

	WorkersRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "adscraper_workers_running",
			Help: "Current number of active worker loops.",
		},
	)
)

// RecordCacheHit records a Route Interceptor cache hit and the response
// bytes it avoided fetching from the network.
func RecordCacheHit(bytesSaved int64) {
	CacheHits.Inc()
	CacheBytesSaved.Add(float64(bytesSaved))
}

// RecordCacheMiss records a Route Interceptor cache miss.
func RecordCacheMiss() {
	CacheMisses.Inc()
}

// RecordQueueOutcome records one queue entry reaching a terminal or
// retryable state.
func RecordQueueOutcome(outcome string) {
	QueueProcessed.Inc()
	QueueOutcomes.WithLabelValues(outcome).Inc()
}

// RecordClassification records an Error Classifier rule match.
func RecordClassification(kind, category string) {
	ClassifierRules.WithLabelValues(kind, category).Inc()
}

// RecordProxyAcquire records the outcome of one proxy-acquisition attempt.
func RecordProxyAcquire(outcome string) {
	ProxyAcquireAttempts.WithLabelValues(outcome).Inc()
}

// SetProxyBreakerOpen reflects the proxy circuit breaker's current state.
func SetProxyBreakerOpen(open bool) {
	if open {
		ProxyBreakerOpen.Set(1)
		return
	}
	ProxyBreakerOpen.Set(0)
}
