package datasvc

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the data-access layer's
// request lifecycle and caching/coordination behavior. It is safe for
// concurrent use; every Record method tolerates a nil receiver so callers
// need no guards.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	staleServes *prometheus.CounterVec
	cacheSize   prometheus.Gauge

	flightShared      *prometheus.CounterVec
	debounceCollapsed *prometheus.CounterVec

	revalidationsTotal *prometheus.CounterVec

	invalidatedEntries *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec
}

// NewMetricsCollector creates a collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "datasvc_requests_total",
				Help: "Total number of data-access operations",
			},
			[]string{"operation", "feature", "status"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "datasvc_request_duration_seconds",
				Help:    "Duration of data-access operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "feature"},
		),
		requestsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "datasvc_requests_in_flight",
				Help: "Number of data-access operations currently in flight",
			},
			[]string{"operation", "feature"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "datasvc_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"feature", "attempt"},
		),
		cacheHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "datasvc_cache_hits_total",
				Help: "Total number of fresh cache hits",
			},
			[]string{"feature"},
		),
		cacheMisses: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "datasvc_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"feature"},
		),
		staleServes: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "datasvc_cache_stale_serves_total",
				Help: "Total number of stale entries served while revalidating",
			},
			[]string{"feature"},
		),
		cacheSize: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "datasvc_cache_entries",
				Help: "Current number of cache entries",
			},
		),
		flightShared: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "datasvc_flight_shared_total",
				Help: "Total number of callers that shared an in-flight operation",
			},
			[]string{"feature"},
		),
		debounceCollapsed: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "datasvc_debounce_collapsed_total",
				Help: "Total number of debounced calls collapsed into a pending execution",
			},
			[]string{"feature"},
		),
		revalidationsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "datasvc_revalidations_total",
				Help: "Total number of background revalidations by outcome",
			},
			[]string{"feature", "outcome"},
		),
		invalidatedEntries: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "datasvc_invalidated_entries_total",
				Help: "Total number of cache entries removed by write invalidation",
			},
			[]string{"feature"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "datasvc_errors_total",
				Help: "Total number of errors by type",
			},
			[]string{"type", "operation", "feature"},
		),
	}
}

// RecordRequest records operation count and duration.
func (mc *MetricsCollector) RecordRequest(operation, feature string, status int, duration time.Duration) {
	if mc == nil {
		return
	}
	mc.requestsTotal.WithLabelValues(operation, feature, strconv.Itoa(status)).Inc()
	mc.requestDuration.WithLabelValues(operation, feature).Observe(duration.Seconds())
}

// RecordRequestStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(operation, feature string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(operation, feature).Inc()
}

// RecordRequestEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(operation, feature string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(operation, feature).Dec()
}

// RecordRetry increments the retry counter for an attempt.
func (mc *MetricsCollector) RecordRetry(feature string, attempt int) {
	if mc == nil {
		return
	}
	mc.retriesTotal.WithLabelValues(feature, strconv.Itoa(attempt)).Inc()
}

// RecordCacheHit increments the fresh hit counter.
func (mc *MetricsCollector) RecordCacheHit(feature string) {
	if mc == nil {
		return
	}
	mc.cacheHits.WithLabelValues(feature).Inc()
}

// RecordCacheMiss increments the miss counter.
func (mc *MetricsCollector) RecordCacheMiss(feature string) {
	if mc == nil {
		return
	}
	mc.cacheMisses.WithLabelValues(feature).Inc()
}

// RecordStaleServe increments the stale-while-revalidate serve counter.
func (mc *MetricsCollector) RecordStaleServe(feature string) {
	if mc == nil {
		return
	}
	mc.staleServes.WithLabelValues(feature).Inc()
}

// RecordCacheSize sets the cache entry gauge.
func (mc *MetricsCollector) RecordCacheSize(size int) {
	if mc == nil {
		return
	}
	mc.cacheSize.Set(float64(size))
}

// RecordFlightShared increments the shared in-flight counter.
func (mc *MetricsCollector) RecordFlightShared(feature string) {
	if mc == nil {
		return
	}
	mc.flightShared.WithLabelValues(feature).Inc()
}

// RecordDebounceCollapsed increments the debounce collapse counter.
func (mc *MetricsCollector) RecordDebounceCollapsed(feature string) {
	if mc == nil {
		return
	}
	mc.debounceCollapsed.WithLabelValues(feature).Inc()
}

// RecordRevalidation increments the background revalidation counter.
func (mc *MetricsCollector) RecordRevalidation(feature, outcome string) {
	if mc == nil {
		return
	}
	mc.revalidationsTotal.WithLabelValues(feature, outcome).Inc()
}

// RecordInvalidation counts cache entries removed by a write.
func (mc *MetricsCollector) RecordInvalidation(feature string, removed int) {
	if mc == nil {
		return
	}
	mc.invalidatedEntries.WithLabelValues(feature).Add(float64(removed))
}

// RecordError increments the error counter by type.
func (mc *MetricsCollector) RecordError(errorType, operation, feature string) {
	if mc == nil {
		return
	}
	mc.errorsTotal.WithLabelValues(errorType, operation, feature).Inc()
}
