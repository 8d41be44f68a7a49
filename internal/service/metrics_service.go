package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Resolution outcomes recorded by the resolver.
const (
	outcomeOK     = "ok"
	outcomeEmpty  = "empty"
	outcomeFailed = "failed"
)

// MetricsSnapshot is a lightweight JSON view of the collectors.
type MetricsSnapshot struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	CatalogRequests          uint64    `json:"catalog_requests"`
	AverageCatalogDurationMs float64   `json:"average_catalog_duration_ms"`
	ProbeAttempts            uint64    `json:"probe_attempts"`
	ResolutionFailures       uint64    `json:"resolution_failures"`
	StaleResults             uint64    `json:"stale_results"`
	ActiveSessions           int64     `json:"active_sessions"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	catalogDuration *prometheus.HistogramVec
	probeAttempts   *prometheus.CounterVec
	resolutions     *prometheus.CounterVec
	staleResults    *prometheus.CounterVec
	refreshJobs     *prometheus.CounterVec
	activeSessions  prometheus.Gauge

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	catalogCount         uint64
	catalogDurationTotal uint64
	probeCount           uint64
	failureCount         uint64
	staleCount           uint64
	sessionCount         int64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	catalogDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_request_duration_seconds",
		Help:    "Duration of entity catalog requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	probeAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_probe_attempts_total",
		Help: "Query shapes tried per education level",
	}, []string{"level", "shape", "outcome"})

	resolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_resolutions_total",
		Help: "Candidate set resolutions by kind and outcome",
	}, []string{"kind", "outcome"})

	staleResults := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "form_stale_results_total",
		Help: "Refresh results discarded because the selection moved on",
	}, []string{"target"})

	refreshJobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "form_refresh_jobs_total",
		Help: "Refresh jobs by target and outcome",
	}, []string{"target", "outcome"})

	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "form_sessions_active",
		Help: "Open form sessions",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		catalogDuration, probeAttempts, resolutions, staleResults, refreshJobs, activeSessions, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		catalogDuration: catalogDuration,
		probeAttempts:   probeAttempts,
		resolutions:     resolutions,
		staleResults:    staleResults,
		refreshJobs:     refreshJobs,
		activeSessions:  activeSessions,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveCatalogRequest records one call to the entity catalog.
func (m *MetricsService) ObserveCatalogRequest(operation string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.catalogDuration.WithLabelValues(operation, strconv.Itoa(status)).Observe(duration.Seconds())
	atomic.AddUint64(&m.catalogCount, 1)
	atomic.AddUint64(&m.catalogDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordProbeAttempt counts one query shape tried for a level.
func (m *MetricsService) RecordProbeAttempt(level, shape string, ok bool) {
	if m == nil {
		return
	}
	outcome := outcomeOK
	if !ok {
		outcome = outcomeFailed
	}
	m.probeAttempts.WithLabelValues(level, shape, outcome).Inc()
	atomic.AddUint64(&m.probeCount, 1)
}

// RecordResolution counts a resolver outcome for kind (subjects, classrooms, sections).
func (m *MetricsService) RecordResolution(kind, outcome string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(kind, outcome).Inc()
	if outcome == outcomeFailed {
		atomic.AddUint64(&m.failureCount, 1)
	}
}

// RecordStaleResult counts a refresh result dropped for being superseded.
func (m *MetricsService) RecordStaleResult(target string) {
	if m == nil {
		return
	}
	m.staleResults.WithLabelValues(target).Inc()
	atomic.AddUint64(&m.staleCount, 1)
}

// RecordRefreshJob counts a finished refresh job.
func (m *MetricsService) RecordRefreshJob(target, outcome string) {
	if m == nil {
		return
	}
	m.refreshJobs.WithLabelValues(target, outcome).Inc()
}

// SetActiveSessions publishes the number of open form sessions.
func (m *MetricsService) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
	atomic.StoreInt64(&m.sessionCount, int64(n))
}

// Snapshot returns aggregated metrics.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)
	catalogCount := atomic.LoadUint64(&m.catalogCount)
	catalogDuration := atomic.LoadUint64(&m.catalogDurationTotal)

	var cacheRatio float64
	if total := hits + misses; total > 0 {
		cacheRatio = float64(hits) / float64(total)
	}

	return MetricsSnapshot{
		RequestsTotal:            requests,
		AverageRequestDurationMs: averageMillis(reqDuration, requests),
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		CatalogRequests:          catalogCount,
		AverageCatalogDurationMs: averageMillis(catalogDuration, catalogCount),
		ProbeAttempts:            atomic.LoadUint64(&m.probeCount),
		ResolutionFailures:       atomic.LoadUint64(&m.failureCount),
		StaleResults:             atomic.LoadUint64(&m.staleCount),
		ActiveSessions:           atomic.LoadInt64(&m.sessionCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}

func averageMillis(totalNanos, count uint64) float64 {
	if count == 0 {
		return 0
	}
	return float64(totalNanos) / float64(count) / float64(time.Millisecond)
}
