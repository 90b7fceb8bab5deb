package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sma-thesis-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic,
// the report cache and the thesis workflow.
type MetricsService struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	cacheLatency     prometheus.Observer
	cacheWrite       prometheus.Observer
	cacheLookups     *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	versionConflicts *prometheus.CounterVec
	documentUploads  *prometheus.CounterVec
	documentBytes    prometheus.Observer
	cleanupJobs      *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors on a private registry.
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
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Cache lookups partitioned by outcome",
	}, []string{"result"})

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "thesis_transitions_total",
		Help: "Thesis status transition attempts",
	}, []string{"from", "to", "result"})

	versionConflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "thesis_version_conflicts_total",
		Help: "Mutations rejected because the expected version was stale",
	}, []string{"operation"})

	documentUploads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "thesis_document_uploads_total",
		Help: "Thesis document uploads partitioned by outcome",
	}, []string{"result"})

	documentBytes := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "thesis_document_size_bytes",
		Help:    "Size of accepted thesis documents",
		Buckets: prometheus.ExponentialBuckets(64*1024, 2, 10),
	})

	cleanupJobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "thesis_document_cleanup_total",
		Help: "Document cleanup jobs partitioned by outcome",
	}, []string{"result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheLookups,
		transitions, versionConflicts, documentUploads, documentBytes, cleanupJobs, goroutines)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		cacheLatency:     cacheLatency,
		cacheWrite:       cacheWrite,
		cacheLookups:     cacheLookups,
		transitions:      transitions,
		versionConflicts: versionConflicts,
		documentUploads:  documentUploads,
		documentBytes:    documentBytes,
		cleanupJobs:      cleanupJobs,
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache hit or miss.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordTransition counts one transition attempt.
func (m *MetricsService) RecordTransition(from, to models.ThesisStatus, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to), result).Inc()
}

// RecordVersionConflict counts a stale-version rejection.
func (m *MetricsService) RecordVersionConflict(operation string) {
	if m == nil {
		return
	}
	m.versionConflicts.WithLabelValues(operation).Inc()
}

// RecordDocumentUpload counts an upload attempt; size is observed only for
// accepted documents.
func (m *MetricsService) RecordDocumentUpload(result string, size int) {
	if m == nil {
		return
	}
	m.documentUploads.WithLabelValues(result).Inc()
	if result == UploadResultAccepted {
		m.documentBytes.Observe(float64(size))
	}
}

// RecordCleanup counts a finished document cleanup job.
func (m *MetricsService) RecordCleanup(result string) {
	if m == nil {
		return
	}
	m.cleanupJobs.WithLabelValues(result).Inc()
}
