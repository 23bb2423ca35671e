package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Event dispatch metrics
	EventsEmittedTotal  *prometheus.CounterVec
	EventFailuresTotal  *prometheus.CounterVec
	EventRetriesTotal   prometheus.Counter
	EventRetryQueueSize prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics on the registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_store_operations_total",
				Help: "Total number of role store operations",
			},
			[]string{"operation", "backend"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_store_operation_duration_seconds",
				Help:    "Role store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_cache_hits_total",
				Help: "Total number of role cache hits",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_cache_misses_total",
				Help: "Total number of role cache misses",
			},
			[]string{"tier"},
		),
		EventsEmittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_events_emitted_total",
				Help: "Total number of lifecycle events emitted",
			},
			[]string{"event"},
		),
		EventFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_event_failures_total",
				Help: "Total number of event deliveries recorded as failed",
			},
			[]string{"event"},
		),
		EventRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_event_retries_total",
				Help: "Total number of failed events retried",
			},
		),
		EventRetryQueueSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_event_retry_queue_size",
				Help: "Number of failed events awaiting retry",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.EventsEmittedTotal,
		m.EventFailuresTotal,
		m.EventRetriesTotal,
		m.EventRetryQueueSize,
	)

	return m
}

// Handler returns the Prometheus scrape handler for the registry.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// HTTPMiddleware records request counts and latencies per route.
func (m *Metrics) HTTPMiddleware(routeName func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			path := r.URL.Path
			if routeName != nil {
				if name := routeName(r); name != "" {
					path = name
				}
			}
			m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// ObserveStoreOperation records one store call and its duration.
func (m *Metrics) ObserveStoreOperation(operation, backend string, start time.Time) {
	m.StoreOperationsTotal.WithLabelValues(operation, backend).Inc()
	m.StoreOperationDuration.WithLabelValues(operation, backend).Observe(time.Since(start).Seconds())
}
