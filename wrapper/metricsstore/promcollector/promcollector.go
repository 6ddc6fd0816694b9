// Package promcollector implements metricsstore.Collector backed by
// Prometheus client_golang counters, gauges, and histograms. It is a
// separate package from metricsstore so that using the instrumented
// Storage/transport wrappers never forces an import of the Prometheus
// client library on callers who don't want it.
package promcollector

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/netcache-go/httpcache/wrapper/metricsstore"
)

var _ metricsstore.Collector = (*Collector)(nil)

// Collector implements metricsstore.Collector for Prometheus.
type Collector struct {
	storageOps       *prometheus.CounterVec
	storageOpLatency *prometheus.HistogramVec
	storageBytes     *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
	httpResponseSize *prometheus.CounterVec
}

// Config configures a Collector.
type Config struct {
	// Registry is the Prometheus registry to register metrics with. If
	// nil, prometheus.DefaultRegisterer is used.
	Registry prometheus.Registerer

	// Namespace for metrics. Defaults to "httpcache".
	Namespace string

	// Subsystem for metrics. Optional.
	Subsystem string

	ConstLabels prometheus.Labels
}

// New creates a Collector registered against prometheus.DefaultRegisterer.
func New() *Collector {
	return NewWithConfig(Config{})
}

// NewWithRegistry creates a Collector registered against reg.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	return NewWithConfig(Config{Registry: reg})
}

// NewWithConfig creates a Collector using the given Config.
func NewWithConfig(config Config) *Collector {
	if config.Registry == nil {
		config.Registry = prometheus.DefaultRegisterer
	}
	if config.Namespace == "" {
		config.Namespace = "httpcache"
	}

	factory := promauto.With(config.Registry)

	return &Collector{
		storageOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   config.Namespace,
				Subsystem:   config.Subsystem,
				Name:        "storage_operations_total",
				Help:        "Total number of httpcache.Storage operations",
				ConstLabels: config.ConstLabels,
			},
			[]string{"operation", "backend", "result"},
		),
		storageOpLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   config.Namespace,
				Subsystem:   config.Subsystem,
				Name:        "storage_operation_duration_seconds",
				Help:        "Duration of httpcache.Storage operations in seconds",
				Buckets:     []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
				ConstLabels: config.ConstLabels,
			},
			[]string{"operation", "backend"},
		),
		storageBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   config.Namespace,
				Subsystem:   config.Subsystem,
				Name:        "storage_bytes_total",
				Help:        "Total bytes written to record content",
				ConstLabels: config.ConstLabels,
			},
			[]string{"backend"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   config.Namespace,
				Subsystem:   config.Subsystem,
				Name:        "http_requests_total",
				Help:        "Total number of HTTP requests through an instrumented transport",
				ConstLabels: config.ConstLabels,
			},
			[]string{"method", "cache_status", "status_code"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   config.Namespace,
				Subsystem:   config.Subsystem,
				Name:        "http_request_duration_seconds",
				Help:        "Duration of HTTP requests in seconds",
				Buckets:     []float64{.01, .05, .1, .5, 1, 2, 5, 10, 30},
				ConstLabels: config.ConstLabels,
			},
			[]string{"method", "cache_status"},
		),
		httpResponseSize: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   config.Namespace,
				Subsystem:   config.Subsystem,
				Name:        "http_response_size_bytes_total",
				Help:        "Total size of HTTP responses in bytes",
				ConstLabels: config.ConstLabels,
			},
			[]string{"cache_status"},
		),
	}
}

// RecordStorageOperation implements metricsstore.Collector.
func (c *Collector) RecordStorageOperation(operation, backend, result string, duration time.Duration) {
	c.storageOps.WithLabelValues(operation, backend, result).Inc()
	c.storageOpLatency.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// RecordStorageBytes implements metricsstore.Collector.
func (c *Collector) RecordStorageBytes(backend string, sizeBytes int64) {
	c.storageBytes.WithLabelValues(backend).Add(float64(sizeBytes))
}

// RecordHTTPRequest implements metricsstore.Collector.
func (c *Collector) RecordHTTPRequest(method, cacheStatus string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, cacheStatus, strconv.Itoa(statusCode)).Inc()
	c.httpDuration.WithLabelValues(method, cacheStatus).Observe(duration.Seconds())
}

// RecordHTTPResponseSize implements metricsstore.Collector.
func (c *Collector) RecordHTTPResponseSize(cacheStatus string, sizeBytes int64) {
	c.httpResponseSize.WithLabelValues(cacheStatus).Add(float64(sizeBytes))
}
