// Package metricsstore instruments an httpcache.Storage and an
// http.RoundTripper built on top of a Pipeline with metrics, without
// tying the core module to any particular metrics backend. Collector is
// the seam: plug in a Prometheus-backed implementation (see the
// promcollector subpackage), OpenTelemetry, Datadog, or anything else.
package metricsstore

import "time"

// Collector defines the interface for metrics collection. Implementations
// collect metrics for storage operations and HTTP requests without
// requiring any changes to the httpcache core.
type Collector interface {
	// RecordStorageOperation records a Storage operation ("new_record",
	// "get_record", "get_headers", "get_content", "get_subtypes", "purge").
	// result is "success" or "error" for "new_record", and "hit", "miss",
	// or "error" for the others.
	RecordStorageOperation(operation, backend, result string, duration time.Duration)

	// RecordStorageBytes records the size in bytes of content written to
	// a record. Reads are not reported.
	RecordStorageBytes(backend string, sizeBytes int64)

	// RecordHTTPRequest records an HTTP request made through an
	// instrumented transport. cacheStatus is "hit", "miss", or
	// "revalidated".
	RecordHTTPRequest(method, cacheStatus string, statusCode int, duration time.Duration)

	// RecordHTTPResponseSize records the size of an HTTP response body.
	RecordHTTPResponseSize(cacheStatus string, sizeBytes int64)
}

// NoOpCollector implements Collector with no-op operations. It is the
// default collector when metrics are not enabled, keeping the cost of
// instrumentation at zero for callers who don't need it.
type NoOpCollector struct{}

func (NoOpCollector) RecordStorageOperation(operation, backend, result string, duration time.Duration) {
}
func (NoOpCollector) RecordStorageBytes(backend string, sizeBytes int64) {}
func (NoOpCollector) RecordHTTPRequest(method, cacheStatus string, statusCode int, duration time.Duration) {
}
func (NoOpCollector) RecordHTTPResponseSize(cacheStatus string, sizeBytes int64) {}

// DefaultCollector is the no-op collector used when a Store or
// InstrumentedTransport is created with a nil Collector.
var DefaultCollector Collector = NoOpCollector{}

var _ Collector = NoOpCollector{}
