package metricsstore

import (
	"net/http"
	"strconv"
	"time"
)

// xFromCache mirrors the header the Pipeline sets on synthesized
// responses (httpcache's xFromCache constant is unexported).
const xFromCache = "X-From-Cache"

// InstrumentedTransport wraps an http.RoundTripper (typically the result
// of Pipeline.RoundTripper) with Collector metrics.
type InstrumentedTransport struct {
	next      http.RoundTripper
	collector Collector
}

// NewInstrumentedTransport creates an InstrumentedTransport that records
// metrics for all requests sent through next. If collector is nil,
// DefaultCollector is used.
func NewInstrumentedTransport(next http.RoundTripper, collector Collector) *InstrumentedTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	if collector == nil {
		collector = DefaultCollector
	}
	return &InstrumentedTransport{next: next, collector: collector}
}

// RoundTrip implements http.RoundTripper.
func (t *InstrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	duration := time.Since(start)
	if err != nil {
		return resp, err
	}

	cacheStatus := "miss"
	switch {
	case resp.Header.Get(xFromCache) == "1":
		cacheStatus = "hit"
	case resp.StatusCode == http.StatusNotModified:
		cacheStatus = "revalidated"
	}

	t.collector.RecordHTTPRequest(req.Method, cacheStatus, resp.StatusCode, duration)
	if contentLength := resp.Header.Get("Content-Length"); contentLength != "" {
		if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil {
			t.collector.RecordHTTPResponseSize(cacheStatus, size)
		}
	}
	return resp, nil
}

// Client returns an *http.Client using this transport.
func (t *InstrumentedTransport) Client() *http.Client {
	return &http.Client{Transport: t}
}
