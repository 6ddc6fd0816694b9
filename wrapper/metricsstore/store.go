package metricsstore

import (
	"context"
	"io"
	"time"

	"github.com/netcache-go/httpcache"
)

// Store wraps an httpcache.Storage, recording a Collector metric for
// every operation.
type Store struct {
	inner     httpcache.Storage
	collector Collector
	backend   string
}

// New creates a Store that instruments inner's operations, labeling
// every metric with backend (e.g. "redis", "leveldb", "mem"). If
// collector is nil, DefaultCollector is used and instrumentation costs
// nothing beyond the labeling overhead.
func New(inner httpcache.Storage, backend string, collector Collector) *Store {
	if collector == nil {
		collector = DefaultCollector
	}
	return &Store{inner: inner, collector: collector, backend: backend}
}

// NewRecord implements httpcache.Storage.
func (s *Store) NewRecord(ctx context.Context, url string, subtype httpcache.Subtype, headers *httpcache.Header) (httpcache.Writer, error) {
	start := time.Now()
	w, err := s.inner.NewRecord(ctx, url, subtype, headers)
	result := "success"
	if err != nil {
		result = "error"
	}
	s.collector.RecordStorageOperation("new_record", s.backend, result, time.Since(start))
	if err != nil {
		return nil, err
	}
	return &writer{inner: w, store: s}, nil
}

type writer struct {
	inner httpcache.Writer
	store *Store
	n     int64
}

func (w *writer) Write(p []byte) (int, error) {
	n, err := w.inner.Write(p)
	w.n += int64(n)
	return n, err
}

func (w *writer) Close() error {
	err := w.inner.Close()
	if err == nil {
		w.store.collector.RecordStorageBytes(w.store.backend, w.n)
	}
	return err
}

// GetRecord implements httpcache.Storage.
func (s *Store) GetRecord(ctx context.Context, url string, subtype httpcache.Subtype) (*httpcache.Header, io.ReadCloser, error) {
	start := time.Now()
	headers, content, err := s.inner.GetRecord(ctx, url, subtype)
	s.collector.RecordStorageOperation("get_record", s.backend, resultFor(err), time.Since(start))
	return headers, content, err
}

// GetRecordHeaders implements httpcache.Storage.
func (s *Store) GetRecordHeaders(ctx context.Context, url string, subtype httpcache.Subtype) (*httpcache.Header, error) {
	start := time.Now()
	headers, err := s.inner.GetRecordHeaders(ctx, url, subtype)
	s.collector.RecordStorageOperation("get_headers", s.backend, resultFor(err), time.Since(start))
	return headers, err
}

// GetRecordContent implements httpcache.Storage.
func (s *Store) GetRecordContent(ctx context.Context, url string, subtype httpcache.Subtype) (io.ReadCloser, error) {
	start := time.Now()
	content, err := s.inner.GetRecordContent(ctx, url, subtype)
	s.collector.RecordStorageOperation("get_content", s.backend, resultFor(err), time.Since(start))
	return content, err
}

// GetRecordSubtypes implements httpcache.Storage.
func (s *Store) GetRecordSubtypes(ctx context.Context, url string) ([]httpcache.Subtype, error) {
	start := time.Now()
	subtypes, err := s.inner.GetRecordSubtypes(ctx, url)
	s.collector.RecordStorageOperation("get_subtypes", s.backend, resultFor(err), time.Since(start))
	return subtypes, err
}

// PurgeRecord implements httpcache.Storage.
func (s *Store) PurgeRecord(ctx context.Context, url string, subtype httpcache.Subtype) (bool, error) {
	start := time.Now()
	purged, err := s.inner.PurgeRecord(ctx, url, subtype)
	result := "miss"
	switch {
	case err != nil:
		result = "error"
	case purged:
		result = "hit"
	}
	s.collector.RecordStorageOperation("purge", s.backend, result, time.Since(start))
	return purged, err
}

func resultFor(err error) string {
	switch err {
	case nil:
		return "hit"
	case httpcache.ErrRecordNotFound, httpcache.ErrUnknownURL:
		return "miss"
	default:
		return "error"
	}
}
