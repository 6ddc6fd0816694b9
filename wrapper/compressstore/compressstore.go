// Package compressstore wraps an httpcache.Storage to transparently
// compress record content, reducing the bytes a backend has to hold or
// transfer. Headers and subtype bookkeeping pass straight through; only
// the content stream is compressed. Supports gzip, brotli, and snappy.
package compressstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/netcache-go/httpcache"
)

// Algorithm identifies a compression codec.
type Algorithm int

const (
	// Gzip is a good balance of ratio and speed.
	Gzip Algorithm = iota
	// Brotli gives the best ratio at the cost of speed.
	Brotli
	// Snappy is the fastest, with the lowest ratio.
	Snappy
)

// String returns the algorithm's name.
func (a Algorithm) String() string {
	switch a {
	case Gzip:
		return "gzip"
	case Brotli:
		return "brotli"
	case Snappy:
		return "snappy"
	default:
		return "unknown"
	}
}

// Stats holds compression statistics accumulated across every record
// written through a Store.
type Stats struct {
	CompressedBytes   int64
	UncompressedBytes int64
	CompressedCount   int64
	UncompressedCount int64
}

// Ratio returns CompressedBytes/UncompressedBytes, or 0 if nothing has
// been written yet.
func (s Stats) Ratio() float64 {
	if s.UncompressedBytes == 0 {
		return 0
	}
	return float64(s.CompressedBytes) / float64(s.UncompressedBytes)
}

type compressFunc func([]byte) ([]byte, error)
type decompressFunc func([]byte) ([]byte, error)

// Config configures a Store.
type Config struct {
	// Storage is the backend being wrapped. Required.
	Storage httpcache.Storage

	// Algorithm selects the compressor. Defaults to Gzip.
	Algorithm Algorithm

	// Level is the algorithm-specific compression level. Zero means the
	// algorithm's own default.
	Level int
}

// Store is a httpcache.Storage that compresses content before delegating
// to an inner Storage.
type Store struct {
	inner     httpcache.Storage
	algorithm Algorithm
	compress  compressFunc
	decompress decompressFunc

	compressedBytes   atomic.Int64
	uncompressedBytes atomic.Int64
	compressedCount   atomic.Int64
	uncompressedCount atomic.Int64
}

// New returns a Store wrapping config.Storage.
func New(config Config) (*Store, error) {
	if config.Storage == nil {
		return nil, fmt.Errorf("compressstore: storage is required")
	}

	s := &Store{inner: config.Storage, algorithm: config.Algorithm}
	switch config.Algorithm {
	case Gzip:
		s.compress, s.decompress = gzipCodec(config.Level)
	case Brotli:
		s.compress, s.decompress = brotliCodec(config.Level)
	case Snappy:
		s.compress, s.decompress = snappyCodec()
	default:
		return nil, fmt.Errorf("compressstore: unsupported algorithm %v", config.Algorithm)
	}
	return s, nil
}

// Stats returns compression statistics accumulated so far.
func (s *Store) Stats() Stats {
	return Stats{
		CompressedBytes:   s.compressedBytes.Load(),
		UncompressedBytes: s.uncompressedBytes.Load(),
		CompressedCount:   s.compressedCount.Load(),
		UncompressedCount: s.uncompressedCount.Load(),
	}
}

// encode prefixes compressed data with a one-byte marker: 0 means stored
// uncompressed (compression was attempted and failed), N+1
// means Algorithm(N) was used. This lets a Store configured with one
// algorithm still decompress records written by a Store configured with
// another.
func (s *Store) encode(data []byte) []byte {
	compressed, err := s.compress(data)
	if err != nil {
		s.uncompressedCount.Add(1)
		s.uncompressedBytes.Add(int64(len(data)))
		out := make([]byte, len(data)+1)
		out[0] = 0
		copy(out[1:], data)
		return out
	}
	s.compressedCount.Add(1)
	s.compressedBytes.Add(int64(len(compressed)))
	s.uncompressedBytes.Add(int64(len(data)))
	out := make([]byte, len(compressed)+1)
	out[0] = byte(s.algorithm + 1)
	copy(out[1:], compressed)
	return out
}

func (s *Store) decode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	marker := data[0]
	if marker == 0 {
		return data[1:], nil
	}
	algo := Algorithm(marker - 1)
	if algo == s.algorithm {
		return s.decompress(data[1:])
	}
	_, decompress := codecFor(algo)
	if decompress == nil {
		return nil, fmt.Errorf("compressstore: unknown algorithm marker %d", marker)
	}
	return decompress(data[1:])
}

func codecFor(algo Algorithm) (compressFunc, decompressFunc) {
	switch algo {
	case Gzip:
		return gzipCodec(0)
	case Brotli:
		return brotliCodec(0)
	case Snappy:
		return snappyCodec()
	default:
		return nil, nil
	}
}

// NewRecord implements httpcache.Storage.
func (s *Store) NewRecord(ctx context.Context, url string, subtype httpcache.Subtype, headers *httpcache.Header) (httpcache.Writer, error) {
	inner, err := s.inner.NewRecord(ctx, url, subtype, headers)
	if err != nil {
		return nil, err
	}
	return &writer{store: s, inner: inner}, nil
}

type writer struct {
	store *Store
	inner httpcache.Writer
	buf   bytes.Buffer
}

func (w *writer) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *writer) Close() error {
	encoded := w.store.encode(w.buf.Bytes())
	if _, err := w.inner.Write(encoded); err != nil {
		return err
	}
	return w.inner.Close()
}

// GetRecord implements httpcache.Storage.
func (s *Store) GetRecord(ctx context.Context, url string, subtype httpcache.Subtype) (*httpcache.Header, io.ReadCloser, error) {
	headers, content, err := s.inner.GetRecord(ctx, url, subtype)
	if err != nil {
		return nil, nil, err
	}
	defer content.Close()
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, nil, err
	}
	decoded, err := s.decode(data)
	if err != nil {
		return nil, nil, fmt.Errorf("compressstore: decode %s: %w", url, err)
	}
	return headers, io.NopCloser(bytes.NewReader(decoded)), nil
}

// GetRecordHeaders implements httpcache.Storage.
func (s *Store) GetRecordHeaders(ctx context.Context, url string, subtype httpcache.Subtype) (*httpcache.Header, error) {
	return s.inner.GetRecordHeaders(ctx, url, subtype)
}

// GetRecordContent implements httpcache.Storage.
func (s *Store) GetRecordContent(ctx context.Context, url string, subtype httpcache.Subtype) (io.ReadCloser, error) {
	content, err := s.inner.GetRecordContent(ctx, url, subtype)
	if err != nil {
		return nil, err
	}
	defer content.Close()
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	decoded, err := s.decode(data)
	if err != nil {
		return nil, fmt.Errorf("compressstore: decode %s: %w", url, err)
	}
	return io.NopCloser(bytes.NewReader(decoded)), nil
}

// GetRecordSubtypes implements httpcache.Storage.
func (s *Store) GetRecordSubtypes(ctx context.Context, url string) ([]httpcache.Subtype, error) {
	return s.inner.GetRecordSubtypes(ctx, url)
}

// PurgeRecord implements httpcache.Storage.
func (s *Store) PurgeRecord(ctx context.Context, url string, subtype httpcache.Subtype) (bool, error) {
	return s.inner.PurgeRecord(ctx, url, subtype)
}
