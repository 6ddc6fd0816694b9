// Package multistore implements a multi-tiered httpcache.Storage that
// cascades through a sequence of backends ordered from fastest/smallest
// (first) to slowest/largest (last). Reads search each tier in order;
// GetRecord and GetRecordContent promote a hit to every faster tier.
// Writes go to every tier.
package multistore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/netcache-go/httpcache"
)

// Store implements a multi-tiered caching strategy where cache tiers are
// ordered from fastest/smallest (first) to slowest/largest (last). On
// reads, it searches each tier in order; GetRecord and GetRecordContent
// promote found records to faster tiers. On writes, it stores to all
// tiers.
//
// Example use case:
//   - Tier 1: in-memory MemStore (fast, small, volatile)
//   - Tier 2: redisstore (medium speed, larger, persistent)
//   - Tier 3: postgresstore (slower, largest, highly persistent)
type Store struct {
	tiers []httpcache.Storage
}

// New creates a Store with the specified storage tiers. Tiers should be
// ordered from fastest/smallest to slowest/largest. At least one tier
// must be provided and all tiers must be non-nil.
func New(tiers ...httpcache.Storage) (*Store, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("multistore: at least one tier is required")
	}
	for i, tier := range tiers {
		if tier == nil {
			return nil, fmt.Errorf("multistore: tier %d is nil", i)
		}
	}
	return &Store{tiers: tiers}, nil
}

// NewRecord implements httpcache.Storage by fanning the write out to
// every tier. Each Write is forwarded to every tier's Writer, and closing
// the returned Writer closes each of them in turn; if any tier fails to
// open, the ones
// already opened are abandoned unclosed so they leave no trace.
func (s *Store) NewRecord(ctx context.Context, url string, subtype httpcache.Subtype, headers *httpcache.Header) (httpcache.Writer, error) {
	writers := make([]httpcache.Writer, 0, len(s.tiers))
	for _, tier := range s.tiers {
		w, err := tier.NewRecord(ctx, url, subtype, headers)
		if err != nil {
			return nil, fmt.Errorf("multistore: open tier: %w", err)
		}
		writers = append(writers, w)
	}
	return &writer{writers: writers}, nil
}

type writer struct {
	writers []httpcache.Writer
}

func (w *writer) Write(p []byte) (int, error) {
	for _, tw := range w.writers {
		if _, err := tw.Write(p); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (w *writer) Close() error {
	var firstErr error
	for _, tw := range w.writers {
		if err := tw.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// GetRecord implements httpcache.Storage. It searches tiers in order and
// promotes a hit to every faster tier before returning.
func (s *Store) GetRecord(ctx context.Context, url string, subtype httpcache.Subtype) (*httpcache.Header, io.ReadCloser, error) {
	for i, tier := range s.tiers {
		headers, content, err := tier.GetRecord(ctx, url, subtype)
		if err != nil {
			continue
		}
		data, err := io.ReadAll(content)
		content.Close()
		if err != nil {
			return nil, nil, err
		}
		s.promote(ctx, url, subtype, headers, data, i)
		return headers, io.NopCloser(bytes.NewReader(data)), nil
	}
	return nil, nil, httpcache.ErrRecordNotFound
}

// GetRecordHeaders implements httpcache.Storage. It returns the first
// tier's hit without promoting it to faster tiers.
func (s *Store) GetRecordHeaders(ctx context.Context, url string, subtype httpcache.Subtype) (*httpcache.Header, error) {
	for _, tier := range s.tiers {
		headers, err := tier.GetRecordHeaders(ctx, url, subtype)
		if err == nil {
			return headers, nil
		}
	}
	return nil, httpcache.ErrRecordNotFound
}

// GetRecordContent implements httpcache.Storage.
func (s *Store) GetRecordContent(ctx context.Context, url string, subtype httpcache.Subtype) (io.ReadCloser, error) {
	_, content, err := s.GetRecord(ctx, url, subtype)
	return content, err
}

// promote writes a found record back to every tier faster
// than the one where it was found, so subsequent lookups hit sooner.
// Promotion is best-effort: failures are ignored since the record was
// already found successfully.
func (s *Store) promote(ctx context.Context, url string, subtype httpcache.Subtype, headers *httpcache.Header, data []byte, foundAtTier int) {
	for i := 0; i < foundAtTier; i++ {
		w, err := s.tiers[i].NewRecord(ctx, url, subtype, headers)
		if err != nil {
			continue
		}
		if _, err := w.Write(data); err != nil {
			continue
		}
		_ = w.Close()
	}
}

// GetRecordSubtypes implements httpcache.Storage. It returns the result
// from the first tier that answers without error, falling through tiers
// that return any error (ErrUnknownURL or otherwise); if every tier
// fails, the last tier's error is returned.
func (s *Store) GetRecordSubtypes(ctx context.Context, url string) ([]httpcache.Subtype, error) {
	var lastErr error
	for _, tier := range s.tiers {
		subtypes, err := tier.GetRecordSubtypes(ctx, url)
		if err == nil {
			return subtypes, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// PurgeRecord implements httpcache.Storage by purging the record from
// every tier. Returns true if any tier reports a purged record.
func (s *Store) PurgeRecord(ctx context.Context, url string, subtype httpcache.Subtype) (bool, error) {
	purged := false
	for _, tier := range s.tiers {
		ok, err := tier.PurgeRecord(ctx, url, subtype)
		if err != nil {
			return purged, err
		}
		if ok {
			purged = true
		}
	}
	return purged, nil
}
