// Package freecachestore implements httpcache.Storage on top of an
// in-process freecache.Cache, for callers that want the Storage interface
// without an external dependency but do want an eviction policy freecache
// provides and MemStore does not (LRU-ish segment eviction under memory
// pressure instead of an unbounded map).
package freecachestore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/coocood/freecache"

	"github.com/netcache-go/httpcache"
)

// Store is a httpcache.Storage backed by freecache. freecache only offers
// flat key/value Get/Set/Del, so the per-(url, subtype) record model is
// flattened onto three key families:
//
//	idx:<urlHex>                -> JSON array of subtypeHex strings ever seen for url
//	hdr:<urlHex>:<subtypeHex>   -> JSON headerEntry (enabled flag + headers + subtype)
//	body:<urlHex>:<subtypeHex>  -> raw content bytes
//
// A mutex serializes the read-modify-write of the index key; freecache
// itself has no compare-and-swap.
type Store struct {
	cache *freecache.Cache
	mu    sync.Mutex
}

// New returns a Store backed by a freecache.Cache of the given size in
// bytes.
func New(size int) *Store {
	return &Store{cache: freecache.NewCache(size)}
}

type headerEntry struct {
	Enabled bool              `json:"enabled"`
	Subtype string            `json:"subtype"`
	Headers map[string]string `json:"headers"`
}

func hexDigest(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func idxKey(urlHex string) []byte        { return []byte("idx:" + urlHex) }
func hdrKey(urlHex, subHex string) []byte  { return []byte("hdr:" + urlHex + ":" + subHex) }
func bodyKey(urlHex, subHex string) []byte { return []byte("body:" + urlHex + ":" + subHex) }

func (s *Store) readIndex(urlHex string) ([]string, bool) {
	data, err := s.cache.Get(idxKey(urlHex))
	if err != nil {
		return nil, false
	}
	var subtypes []string
	if err := json.Unmarshal(data, &subtypes); err != nil {
		return nil, false
	}
	return subtypes, true
}

func (s *Store) addToIndex(urlHex, subHex string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subtypes, _ := s.readIndex(urlHex)
	for _, existing := range subtypes {
		if existing == subHex {
			return nil
		}
	}
	subtypes = append(subtypes, subHex)
	data, err := json.Marshal(subtypes)
	if err != nil {
		return err
	}
	return s.cache.Set(idxKey(urlHex), data, 0)
}

// NewRecord implements httpcache.Storage.
func (s *Store) NewRecord(ctx context.Context, url string, subtype httpcache.Subtype, headers *httpcache.Header) (httpcache.Writer, error) {
	return &writer{store: s, url: url, subtype: subtype, headers: headers}, nil
}

type writer struct {
	store   *Store
	url     string
	subtype httpcache.Subtype
	headers *httpcache.Header
	buf     []byte
	closed  bool
}

func (w *writer) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	urlHex := hexDigest(w.url)
	subHex := hexDigest(w.subtype.CanonicalJSON())

	entry := headerEntry{Enabled: true, Subtype: w.subtype.CanonicalJSON(), Headers: w.headers.Map()}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := w.store.cache.Set(bodyKey(urlHex, subHex), w.buf, 0); err != nil {
		return err
	}
	if err := w.store.cache.Set(hdrKey(urlHex, subHex), data, 0); err != nil {
		return err
	}
	return w.store.addToIndex(urlHex, subHex)
}

func (s *Store) getEntry(urlHex, subHex string) (headerEntry, bool) {
	data, err := s.cache.Get(hdrKey(urlHex, subHex))
	if err != nil {
		return headerEntry{}, false
	}
	var entry headerEntry
	if json.Unmarshal(data, &entry) != nil {
		return headerEntry{}, false
	}
	return entry, true
}

// GetRecord implements httpcache.Storage.
func (s *Store) GetRecord(ctx context.Context, url string, subtype httpcache.Subtype) (*httpcache.Header, io.ReadCloser, error) {
	headers, err := s.GetRecordHeaders(ctx, url, subtype)
	if err != nil {
		return nil, nil, err
	}
	content, err := s.GetRecordContent(ctx, url, subtype)
	if err != nil {
		return nil, nil, err
	}
	return headers, content, nil
}

// GetRecordHeaders implements httpcache.Storage.
func (s *Store) GetRecordHeaders(ctx context.Context, url string, subtype httpcache.Subtype) (*httpcache.Header, error) {
	urlHex := hexDigest(url)
	subHex := hexDigest(subtype.CanonicalJSON())
	entry, ok := s.getEntry(urlHex, subHex)
	if !ok || !entry.Enabled {
		return nil, httpcache.ErrRecordNotFound
	}
	return httpcache.HeaderFrom(entry.Headers), nil
}

// GetRecordContent implements httpcache.Storage.
func (s *Store) GetRecordContent(ctx context.Context, url string, subtype httpcache.Subtype) (io.ReadCloser, error) {
	urlHex := hexDigest(url)
	subHex := hexDigest(subtype.CanonicalJSON())
	entry, ok := s.getEntry(urlHex, subHex)
	if !ok || !entry.Enabled {
		return nil, httpcache.ErrRecordNotFound
	}
	data, err := s.cache.Get(bodyKey(urlHex, subHex))
	if err != nil {
		return nil, httpcache.ErrRecordNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// GetRecordSubtypes implements httpcache.Storage.
func (s *Store) GetRecordSubtypes(ctx context.Context, url string) ([]httpcache.Subtype, error) {
	urlHex := hexDigest(url)
	subHexes, ok := s.readIndex(urlHex)
	if !ok {
		return nil, httpcache.ErrUnknownURL
	}
	out := make([]httpcache.Subtype, 0, len(subHexes))
	for _, subHex := range subHexes {
		entry, ok := s.getEntry(urlHex, subHex)
		if !ok || !entry.Enabled {
			continue
		}
		subtype, err := httpcache.ParseSubtypeJSON(entry.Subtype)
		if err != nil {
			httpcache.GetLogger().Warn("freecachestore: ill-formed subtype, skipping record", "error", err)
			continue
		}
		out = append(out, subtype)
	}
	return out, nil
}

// PurgeRecord implements httpcache.Storage.
func (s *Store) PurgeRecord(ctx context.Context, url string, subtype httpcache.Subtype) (bool, error) {
	urlHex := hexDigest(url)
	subHex := hexDigest(subtype.CanonicalJSON())
	entry, ok := s.getEntry(urlHex, subHex)
	if !ok || !entry.Enabled {
		return false, nil
	}
	entry.Enabled = false
	data, err := json.Marshal(entry)
	if err != nil {
		return false, err
	}
	if err := s.cache.Set(hdrKey(urlHex, subHex), data, 0); err != nil {
		return false, fmt.Errorf("freecachestore: purge %s: %w", url, err)
	}
	return true, nil
}
