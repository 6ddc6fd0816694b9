// Package memcachestore implements httpcache.Storage on top of
// github.com/bradfitz/gomemcache, talking to one or more memcached servers.
package memcachestore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/netcache-go/httpcache"
)

// Store is a httpcache.Storage backed by a memcache.Client. Like
// freecachestore, memcached exposes only flat key/value Get/Set, so an
// index key per URL tracks which subtype keys exist; a mutex serializes
// the index's read-modify-write since memcache has no native batch.
type Store struct {
	client *memcache.Client
	mu     sync.Mutex
}

// New returns a Store talking to the given memcache server(s) with equal
// weight, per memcache.New.
func New(server ...string) *Store {
	return NewWithClient(memcache.New(server...))
}

// NewWithClient returns a Store using the given memcache client.
func NewWithClient(client *memcache.Client) *Store {
	return &Store{client: client}
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

func idxKey(urlHex string) string        { return "httpcache:idx:" + urlHex }
func hdrKey(urlHex, subHex string) string  { return "httpcache:hdr:" + urlHex + ":" + subHex }
func bodyKey(urlHex, subHex string) string { return "httpcache:body:" + urlHex + ":" + subHex }

func (s *Store) readIndex(urlHex string) ([]string, bool) {
	item, err := s.client.Get(idxKey(urlHex))
	if err != nil {
		return nil, false
	}
	var subtypes []string
	if json.Unmarshal(item.Value, &subtypes) != nil {
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
	return s.client.Set(&memcache.Item{Key: idxKey(urlHex), Value: data})
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
	buf     bytes.Buffer
	closed  bool
}

func (w *writer) Write(p []byte) (int, error) { return w.buf.Write(p) }

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
	if err := w.store.client.Set(&memcache.Item{Key: bodyKey(urlHex, subHex), Value: w.buf.Bytes()}); err != nil {
		return fmt.Errorf("memcachestore: store content for %s: %w", w.url, err)
	}
	if err := w.store.client.Set(&memcache.Item{Key: hdrKey(urlHex, subHex), Value: data}); err != nil {
		return fmt.Errorf("memcachestore: store headers for %s: %w", w.url, err)
	}
	return w.store.addToIndex(urlHex, subHex)
}

func (s *Store) getEntry(urlHex, subHex string) (headerEntry, bool) {
	item, err := s.client.Get(hdrKey(urlHex, subHex))
	if err != nil {
		return headerEntry{}, false
	}
	var entry headerEntry
	if json.Unmarshal(item.Value, &entry) != nil {
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
	item, err := s.client.Get(bodyKey(urlHex, subHex))
	if err != nil {
		return nil, httpcache.ErrRecordNotFound
	}
	return io.NopCloser(bytes.NewReader(item.Value)), nil
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
			httpcache.GetLogger().Warn("memcachestore: ill-formed subtype, skipping record", "error", err)
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
	if err := s.client.Set(&memcache.Item{Key: hdrKey(urlHex, subHex), Value: data}); err != nil {
		return false, fmt.Errorf("memcachestore: purge %s: %w", url, err)
	}
	return true, nil
}
