// Package natsstore implements httpcache.Storage on top of a NATS
// JetStream Key/Value bucket.
package natsstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/netcache-go/httpcache"
)

// Config holds the configuration for connecting a Store to NATS.
type Config struct {
	// NATSUrl is the URL of the NATS server. Defaults to nats.DefaultURL.
	NATSUrl string

	// Bucket is the name of the K/V bucket to use for caching. Required.
	Bucket string

	// Description is an optional description for the K/V bucket.
	Description string

	// TTL is the time-to-live applied to every key in the bucket. Zero
	// means entries don't expire.
	TTL time.Duration

	// NATSOptions are additional options passed to nats.Connect.
	NATSOptions []nats.Option
}

// Store is a httpcache.Storage backed by a JetStream KeyValue bucket. Like
// the other flat key/value backends, an index key per URL tracks known
// subtype keys; a mutex serializes its read-modify-write since KV Put has
// no atomic append.
type Store struct {
	kv jetstream.KeyValue
	nc *nats.Conn
	mu sync.Mutex
}

// New connects to NATS and creates or reuses the configured K/V bucket.
// The caller should call Close when done.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("natsstore: bucket name is required")
	}

	url := config.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := nats.Connect(url, config.NATSOptions...)
	if err != nil {
		return nil, fmt.Errorf("natsstore: connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("natsstore: jetstream context: %w", err)
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      config.Bucket,
		Description: config.Description,
		TTL:         config.TTL,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("natsstore: create bucket: %w", err)
	}

	return &Store{kv: kv, nc: nc}, nil
}

// NewWithKeyValue wraps an already-open bucket. Close is then a no-op: the
// caller owns the NATS connection's lifecycle.
func NewWithKeyValue(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}

// Close closes the underlying NATS connection, if this Store created it.
func (s *Store) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
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

// NATS K/V keys are subjects, so "." is reserved as a token separator; hex
// digests never contain it, which keeps these keys valid subjects.
func idxKey(urlHex string) string        { return "idx." + urlHex }
func hdrKey(urlHex, subHex string) string  { return "hdr." + urlHex + "." + subHex }
func bodyKey(urlHex, subHex string) string { return "body." + urlHex + "." + subHex }

func (s *Store) readIndex(ctx context.Context, urlHex string) ([]string, bool) {
	entry, err := s.kv.Get(ctx, idxKey(urlHex))
	if err != nil {
		return nil, false
	}
	var subtypes []string
	if json.Unmarshal(entry.Value(), &subtypes) != nil {
		return nil, false
	}
	return subtypes, true
}

func (s *Store) addToIndex(ctx context.Context, urlHex, subHex string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subtypes, _ := s.readIndex(ctx, urlHex)
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
	_, err = s.kv.Put(ctx, idxKey(urlHex), data)
	return err
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

	ctx := context.Background()
	urlHex := hexDigest(w.url)
	subHex := hexDigest(w.subtype.CanonicalJSON())

	entry := headerEntry{Enabled: true, Subtype: w.subtype.CanonicalJSON(), Headers: w.headers.Map()}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if _, err := w.store.kv.Put(ctx, bodyKey(urlHex, subHex), w.buf); err != nil {
		return fmt.Errorf("natsstore: store content for %s: %w", w.url, err)
	}
	if _, err := w.store.kv.Put(ctx, hdrKey(urlHex, subHex), data); err != nil {
		return fmt.Errorf("natsstore: store headers for %s: %w", w.url, err)
	}
	return w.store.addToIndex(ctx, urlHex, subHex)
}

func (s *Store) getEntry(ctx context.Context, urlHex, subHex string) (headerEntry, bool) {
	entry, err := s.kv.Get(ctx, hdrKey(urlHex, subHex))
	if err != nil {
		return headerEntry{}, false
	}
	var he headerEntry
	if json.Unmarshal(entry.Value(), &he) != nil {
		return headerEntry{}, false
	}
	return he, true
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
	entry, ok := s.getEntry(ctx, urlHex, subHex)
	if !ok || !entry.Enabled {
		return nil, httpcache.ErrRecordNotFound
	}
	return httpcache.HeaderFrom(entry.Headers), nil
}

// GetRecordContent implements httpcache.Storage.
func (s *Store) GetRecordContent(ctx context.Context, url string, subtype httpcache.Subtype) (io.ReadCloser, error) {
	urlHex := hexDigest(url)
	subHex := hexDigest(subtype.CanonicalJSON())
	entry, ok := s.getEntry(ctx, urlHex, subHex)
	if !ok || !entry.Enabled {
		return nil, httpcache.ErrRecordNotFound
	}
	kvEntry, err := s.kv.Get(ctx, bodyKey(urlHex, subHex))
	if err != nil {
		return nil, httpcache.ErrRecordNotFound
	}
	return io.NopCloser(bytes.NewReader(kvEntry.Value())), nil
}

// GetRecordSubtypes implements httpcache.Storage.
func (s *Store) GetRecordSubtypes(ctx context.Context, url string) ([]httpcache.Subtype, error) {
	urlHex := hexDigest(url)
	subHexes, ok := s.readIndex(ctx, urlHex)
	if !ok {
		return nil, httpcache.ErrUnknownURL
	}
	out := make([]httpcache.Subtype, 0, len(subHexes))
	for _, subHex := range subHexes {
		entry, ok := s.getEntry(ctx, urlHex, subHex)
		if !ok || !entry.Enabled {
			continue
		}
		subtype, err := httpcache.ParseSubtypeJSON(entry.Subtype)
		if err != nil {
			httpcache.GetLogger().Warn("natsstore: ill-formed subtype, skipping record", "error", err)
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
	entry, ok := s.getEntry(ctx, urlHex, subHex)
	if !ok || !entry.Enabled {
		return false, nil
	}
	entry.Enabled = false
	data, err := json.Marshal(entry)
	if err != nil {
		return false, err
	}
	if _, err := s.kv.Put(ctx, hdrKey(urlHex, subHex), data); err != nil {
		return false, fmt.Errorf("natsstore: purge %s: %w", url, err)
	}
	return true, nil
}
