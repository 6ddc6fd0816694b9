// Package redisstore implements httpcache.Storage on top of go-redis/v9.
// Unlike the other flat key/value backends, a Redis SET gives us a native
// way to track which subtypes exist for a URL, so no JSON-encoded index
// blob is needed: SADD on write, SMEMBERS on read.
package redisstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/netcache-go/httpcache"
)

// Config holds the configuration for connecting a Store to Redis.
type Config struct {
	// Address is the Redis server address (e.g., "localhost:6379"). Required.
	Address string

	// Password is the Redis password for authentication. Optional.
	Password string

	// DB is the Redis database number to use. Optional, defaults to 0.
	DB int

	// DialTimeout bounds the initial connection. Defaults to 5s.
	DialTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{DialTimeout: 5 * time.Second}
}

// Store is a httpcache.Storage backed by a Redis client.
type Store struct {
	client *goredis.Client
}

// New connects to Redis and returns a Store. The caller should call Close
// when done.
func New(config Config) (*Store, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("redisstore: address is required")
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = DefaultConfig().DialTimeout
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:        config.Address,
		Password:    config.Password,
		DB:          config.DB,
		DialTimeout: config.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisstore: connect: %w", err)
	}

	return &Store{client: client}, nil
}

// NewWithClient wraps an already-configured client.
func NewWithClient(client *goredis.Client) *Store {
	return &Store{client: client}
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

type headerEntry struct {
	Enabled bool              `json:"enabled"`
	Subtype string            `json:"subtype"`
	Headers map[string]string `json:"headers"`
}

func hexDigest(v string) string {
	sum := md5.Sum([]byte(v))
	return hex.EncodeToString(sum[:])
}

func idxKey(urlHex string) string        { return "httpcache:idx:" + urlHex }
func hdrKey(urlHex, subHex string) string  { return "httpcache:hdr:" + urlHex + ":" + subHex }
func bodyKey(urlHex, subHex string) string { return "httpcache:body:" + urlHex + ":" + subHex }

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

	ctx := context.Background()
	pipe := w.store.client.TxPipeline()
	pipe.Set(ctx, bodyKey(urlHex, subHex), w.buf.Bytes(), 0)
	pipe.Set(ctx, hdrKey(urlHex, subHex), data, 0)
	pipe.SAdd(ctx, idxKey(urlHex), subHex)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: commit record for %s: %w", w.url, err)
	}
	return nil
}

func (s *Store) getEntry(ctx context.Context, urlHex, subHex string) (headerEntry, bool) {
	data, err := s.client.Get(ctx, hdrKey(urlHex, subHex)).Bytes()
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
	data, err := s.client.Get(ctx, bodyKey(urlHex, subHex)).Bytes()
	if err != nil {
		return nil, httpcache.ErrRecordNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// GetRecordSubtypes implements httpcache.Storage.
func (s *Store) GetRecordSubtypes(ctx context.Context, url string) ([]httpcache.Subtype, error) {
	urlHex := hexDigest(url)
	subHexes, err := s.client.SMembers(ctx, idxKey(urlHex)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: scan %s: %w", url, err)
	}
	if len(subHexes) == 0 {
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
			httpcache.GetLogger().Warn("redisstore: ill-formed subtype, skipping record", "error", err)
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
	if err := s.client.Set(ctx, hdrKey(urlHex, subHex), data, 0).Err(); err != nil {
		return false, fmt.Errorf("redisstore: purge %s: %w", url, err)
	}
	return true, nil
}
