// Package diskvstore implements httpcache.Storage on top of
// github.com/peterbourgon/diskv, a lighter-weight alternative to
// diskstore's hand-rolled sharded-directory format when an application
// already depends on diskv elsewhere or wants diskv's LRU in-memory
// cache layer in front of the filesystem.
package diskvstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/peterbourgon/diskv"

	"github.com/netcache-go/httpcache"
)

const (
	hdrPrefix  = "hdr:"
	bodyPrefix = "body:"
)

type headerEntry struct {
	Enabled bool              `json:"enabled"`
	Subtype string            `json:"subtype"`
	Headers map[string]string `json:"headers"`
}

// Store implements httpcache.Storage backed by a diskv.Diskv.
type Store struct {
	d *diskv.Diskv
}

// New returns a Store that stores files under basePath, with diskv's
// default 100MiB in-memory LRU cache in front of the filesystem.
func New(basePath string) *Store {
	return &Store{d: diskv.New(diskv.Options{
		BasePath:     basePath,
		CacheSizeMax: 100 * 1024 * 1024,
	})}
}

// NewWithDiskv returns a Store using the provided Diskv as the
// underlying storage.
func NewWithDiskv(d *diskv.Diskv) *Store {
	return &Store{d: d}
}

func hexDigest(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func hdrKey(urlHex, subHex string) string { return hdrPrefix + urlHex + ":" + subHex }
func bodyKey(urlHex, subHex string) string { return bodyPrefix + urlHex + ":" + subHex }
func hdrPrefixFor(urlHex string) string    { return hdrPrefix + urlHex + ":" }

// NewRecord implements httpcache.Storage.
func (s *Store) NewRecord(ctx context.Context, url string, subtype httpcache.Subtype, headers *httpcache.Header) (httpcache.Writer, error) {
	return &writer{
		store:   s,
		urlHex:  hexDigest(url),
		subHex:  hexDigest(subtype.CanonicalJSON()),
		subtype: subtype,
		headers: headers,
	}, nil
}

type writer struct {
	store   *Store
	urlHex  string
	subHex  string
	subtype httpcache.Subtype
	headers *httpcache.Header
	buf     bytes.Buffer
	closed  bool
}

func (w *writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("diskvstore: write after close")
	}
	return w.buf.Write(p)
}

func (w *writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	entry := headerEntry{Enabled: true, Subtype: w.subtype.CanonicalJSON(), Headers: w.headers.Map()}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("diskvstore: encode header: %w", err)
	}
	if err := w.store.d.WriteStream(bodyKey(w.urlHex, w.subHex), bytes.NewReader(w.buf.Bytes()), true); err != nil {
		return fmt.Errorf("diskvstore: write content: %w", err)
	}
	if err := w.store.d.WriteStream(hdrKey(w.urlHex, w.subHex), bytes.NewReader(encoded), true); err != nil {
		return fmt.Errorf("diskvstore: write header: %w", err)
	}
	return nil
}

func (s *Store) readEntry(urlHex, subHex string) (*headerEntry, error) {
	raw, err := s.d.Read(hdrKey(urlHex, subHex))
	if err != nil {
		return nil, httpcache.ErrRecordNotFound
	}
	var entry headerEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("diskvstore: decode header: %w", err)
	}
	return &entry, nil
}

// GetRecord implements httpcache.Storage.
func (s *Store) GetRecord(ctx context.Context, url string, subtype httpcache.Subtype) (*httpcache.Header, io.ReadCloser, error) {
	urlHex, subHex := hexDigest(url), hexDigest(subtype.CanonicalJSON())
	entry, err := s.readEntry(urlHex, subHex)
	if err != nil {
		return nil, nil, err
	}
	if !entry.Enabled {
		return nil, nil, httpcache.ErrRecordNotFound
	}
	content, err := s.d.Read(bodyKey(urlHex, subHex))
	if err != nil {
		return nil, nil, httpcache.ErrRecordNotFound
	}
	return httpcache.HeaderFrom(entry.Headers), io.NopCloser(bytes.NewReader(content)), nil
}

// GetRecordHeaders implements httpcache.Storage.
func (s *Store) GetRecordHeaders(ctx context.Context, url string, subtype httpcache.Subtype) (*httpcache.Header, error) {
	headers, content, err := s.GetRecord(ctx, url, subtype)
	if err != nil {
		return nil, err
	}
	content.Close()
	return headers, nil
}

// GetRecordContent implements httpcache.Storage.
func (s *Store) GetRecordContent(ctx context.Context, url string, subtype httpcache.Subtype) (io.ReadCloser, error) {
	_, content, err := s.GetRecord(ctx, url, subtype)
	return content, err
}

// GetRecordSubtypes implements httpcache.Storage. It lists every diskv
// key under the URL's header prefix, which requires a full key scan
// since diskv offers no native prefix index; acceptable given diskv's
// expected scale (a filesystem-backed store, not a high-QPS service).
func (s *Store) GetRecordSubtypes(ctx context.Context, url string) ([]httpcache.Subtype, error) {
	urlHex := hexDigest(url)
	prefix := hdrPrefixFor(urlHex)

	known := false
	var subtypes []httpcache.Subtype
	for key := range s.d.Keys(nil) {
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		known = true
		raw, err := s.d.Read(key)
		if err != nil {
			continue
		}
		var entry headerEntry
		if err := json.Unmarshal(raw, &entry); err != nil || !entry.Enabled {
			continue
		}
		subtype, err := httpcache.ParseSubtypeJSON(entry.Subtype)
		if err != nil {
			httpcache.GetLogger().Warn("diskvstore: ill-formed subtype, skipping record", "error", err)
			continue
		}
		subtypes = append(subtypes, subtype)
	}
	if !known {
		return nil, httpcache.ErrUnknownURL
	}
	if subtypes == nil {
		subtypes = []httpcache.Subtype{}
	}
	return subtypes, nil
}

// PurgeRecord implements httpcache.Storage.
func (s *Store) PurgeRecord(ctx context.Context, url string, subtype httpcache.Subtype) (bool, error) {
	urlHex, subHex := hexDigest(url), hexDigest(subtype.CanonicalJSON())
	entry, err := s.readEntry(urlHex, subHex)
	if err != nil || !entry.Enabled {
		return false, nil
	}
	entry.Enabled = false
	encoded, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("diskvstore: encode header: %w", err)
	}
	if err := s.d.WriteStream(hdrKey(urlHex, subHex), bytes.NewReader(encoded), true); err != nil {
		return false, fmt.Errorf("diskvstore: write header: %w", err)
	}
	return true, nil
}
