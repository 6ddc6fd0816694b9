// Package leveldbstore implements httpcache.Storage on top of
// github.com/syndtr/goleveldb/leveldb, an embedded sorted-key store. Unlike
// freecachestore, leveldb gives us range scans over a key prefix, so the
// index-of-subtypes key used by the flat key/value backends isn't needed
// here: GetRecordSubtypes walks the "hdr:<urlHex>:" key range directly.
package leveldbstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/netcache-go/httpcache"
)

// Store is a httpcache.Storage backed by a leveldb.DB.
type Store struct {
	db *leveldb.DB
}

// New opens (creating if necessary) a leveldb database at path.
func New(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("leveldbstore: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an already-open leveldb.DB.
func NewWithDB(db *leveldb.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

type headerEntry struct {
	Enabled bool              `json:"enabled"`
	Subtype string            `json:"subtype"`
	Headers map[string]string `json:"headers"`
}

func hexDigest(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func hdrKey(urlHex, subHex string) []byte  { return []byte("hdr:" + urlHex + ":" + subHex) }
func bodyKey(urlHex, subHex string) []byte { return []byte("body:" + urlHex + ":" + subHex) }
func hdrPrefix(urlHex string) []byte       { return []byte("hdr:" + urlHex + ":") }

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

	batch := new(leveldb.Batch)
	batch.Put(hdrKey(urlHex, subHex), data)
	batch.Put(bodyKey(urlHex, subHex), w.buf.Bytes())
	if err := w.store.db.Write(batch, nil); err != nil {
		return fmt.Errorf("leveldbstore: commit record for %s: %w", w.url, err)
	}
	return nil
}

func (s *Store) getEntry(urlHex, subHex string) (headerEntry, bool) {
	data, err := s.db.Get(hdrKey(urlHex, subHex), nil)
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
	data, err := s.db.Get(bodyKey(urlHex, subHex), nil)
	if err != nil {
		return nil, httpcache.ErrRecordNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// GetRecordSubtypes implements httpcache.Storage.
func (s *Store) GetRecordSubtypes(ctx context.Context, url string) ([]httpcache.Subtype, error) {
	urlHex := hexDigest(url)
	prefix := hdrPrefix(urlHex)
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	seen := false
	var out []httpcache.Subtype
	for iter.Next() {
		seen = true
		var entry headerEntry
		if json.Unmarshal(iter.Value(), &entry) != nil || !entry.Enabled {
			continue
		}
		subtype, err := httpcache.ParseSubtypeJSON(entry.Subtype)
		if err != nil {
			httpcache.GetLogger().Warn("leveldbstore: ill-formed subtype, skipping record", "error", err)
			continue
		}
		out = append(out, subtype)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("leveldbstore: scan %s: %w", url, err)
	}
	if !seen {
		return nil, httpcache.ErrUnknownURL
	}
	if out == nil {
		out = []httpcache.Subtype{}
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
	if err := s.db.Put(hdrKey(urlHex, subHex), data, nil); err != nil {
		return false, fmt.Errorf("leveldbstore: purge %s: %w", url, err)
	}
	return true, nil
}
