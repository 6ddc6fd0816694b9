package httpcache

import (
	"bytes"
	"context"
	"crypto/md5"
	"io"
	"sync"
	"time"
)

// urlEntry holds every record ever created for one URL (§4.4): a creation
// timestamp and an ordered list of records, newest last. Purge and
// supersession both act by flipping Enabled rather than removing entries,
// so GetRecordSubtypes on a known URL with nothing enabled still resolves
// to an empty (not missing) slice.
type urlEntry struct {
	created time.Time
	records []*Record
	content map[*Record][]byte
}

// MemStore is the reference Storage implementation (§4.4): a mapping from
// md5(url) to an urlEntry, guarded by a single RWMutex. It is grounded on
// the teacher's MemoryCache (sync.RWMutex over a plain map) generalized
// from a single blob per key to an ordered record list per URL, matching
// original_source's InMemory class (per-URL record list, linear scan by
// subtype equality).
type MemStore struct {
	mu      sync.RWMutex
	entries map[[md5.Size]byte]*urlEntry

	// MaxSize is a hint reserved for a future eviction component (§9);
	// MemStore stores it but never consults it.
	MaxSize int
}

// NewMemStore returns an empty MemStore. maxSize is stored as a hint only.
func NewMemStore(maxSize int) *MemStore {
	return &MemStore{entries: make(map[[md5.Size]byte]*urlEntry), MaxSize: maxSize}
}

func urlKey(url string) [md5.Size]byte { return md5.Sum([]byte(url)) }

func (m *MemStore) entry(url string, create bool) *urlEntry {
	key := urlKey(url)
	if create {
		m.mu.Lock()
		defer m.mu.Unlock()
		e, ok := m.entries[key]
		if !ok {
			e = &urlEntry{created: time.Now(), content: make(map[*Record][]byte)}
			m.entries[key] = e
		}
		return e
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[key]
}

// NewRecord implements Storage.
func (m *MemStore) NewRecord(_ context.Context, url string, subtype Subtype, headers *Header) (Writer, error) {
	return &memWriter{store: m, url: url, subtype: subtype, headers: headers.Clone()}, nil
}

// GetRecord implements Storage.
func (m *MemStore) GetRecord(_ context.Context, url string, subtype Subtype) (*Header, io.ReadCloser, error) {
	e := m.entry(url, false)
	if e == nil {
		return nil, nil, ErrRecordNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(e.records) - 1; i >= 0; i-- {
		r := e.records[i]
		if r.Enabled && r.Subtype.Equal(subtype) {
			return r.Headers.Clone(), io.NopCloser(bytes.NewReader(e.content[r])), nil
		}
	}
	return nil, nil, ErrRecordNotFound
}

// GetRecordHeaders implements Storage.
func (m *MemStore) GetRecordHeaders(ctx context.Context, url string, subtype Subtype) (*Header, error) {
	h, rc, err := m.GetRecord(ctx, url, subtype)
	if err != nil {
		return nil, err
	}
	rc.Close()
	return h, nil
}

// GetRecordContent implements Storage.
func (m *MemStore) GetRecordContent(ctx context.Context, url string, subtype Subtype) (io.ReadCloser, error) {
	_, rc, err := m.GetRecord(ctx, url, subtype)
	return rc, err
}

// GetRecordSubtypes implements Storage.
func (m *MemStore) GetRecordSubtypes(_ context.Context, url string) ([]Subtype, error) {
	e := m.entry(url, false)
	if e == nil {
		return nil, ErrUnknownURL
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Subtype, 0, len(e.records))
	for _, r := range e.records {
		if r.Enabled {
			out = append(out, r.Subtype)
		}
	}
	return out, nil
}

// PurgeRecord implements Storage.
func (m *MemStore) PurgeRecord(_ context.Context, url string, subtype Subtype) (bool, error) {
	e := m.entry(url, false)
	if e == nil {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	purged := false
	for _, r := range e.records {
		if r.Enabled && r.Subtype.Equal(subtype) {
			r.Enabled = false
			purged = true
		}
	}
	return purged, nil
}

// memWriter buffers the record's content in memory; the record is
// appended to its urlEntry only on Close (§4.3, §4.4).
type memWriter struct {
	store   *MemStore
	url     string
	subtype Subtype
	headers *Header
	buf     bytes.Buffer
	closed  bool
}

func (w *memWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.buf.Write(p)
}

func (w *memWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	e := w.store.entry(w.url, true)
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	for _, r := range e.records {
		if r.Enabled && r.Subtype.Equal(w.subtype) {
			r.Enabled = false
		}
	}
	r := &Record{URL: w.url, Subtype: w.subtype, Headers: w.headers, Enabled: true}
	e.records = append(e.records, r)
	e.content[r] = w.buf.Bytes()
	return nil
}
