// Package diskstore implements the filesystem-backed httpcache.Storage
// described by the sharded, append-with-tombstone index format: two-level
// hex-sharded directories, a text index file per URL, and a sidecar
// content file per (url, subtype) pair. It supplements the teacher's
// diskv-backed Cache (kept, generalized, in the sibling diskvstore
// package) with a hand-rolled format that diskv's flat key/value layout
// cannot express.
package diskstore

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"context"

	"github.com/netcache-go/httpcache"
)

const chunkSize = 16 * 1024

// Store is a filesystem-backed httpcache.Storage rooted at BasePath.
type Store struct {
	BasePath string

	// MaxSize is a hint reserved for a future eviction component; Store
	// never consults it.
	MaxSize int

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New returns a Store rooted at basePath. basePath is created on first
// write if it does not already exist.
func New(basePath string) *Store {
	return &Store{BasePath: basePath, locks: make(map[string]*sync.Mutex)}
}

func (s *Store) lockFor(md5hex string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[md5hex]
	if !ok {
		l = &sync.Mutex{}
		s.locks[md5hex] = l
	}
	return l
}

func hexDigest(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// shardDir returns the two-level sharded directory for a URL's md5 hex
// digest, per §4.5: base/<aa>/<aabbb>/.
func (s *Store) shardDir(urlHex string) string {
	return filepath.Join(s.BasePath, urlHex[:2], urlHex[:5])
}

func (s *Store) indexPath(urlHex string) string {
	return filepath.Join(s.shardDir(urlHex), urlHex)
}

func (s *Store) contentPath(urlHex, subtypeHex string) string {
	return filepath.Join(s.shardDir(urlHex), urlHex+":"+subtypeHex)
}

// indexRecord is one parsed three-line block from an index file, plus the
// byte offset of its enabled flag so it can be overwritten in place.
type indexRecord struct {
	enabledOffset int64
	enabled       bool
	subtypeJSON   string
	subtype       httpcache.Subtype
	headersJSON   string
}

// readIndex reads every record (including tombstoned ones) from the index
// file at path, skipping the leading "# <url>" comment line and any other
// line starting with # outside a record (§4.5/§6). Returns
// os.ErrNotExist if the file is absent. The whole file is read into
// memory: index files hold metadata only, never content bytes, so this
// stays small even for URLs with many historical records.
func readIndex(path string) ([]indexRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	offset := 0
	if len(data) > 0 && data[0] == '#' {
		_, next, ok := readLine(data, offset)
		if !ok {
			return nil, nil
		}
		offset = next
	}

	var records []indexRecord
	for offset < len(data) {
		if data[offset] == '#' {
			_, next, ok := readLine(data, offset)
			if !ok {
				break
			}
			offset = next
			continue
		}
		enabledOffset := offset
		enabledLine, next, ok := readLine(data, offset)
		if !ok {
			break
		}
		offset = next

		subtypeJSON, next, ok := readLine(data, offset)
		if !ok {
			break
		}
		offset = next

		headersJSON, next, ok := readLine(data, offset)
		if !ok {
			break
		}
		offset = next

		subtype, perr := httpcache.ParseSubtypeJSON(subtypeJSON)
		if perr != nil {
			httpcache.GetLogger().Warn("diskstore: ill-formed subtype in index, treating as NoSubtype", "error", perr)
			subtype = httpcache.NoSubtype
		}
		records = append(records, indexRecord{
			enabledOffset: int64(enabledOffset),
			enabled:       enabledLine == "1",
			subtypeJSON:   subtypeJSON,
			subtype:       subtype,
			headersJSON:   headersJSON,
		})
	}
	return records, nil
}

// readLine returns the line starting at offset (without its trailing
// newline) and the offset of the byte following the newline. ok is false
// if no newline terminates the remaining data, meaning the file ends
// mid-record (a torn write); such a trailing partial block is discarded.
func readLine(data []byte, offset int) (line string, next int, ok bool) {
	idx := bytes.IndexByte(data[offset:], '\n')
	if idx < 0 {
		return "", offset, false
	}
	return string(data[offset : offset+idx]), offset + idx + 1, true
}

func headersToJSON(h *httpcache.Header) (string, error) {
	b, err := json.Marshal(h.Map())
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func headersFromJSON(data string) (*httpcache.Header, error) {
	var m map[string]string
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, &httpcache.ParseError{Kind: "headers", Input: data, Err: err}
	}
	return httpcache.HeaderFrom(m), nil
}

// NewRecord implements httpcache.Storage. Content is streamed to a
// temporary file in the shard directory as Write is called; the file is
// renamed over the record's content path and the index block — and with
// it, the record's visibility — is committed only on Close (§4.3).
func (s *Store) NewRecord(_ context.Context, url string, subtype httpcache.Subtype, headers *httpcache.Header) (httpcache.Writer, error) {
	urlHex := hexDigest(url)
	subtypeHex := hexDigest(subtype.CanonicalJSON())

	dir := s.shardDir(urlHex)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("diskstore: create shard dir: %w", err)
	}

	// Writing to a temporary file leaves the content of any enabled record
	// for the same (url, subtype) untouched until Close.
	contentFile, err := os.CreateTemp(dir, urlHex+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("diskstore: open content file: %w", err)
	}

	return &writer{
		store:      s,
		url:        url,
		urlHex:     urlHex,
		subtype:    subtype,
		subtypeHex: subtypeHex,
		headers:    headers.Clone(),
		file:       contentFile,
		buf:        bufio.NewWriterSize(contentFile, chunkSize),
	}, nil
}

type writer struct {
	store      *Store
	url        string
	urlHex     string
	subtype    httpcache.Subtype
	subtypeHex string
	headers    *httpcache.Header
	file       *os.File
	buf        *bufio.Writer
	closed     bool
}

func (w *writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.buf.Write(p)
}

// Close flushes the content file and commits the index block, tombstoning
// any previously enabled record with the same subtype first (§4.5 steps
// 1-3).
func (w *writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		os.Remove(w.file.Name())
		return fmt.Errorf("diskstore: flush content: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.file.Name())
		return fmt.Errorf("diskstore: close content file: %w", err)
	}

	lock := w.store.lockFor(w.urlHex)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Rename(w.file.Name(), w.store.contentPath(w.urlHex, w.subtypeHex)); err != nil {
		os.Remove(w.file.Name())
		return fmt.Errorf("diskstore: commit content file: %w", err)
	}
	return w.store.addRecordLocked(w.url, w.urlHex, w.subtype, w.headers)
}

// addRecordLocked performs §4.5's add_record: tombstone any enabled
// record sharing (url, subtype), then append the new record block.
// Callers must hold the per-URL lock.
func (s *Store) addRecordLocked(url, urlHex string, subtype httpcache.Subtype, headers *httpcache.Header) error {
	path := s.indexPath(urlHex)

	records, err := readIndex(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("diskstore: read index: %w", err)
	}

	isNew := errors.Is(err, os.ErrNotExist)

	flags := os.O_RDWR | os.O_CREATE
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("diskstore: open index: %w", err)
	}
	defer f.Close()

	if isNew {
		if _, err := f.WriteString("# " + url + "\n"); err != nil {
			return fmt.Errorf("diskstore: write index header: %w", err)
		}
	}

	target := subtype.CanonicalJSON()
	for _, r := range records {
		if r.enabled && r.subtypeJSON == target {
			if _, err := f.WriteAt([]byte("0"), r.enabledOffset); err != nil {
				return fmt.Errorf("diskstore: tombstone record: %w", err)
			}
		}
	}

	headersJSON, err := headersToJSON(headers)
	if err != nil {
		return fmt.Errorf("diskstore: encode headers: %w", err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("diskstore: seek index: %w", err)
	}
	block := "1\n" + target + "\n" + headersJSON + "\n"
	if _, err := f.WriteString(block); err != nil {
		return fmt.Errorf("diskstore: append record: %w", err)
	}
	return nil
}

// GetRecord implements httpcache.Storage.
func (s *Store) GetRecord(_ context.Context, url string, subtype httpcache.Subtype) (*httpcache.Header, io.ReadCloser, error) {
	urlHex := hexDigest(url)
	records, err := readIndex(s.indexPath(urlHex))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, httpcache.ErrRecordNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("diskstore: read index: %w", err)
	}

	target := subtype.CanonicalJSON()
	for _, r := range records {
		if r.enabled && r.subtypeJSON == target {
			headers, err := headersFromJSON(r.headersJSON)
			if err != nil {
				return nil, nil, err
			}
			subtypeHex := hexDigest(target)
			f, err := os.Open(s.contentPath(urlHex, subtypeHex))
			if err != nil {
				return nil, nil, fmt.Errorf("diskstore: open content: %w", err)
			}
			return headers, f, nil
		}
	}
	return nil, nil, httpcache.ErrRecordNotFound
}

// GetRecordHeaders implements httpcache.Storage.
func (s *Store) GetRecordHeaders(ctx context.Context, url string, subtype httpcache.Subtype) (*httpcache.Header, error) {
	h, rc, err := s.GetRecord(ctx, url, subtype)
	if err != nil {
		return nil, err
	}
	rc.Close()
	return h, nil
}

// GetRecordContent implements httpcache.Storage.
func (s *Store) GetRecordContent(ctx context.Context, url string, subtype httpcache.Subtype) (io.ReadCloser, error) {
	_, rc, err := s.GetRecord(ctx, url, subtype)
	return rc, err
}

// GetRecordSubtypes implements httpcache.Storage.
func (s *Store) GetRecordSubtypes(_ context.Context, url string) ([]httpcache.Subtype, error) {
	urlHex := hexDigest(url)
	records, err := readIndex(s.indexPath(urlHex))
	if errors.Is(err, os.ErrNotExist) {
		return nil, httpcache.ErrUnknownURL
	}
	if err != nil {
		return nil, fmt.Errorf("diskstore: read index: %w", err)
	}
	out := make([]httpcache.Subtype, 0, len(records))
	for _, r := range records {
		if r.enabled {
			out = append(out, r.subtype)
		}
	}
	return out, nil
}

// PurgeRecord implements httpcache.Storage.
func (s *Store) PurgeRecord(_ context.Context, url string, subtype httpcache.Subtype) (bool, error) {
	urlHex := hexDigest(url)
	lock := s.lockFor(urlHex)
	lock.Lock()
	defer lock.Unlock()

	path := s.indexPath(urlHex)
	records, err := readIndex(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("diskstore: read index: %w", err)
	}

	target := subtype.CanonicalJSON()
	purged := false
	for _, r := range records {
		if r.enabled && r.subtypeJSON == target {
			purged = true
		}
	}
	if !purged {
		return false, nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return false, fmt.Errorf("diskstore: open index: %w", err)
	}
	defer f.Close()
	for _, r := range records {
		if r.enabled && r.subtypeJSON == target {
			if _, err := f.WriteAt([]byte("0"), r.enabledOffset); err != nil {
				return false, fmt.Errorf("diskstore: tombstone record: %w", err)
			}
		}
	}
	return true, nil
}
