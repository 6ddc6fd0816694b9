package httpcache

import (
	"context"
	"io"
)

// Storage is the abstract contract of §4.3. Implementations live in
// sibling packages (one per backing medium) and in MemStore below. Every
// method takes a context so backends that talk to an external system
// (redis, postgres, ...) can honor cancellation and timeouts; the
// in-memory and filesystem stores accept it but never block long enough
// for it to matter.
//
// Callers treat any error returned here as a cache miss (§4.3, §7): the
// cache never surfaces a storage failure to the end user.
type Storage interface {
	// NewRecord creates an OPEN record for (url, subtype) and returns a
	// Writer. The record is not visible to readers until the Writer's
	// Close is called; if Close is never called the record MUST NOT
	// become visible. A successful Close supersedes any prior enabled
	// record with the same (url, subtype).
	NewRecord(ctx context.Context, url string, subtype Subtype, headers *Header) (Writer, error)

	// GetRecord returns the headers and a content reader for the first
	// enabled record matching (url, subtype). The returned reader must be
	// closed by the caller. Returns ErrRecordNotFound if no enabled
	// record matches.
	GetRecord(ctx context.Context, url string, subtype Subtype) (*Header, io.ReadCloser, error)

	// GetRecordHeaders is a split accessor (§4.3) letting callers read
	// headers without paying for content access.
	GetRecordHeaders(ctx context.Context, url string, subtype Subtype) (*Header, error)

	// GetRecordContent is the content-only half of the split accessor.
	GetRecordContent(ctx context.Context, url string, subtype Subtype) (io.ReadCloser, error)

	// GetRecordSubtypes returns every enabled subtype for url. It returns
	// ErrUnknownURL if the URL has never been seen by the store; a known
	// URL with zero enabled records returns a non-nil empty slice.
	GetRecordSubtypes(ctx context.Context, url string) ([]Subtype, error)

	// PurgeRecord tombstones (url, subtype) and reports whether a record
	// was previously enabled there. Idempotent: purging an already-purged
	// or never-existing record returns (false, nil).
	PurgeRecord(ctx context.Context, url string, subtype Subtype) (bool, error)
}

// Writer accumulates the bytes of an open record (§4.3, §9 "Writer
// capture"). Write calls are cumulative and order-preserving; Close
// commits the record, making it visible and superseding any prior enabled
// record with the same (url, subtype). Abandoning a Writer without
// calling Close MUST leave no trace in the store (§4.6, §7).
type Writer interface {
	Write(p []byte) (int, error)
	Close() error
}
