package httpcache

import "io"

// BodyStream is the minimal capability a cacheable response body must
// provide (§9 "Tee transparency"). It exists because the pipeline wraps
// an arbitrary transport body in a Tee and hands the Tee back out in its
// place; unlike the source's attribute-forwarding Tee, a statically typed
// target has to name the exact surface a Tee delegates, rather than
// forwarding everything implicitly.
type BodyStream interface {
	io.Reader
	io.Closer
}

// Tee wraps a response body and a storage Writer (§4.6): every Read
// forwards the bytes it returns to the Writer, and on EOF the Writer is
// closed exactly once, committing the record. If Close is called before
// EOF is reached — the caller abandoned the body early — the Writer is
// never closed and the partial record never becomes visible, satisfying
// §4.6's "storage MUST discard the partial record" requirement for
// abandoned reads.
type Tee struct {
	body   BodyStream
	writer Writer
	eof    bool
}

// NewTee returns a Tee mirroring reads from body into writer.
func NewTee(body BodyStream, writer Writer) *Tee {
	return &Tee{body: body, writer: writer}
}

// Read implements io.Reader, forwarding every nonempty chunk to the
// backing Writer and closing it exactly once when the wrapped body
// reaches EOF.
func (t *Tee) Read(p []byte) (int, error) {
	n, err := t.body.Read(p)
	if n > 0 {
		if _, werr := t.writer.Write(p[:n]); werr != nil {
			// A storage write failure must not break delivery of the live
			// response to the caller (§7): the record is simply abandoned.
			GetLogger().Warn("httpcache: abandoning record after storage write failure", "error", werr)
			t.eof = true
		}
	}
	if err == io.EOF && !t.eof {
		t.eof = true
		t.writer.Close()
	}
	return n, err
}

// Close closes the wrapped body. It does not close the Writer: reaching
// Close without having first observed EOF means the caller abandoned the
// stream, and the partial record must not become visible (§4.6).
func (t *Tee) Close() error {
	return t.body.Close()
}
