package httpcache

import (
	"context"
	"net/http"
	"time"
)

// Pipeline sequences the fixed handler chain (§4.10) and exposes it as an
// http.RoundTripper decorator, the Go idiom for the source's pre-send and
// response session hooks (original_source's pre_send_hook/response_hook/
// SessionCache). The pipeline never dials the network itself (§1
// Non-goals): it wraps whatever http.RoundTripper the caller supplies and
// only intercepts the request/response pair around it.
type Pipeline struct {
	storage  Storage
	handlers []Handler
	skip     map[string]bool
}

// NewPipeline returns a Pipeline backed by storage, running the fixed
// handler order CacheableRequest, EtagValidator (§4.10), as modified by
// opts.
func NewPipeline(storage Storage, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		storage:  storage,
		handlers: []Handler{&CacheableRequest{}, &EtagValidator{}},
		skip:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RoundTripper wraps next with the cache pipeline. If next is nil,
// http.DefaultTransport is used.
func (p *Pipeline) RoundTripper(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &roundTripper{pipeline: p, next: next}
}

type roundTripper struct {
	pipeline *Pipeline
	next     http.RoundTripper
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return rt.pipeline.roundTrip(req, rt.next)
}

// roundTrip implements the data flow of §2 and the detailed request/
// response handling of §4.10.
func (p *Pipeline) roundTrip(req *http.Request, next http.RoundTripper) (*http.Response, error) {
	ctx := req.Context()
	url := req.URL.String()

	verdict := p.preSend(ctx, url, req)

	switch verdict.Kind {
	case VerdictRequest:
		req = verdict.Request
	case VerdictFetch:
		// A record that cannot be read back is a cache miss: fall through
		// to the network instead of surfacing the storage error.
		if resp, err := p.synthesize(ctx, verdict.URL, verdict.Subtype, req); err == nil {
			return resp, nil
		}
	case VerdictPurge:
		_, _ = p.storage.PurgeRecord(ctx, verdict.URL, verdict.Subtype)
	}

	requestTime := time.Now()

	resp, err := next.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	resp.Request = req

	p.response(ctx, resp, requestTime)

	return resp, nil
}

// preSend implements §4.10's pre-send stage: gather subtypes, run each
// non-skipped handler's HandleRequest in fixed order, and return the
// first non-NONE verdict.
func (p *Pipeline) preSend(ctx context.Context, url string, req *http.Request) Verdict {
	subtypes := p.gatherSubtypes(ctx, url)
	for _, h := range p.handlers {
		if p.skip[h.Name()] {
			continue
		}
		if v := h.HandleRequest(req, subtypes); v.Kind != VerdictNone {
			return v
		}
	}
	return NoneVerdict
}

// gatherSubtypes builds the subtype->headers map §4.8 expects as input,
// returning an empty map (not an error) for an unknown URL — the pipeline
// treats "never seen this URL" the same as "seen but nothing cached".
func (p *Pipeline) gatherSubtypes(ctx context.Context, url string) map[string]subtypeHeaders {
	out := make(map[string]subtypeHeaders)
	subtypes, err := p.storage.GetRecordSubtypes(ctx, url)
	if err != nil {
		return out
	}
	for _, s := range subtypes {
		headers, err := p.storage.GetRecordHeaders(ctx, url, s)
		if err != nil {
			continue
		}
		out[s.CanonicalJSON()] = subtypeHeaders{subtype: s, headers: headers}
	}
	return out
}

// synthesize implements §4.10's fetch verdict: build an http.Response from
// a cached record, status from _status_code (default 200), from_cache
// marked true, bypassing the transport entirely.
func (p *Pipeline) synthesize(ctx context.Context, url string, subtype Subtype, req *http.Request) (*http.Response, error) {
	headers, content, err := p.storage.GetRecord(ctx, url, subtype)
	if err != nil {
		return nil, err
	}

	record := &Record{URL: url, Subtype: subtype, Headers: headers}
	resp := &http.Response{
		Status:     http.StatusText(record.StatusCode()),
		StatusCode: record.StatusCode(),
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
		Body:       content,
		Request:    req,
	}
	for _, name := range headers.Names() {
		if name == headerRequestTime || name == headerResponseTime || name == headerStatusCode {
			continue
		}
		v, _ := headers.Get(name)
		resp.Header.Set(name, v)
	}
	return markFromCache(resp), nil
}

// xFromCache marks a synthesized response so the response stage can skip
// re-processing it (§4.10 "If from_cache is already true, do nothing").
const xFromCache = "X-From-Cache"

func markFromCache(resp *http.Response) *http.Response {
	resp.Header.Set(xFromCache, "1")
	return resp
}

func isFromCache(resp *http.Response) bool {
	return resp.Header.Get(xFromCache) != ""
}

// response implements §4.10's response stage: skip unparseable-Date or
// already-from-cache responses, else run handlers and apply the first
// non-NONE verdict.
func (p *Pipeline) response(ctx context.Context, resp *http.Response, requestTime time.Time) {
	if isFromCache(resp) {
		return
	}
	if _, ok := ParseDate(resp.Header.Get("Date")); !ok {
		return
	}

	for _, h := range p.handlers {
		if p.skip[h.Name()] {
			continue
		}
		v := h.HandleResponse(resp)
		switch v.Kind {
		case VerdictStore:
			p.store(ctx, resp, v.URL, v.Subtype, requestTime)
			return
		case VerdictFetch:
			p.fetchInto(ctx, resp, v.URL, v.Subtype)
			return
		}
	}
}

// store implements §4.10's store verdict: copy response headers, stamp
// the three synthetic fields, open a Writer, and replace resp.Body with a
// Tee mirroring the body into it as the caller reads.
func (p *Pipeline) store(ctx context.Context, resp *http.Response, url string, subtype Subtype, requestTime time.Time) {
	headers := NewHeader()
	for name, values := range resp.Header {
		if len(values) > 0 {
			headers.Set(name, values[0])
		}
	}
	responseTime := time.Now()
	stampRecordTimes(headers, requestTime, responseTime, resp.StatusCode)

	writer, err := p.storage.NewRecord(ctx, url, subtype, headers)
	if err != nil {
		return
	}
	resp.Body = NewTee(resp.Body, writer)
}

// fetchInto implements §4.9's 304 revalidation path: load the cached
// headers and content onto the live response in place, marking it
// from_cache.
func (p *Pipeline) fetchInto(ctx context.Context, resp *http.Response, url string, subtype Subtype) {
	headers, content, err := p.storage.GetRecord(ctx, url, subtype)
	if err != nil {
		return
	}
	record := &Record{Headers: headers}
	resp.StatusCode = record.StatusCode()
	resp.Status = http.StatusText(resp.StatusCode)
	resp.Header = make(http.Header)
	for _, name := range headers.Names() {
		if name == headerRequestTime || name == headerResponseTime || name == headerStatusCode {
			continue
		}
		v, _ := headers.Get(name)
		resp.Header.Set(name, v)
	}
	resp.Body = content
	markFromCache(resp)
}
