package httpcache

import (
	"net/http"
	"strings"
	"time"
)

// VerdictKind discriminates the closed Verdict sum type (§9 "Dynamic
// dispatch over handlers").
type VerdictKind int

const (
	// VerdictNone means the handler has nothing to say; the pipeline
	// moves on to the next handler.
	VerdictNone VerdictKind = iota
	// VerdictRequest replaces the outgoing request.
	VerdictRequest
	// VerdictFetch synthesizes a response from a cached (url, subtype).
	VerdictFetch
	// VerdictPurge removes a stale (url, subtype) and lets the request
	// proceed normally.
	VerdictPurge
	// VerdictStore attaches a Tee that mirrors the response body into a
	// new record for (url, subtype).
	VerdictStore
)

// Verdict is the result of a single handler's handle_request or
// handle_response call. Exactly one of Request or (URL, Subtype) is
// meaningful, selected by Kind; a zero Verdict is VerdictNone.
type Verdict struct {
	Kind    VerdictKind
	Request *http.Request
	URL     string
	Subtype Subtype
}

// NoneVerdict is the zero Verdict, returned by a handler with nothing to
// contribute.
var NoneVerdict = Verdict{Kind: VerdictNone}

func fetchVerdict(url string, subtype Subtype) Verdict {
	return Verdict{Kind: VerdictFetch, URL: url, Subtype: subtype}
}

func purgeVerdict(url string, subtype Subtype) Verdict {
	return Verdict{Kind: VerdictPurge, URL: url, Subtype: subtype}
}

func storeVerdict(url string, subtype Subtype) Verdict {
	return Verdict{Kind: VerdictStore, URL: url, Subtype: subtype}
}

func requestVerdict(req *http.Request) Verdict {
	return Verdict{Kind: VerdictRequest, Request: req}
}

// Handler is the two-method capability every pipeline stage implements
// (§9): classify an outgoing request against known subtypes, and classify
// an incoming response.
type Handler interface {
	Name() string
	HandleRequest(req *http.Request, subtypes map[string]subtypeHeaders) Verdict
	HandleResponse(resp *http.Response) Verdict
}

// subtypeHeaders pairs a subtype with the headers of its currently
// enabled record, keyed by the subtype's CanonicalJSON so it can live in
// a plain map (§4.8 "subtypes is a map subtype -> headers").
type subtypeHeaders struct {
	subtype Subtype
	headers *Header
}

// CacheableRequest implements §4.8: the freshness-driven handler that
// decides whether a request can be answered from cache, must purge a
// stale entry, or (on the response side) whether a response should be
// stored. Grounded 1:1 on original_source's CacheableRequest class.
type CacheableRequest struct {
	// VarySubtypeFromRequest controls which headers populate a stored
	// record's subtype when building it from a response's Vary header
	// (§9 open question #1). false (the default) reproduces the source's
	// literal behaviour of reading values from the *response* headers;
	// true reads them from the *request* that produced the response, the
	// RFC 2616 §14.44-compliant behaviour.
	VarySubtypeFromRequest bool
}

func (h *CacheableRequest) Name() string { return "CacheableRequest" }

// HandleRequest implements §4.8's handle_request.
func (h *CacheableRequest) HandleRequest(req *http.Request, subtypes map[string]subtypeHeaders) Verdict {
	url := req.URL.String()

	fallback, hasFallback := subtypes[NoSubtype.CanonicalJSON()]

	var matched *subtypeHeaders
	for key, entry := range subtypes {
		if key == NoSubtype.CanonicalJSON() {
			continue
		}
		if subtypeMatchesRequest(entry.subtype, req) {
			e := entry
			matched = &e
			break
		}
	}
	if matched == nil {
		if !hasFallback {
			return NoneVerdict
		}
		matched = &fallback
	}

	cacheControl, hasCC := matched.headers.Get("Cache-Control")
	if hasCC && cacheControlHasNoCache(cacheControl) {
		return NoneVerdict
	}

	lifetime, hasLifetime := freshnessLifetimeForRequest(matched.headers)
	if !hasLifetime {
		return NoneVerdict
	}

	age, ok := computeAge(matched.headers, time.Now())
	if !ok {
		return NoneVerdict
	}
	if lifetime > age.CurrentAge {
		return fetchVerdict(url, matched.subtype)
	}
	return purgeVerdict(url, matched.subtype)
}

// freshnessLifetimeForRequest mirrors freshnessLifetime but works off the
// headers alone (handle_request doesn't have a pre-parsed Date handy
// before computing age, so §4.8 consults Cache-Control/Expires the same
// way §4.7 does once Date is known).
func freshnessLifetimeForRequest(headers *Header) (int, bool) {
	dateStr, ok := headers.Get("Date")
	if !ok {
		return 0, false
	}
	date, ok := ParseDate(dateStr)
	if !ok {
		return 0, false
	}
	return freshnessLifetime(headers, date)
}

// subtypeMatchesRequest implements §4.8's matching rule: a non-NONE
// subtype matches iff every (k, v) pair it carries equals the
// corresponding request header.
func subtypeMatchesRequest(s Subtype, req *http.Request) bool {
	for k, v := range s.Values() {
		if req.Header.Get(k) != v {
			return false
		}
	}
	return true
}

// HandleResponse implements §4.8's handle_response.
func (h *CacheableRequest) HandleResponse(resp *http.Response) Verdict {
	req := resp.Request
	if req == nil {
		return NoneVerdict
	}
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return NoneVerdict
	}
	if resp.StatusCode >= 500 {
		return NoneVerdict
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "" && cacheControlHasNoCache(cc) {
		return NoneVerdict
	}
	_, hasMaxAge := cacheControlMaxAge(resp.Header.Get("Cache-Control"))
	_, hasExpires := resp.Header[http.CanonicalHeaderKey("Expires")]
	if !hasMaxAge && !hasExpires {
		return NoneVerdict
	}

	subtype, ok := h.buildSubtype(resp, req)
	if !ok {
		return NoneVerdict
	}

	if expiresStr := resp.Header.Get("Expires"); expiresStr != "" {
		if expires, ok := ParseDate(expiresStr); ok && expires.Before(time.Now()) {
			return NoneVerdict
		}
	}

	return storeVerdict(req.URL.String(), subtype)
}

// buildSubtype implements §4.8's Vary handling, including the source's
// literal (possibly non-compliant) behaviour of reading Vary-named values
// from the response rather than the request, per the VarySubtypeFromRequest
// option.
func (h *CacheableRequest) buildSubtype(resp *http.Response, req *http.Request) (Subtype, bool) {
	vary := resp.Header.Get("Vary")
	if vary == "" {
		return NoSubtype, true
	}
	if strings.TrimSpace(vary) == "*" {
		return Subtype{}, false
	}

	values := make(map[string]string)
	for _, name := range strings.Split(vary, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		var v string
		if h.VarySubtypeFromRequest {
			v = req.Header.Get(name)
		} else {
			v = resp.Header.Get(name)
		}
		if v == "" {
			return Subtype{}, false
		}
		values[name] = v
	}
	return NewSubtype(values), true
}

// EtagValidator implements §4.9: ETag-based revalidation. Grounded 1:1 on
// original_source's EtagValidator class. It needs no state of its own: the
// NONE-subtype record it looks for on the request side is already present
// in the subtypes map the pipeline gathers for every handler.
type EtagValidator struct{}

func (h *EtagValidator) Name() string { return "EtagValidator" }

// HandleRequest implements §4.9's handle_request.
func (h *EtagValidator) HandleRequest(req *http.Request, subtypes map[string]subtypeHeaders) Verdict {
	entry, ok := subtypes[NoSubtype.CanonicalJSON()]
	if !ok {
		return NoneVerdict
	}
	etag, ok := entry.headers.Get("ETag")
	if !ok {
		return NoneVerdict
	}
	cloned := req.Clone(req.Context())
	cloned.Header.Set("If-None-Match", etag)
	return requestVerdict(cloned)
}

// HandleResponse implements §4.9's handle_response.
func (h *EtagValidator) HandleResponse(resp *http.Response) Verdict {
	if resp.Request == nil {
		return NoneVerdict
	}
	if resp.StatusCode == http.StatusNotModified {
		return fetchVerdict(resp.Request.URL.String(), NoSubtype)
	}
	if resp.StatusCode < 300 {
		if _, ok := resp.Header[http.CanonicalHeaderKey("ETag")]; ok {
			return storeVerdict(resp.Request.URL.String(), NoSubtype)
		}
	}
	return NoneVerdict
}
