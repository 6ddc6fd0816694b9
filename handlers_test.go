package httpcache

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newGetRequest(t *testing.T, url string, headers map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, url, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func freshSubtypeEntry(subtype Subtype, now time.Time) subtypeHeaders {
	h := recordHeaders(now.Add(-time.Minute), now.Add(time.Hour), now.Add(-time.Minute), now.Add(-time.Minute))
	return subtypeHeaders{subtype: subtype, headers: h}
}

func TestCacheableRequestHandleRequestFresh(t *testing.T) {
	h := &CacheableRequest{}
	now := time.Now()
	subtypes := map[string]subtypeHeaders{
		NoSubtype.CanonicalJSON(): freshSubtypeEntry(NoSubtype, now),
	}
	req := newGetRequest(t, "http://x/a", nil)
	v := h.HandleRequest(req, subtypes)
	require.Equal(t, VerdictFetch, v.Kind)
}

func TestCacheableRequestHandleRequestStalePurges(t *testing.T) {
	h := &CacheableRequest{}
	now := time.Now()
	stale := recordHeaders(now.Add(-2*time.Hour), now.Add(-time.Hour), now.Add(-2*time.Hour), now.Add(-2*time.Hour))
	subtypes := map[string]subtypeHeaders{
		NoSubtype.CanonicalJSON(): {subtype: NoSubtype, headers: stale},
	}
	req := newGetRequest(t, "http://x/a", nil)
	v := h.HandleRequest(req, subtypes)
	require.Equal(t, VerdictPurge, v.Kind)
}

// TestCacheableRequestNoCacheForcesMiss is P8.
func TestCacheableRequestNoCacheForcesMiss(t *testing.T) {
	h := &CacheableRequest{}
	now := time.Now()
	entry := freshSubtypeEntry(NoSubtype, now)
	entry.headers.Set("Cache-Control", "no-cache")
	subtypes := map[string]subtypeHeaders{NoSubtype.CanonicalJSON(): entry}

	req := newGetRequest(t, "http://x/a", nil)
	v := h.HandleRequest(req, subtypes)
	require.Equal(t, VerdictNone, v.Kind)
}

func TestCacheableRequestVaryMatching(t *testing.T) {
	h := &CacheableRequest{}
	now := time.Now()
	en := NewSubtype(map[string]string{"accept": "en"})
	fr := NewSubtype(map[string]string{"accept": "fr"})
	subtypes := map[string]subtypeHeaders{
		en.CanonicalJSON(): freshSubtypeEntry(en, now),
		fr.CanonicalJSON(): freshSubtypeEntry(fr, now),
	}

	req := newGetRequest(t, "http://x/b", map[string]string{"Accept": "fr"})
	v := h.HandleRequest(req, subtypes)
	require.Equal(t, VerdictFetch, v.Kind)
	require.True(t, v.Subtype.Equal(fr))
}

func TestCacheableRequestVaryFallsThroughToNone(t *testing.T) {
	h := &CacheableRequest{}
	now := time.Now()
	en := NewSubtype(map[string]string{"accept": "en"})
	subtypes := map[string]subtypeHeaders{
		en.CanonicalJSON(): freshSubtypeEntry(en, now),
	}

	req := newGetRequest(t, "http://x/b", map[string]string{"Accept": "de"})
	v := h.HandleRequest(req, subtypes)
	require.Equal(t, VerdictNone, v.Kind)
}

func newResponse(t *testing.T, req *http.Request, status int, headers map[string]string) *http.Response {
	h := make(http.Header)
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{StatusCode: status, Header: h, Request: req}
}

func TestCacheableRequestHandleResponseStores(t *testing.T) {
	h := &CacheableRequest{}
	req := newGetRequest(t, "http://x/a", nil)
	resp := newResponse(t, req, 200, map[string]string{
		"Cache-Control": "max-age=60",
		"Date":          FormatDate(time.Now()),
	})
	v := h.HandleResponse(resp)
	require.Equal(t, VerdictStore, v.Kind)
	require.True(t, v.Subtype.IsNone())
}

// TestCacheableRequestVaryStarDisablesStorage is scenario 5.
func TestCacheableRequestVaryStarDisablesStorage(t *testing.T) {
	h := &CacheableRequest{}
	req := newGetRequest(t, "http://x/a", nil)
	resp := newResponse(t, req, 200, map[string]string{
		"Expires": FormatDate(time.Now().Add(time.Hour)),
		"Vary":    "*",
	})
	v := h.HandleResponse(resp)
	require.Equal(t, VerdictNone, v.Kind)
}

func TestCacheableRequestHandleResponseVarySubtype(t *testing.T) {
	h := &CacheableRequest{}
	req := newGetRequest(t, "http://x/b", map[string]string{"Accept": "fr"})
	resp := newResponse(t, req, 200, map[string]string{
		"Expires": FormatDate(time.Now().Add(time.Hour)),
		"Vary":    "Accept",
		"Accept":  "fr",
	})
	v := h.HandleResponse(resp)
	require.Equal(t, VerdictStore, v.Kind)
	require.Equal(t, "fr", v.Subtype.Values()["accept"])
}

func TestCacheableRequestHandleResponseExpiredRejected(t *testing.T) {
	h := &CacheableRequest{}
	req := newGetRequest(t, "http://x/a", nil)
	resp := newResponse(t, req, 200, map[string]string{
		"Expires": FormatDate(time.Now().Add(-time.Hour)),
	})
	v := h.HandleResponse(resp)
	require.Equal(t, VerdictNone, v.Kind)
}

func TestCacheableRequestHandleResponseRejectsPostAndServerError(t *testing.T) {
	h := &CacheableRequest{}
	postReq := httptest.NewRequest(http.MethodPost, "http://x/a", nil)
	resp := newResponse(t, postReq, 200, map[string]string{"Cache-Control": "max-age=60"})
	require.Equal(t, VerdictNone, h.HandleResponse(resp).Kind)

	getReq := newGetRequest(t, "http://x/a", nil)
	errResp := newResponse(t, getReq, 503, map[string]string{"Cache-Control": "max-age=60"})
	require.Equal(t, VerdictNone, h.HandleResponse(errResp).Kind)
}

func TestEtagValidatorHandleRequestAttachesIfNoneMatch(t *testing.T) {
	h := &EtagValidator{}
	headers := NewHeader()
	headers.Set("ETag", `"v1"`)
	subtypes := map[string]subtypeHeaders{
		NoSubtype.CanonicalJSON(): {subtype: NoSubtype, headers: headers},
	}
	req := newGetRequest(t, "http://x/a", nil)
	v := h.HandleRequest(req, subtypes)
	require.Equal(t, VerdictRequest, v.Kind)
	require.Equal(t, `"v1"`, v.Request.Header.Get("If-None-Match"))
}

func TestEtagValidatorHandleRequestNoneWithoutEtag(t *testing.T) {
	h := &EtagValidator{}
	req := newGetRequest(t, "http://x/a", nil)
	v := h.HandleRequest(req, map[string]subtypeHeaders{})
	require.Equal(t, VerdictNone, v.Kind)
}

func TestEtagValidatorHandleResponse304Fetches(t *testing.T) {
	h := &EtagValidator{}
	req := newGetRequest(t, "http://x/a", nil)
	resp := newResponse(t, req, http.StatusNotModified, nil)
	v := h.HandleResponse(resp)
	require.Equal(t, VerdictFetch, v.Kind)
	require.True(t, v.Subtype.IsNone())
}

func TestEtagValidatorHandleResponseStoresOnEtag(t *testing.T) {
	h := &EtagValidator{}
	req := newGetRequest(t, "http://x/a", nil)
	resp := newResponse(t, req, 200, map[string]string{"ETag": `"v2"`})
	v := h.HandleResponse(resp)
	require.Equal(t, VerdictStore, v.Kind)
}
