package httpcache

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func storeRecord(t *testing.T, store Storage, url string, subtype Subtype, headers *Header, body string) {
	t.Helper()
	w, err := store.NewRecord(context.Background(), url, subtype, headers)
	require.NoError(t, err)
	_, err = io.WriteString(w, body)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

// TestPipelineFetchFromCache is scenario 1.
func TestPipelineFetchFromCache(t *testing.T) {
	// The pipeline reads the wall clock, so scenario 1's timeline (stored
	// 11 minutes ago, expiring 49 minutes from now) is placed around now.
	store := NewMemStore(0)
	stored := time.Now().Add(-11 * time.Minute).Truncate(time.Second)
	h := NewHeader()
	h.Set("Date", FormatDate(stored))
	h.Set("Expires", FormatDate(stored.Add(time.Hour)))
	stampRecordTimes(h, stored, stored, 200)
	storeRecord(t, store, "http://x/a", NoSubtype, h, "hello")

	called := false
	transport := roundTripFunc(func(*http.Request) (*http.Response, error) {
		called = true
		return nil, nil
	})

	p := NewPipeline(store)
	client := &http.Client{Transport: p.RoundTripper(transport)}

	req := httptest.NewRequest(http.MethodGet, "http://x/a", nil)
	req = req.WithContext(context.Background())
	resp, err := client.Transport.RoundTrip(req)
	require.NoError(t, err)
	require.False(t, called)
	require.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "hello", string(body))
}

func mustParseDate(t *testing.T, s string) time.Time {
	t.Helper()
	tm, ok := ParseDate(s)
	require.True(t, ok)
	return tm
}

// TestPipelineStaleTriggersTransport is scenario 2.
func TestPipelineStaleTriggersTransport(t *testing.T) {
	store := NewMemStore(0)
	h := NewHeader()
	h.Set("Date", "Sun, 06 Nov 1994 08:49:37 GMT")
	h.Set("Expires", "Sun, 06 Nov 1994 09:49:37 GMT")
	stampTime := mustParseDate(t, "Sun, 06 Nov 1994 08:49:37 GMT")
	stampRecordTimes(h, stampTime, stampTime, 200)
	storeRecord(t, store, "http://x/a", NoSubtype, h, "hello")

	called := false
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		called = true
		resp := httptest.NewRecorder()
		resp.Code = 200
		return resp.Result(), nil
	})

	p := NewPipeline(store)
	rt := p.RoundTripper(transport)

	req := httptest.NewRequest(http.MethodGet, "http://x/a", nil)
	_, err := rt.RoundTrip(req)
	require.NoError(t, err)
	require.True(t, called)

	_, err = store.GetRecordSubtypes(context.Background(), "http://x/a")
	require.NoError(t, err)
}

// TestPipelineEtagRevalidation is scenario 3.
func TestPipelineEtagRevalidation(t *testing.T) {
	store := NewMemStore(0)
	h := NewHeader()
	h.Set("ETag", `"v1"`)
	h.Set("Date", FormatDate(time.Now()))
	stampRecordTimes(h, time.Now(), time.Now(), 200)
	storeRecord(t, store, "http://x/a", NoSubtype, h, "cached-body")

	var gotIfNoneMatch string
	transport := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		gotIfNoneMatch = req.Header.Get("If-None-Match")
		header := make(http.Header)
		header.Set("Date", FormatDate(time.Now()))
		return &http.Response{
			StatusCode: http.StatusNotModified,
			Header:     header,
			Body:       io.NopCloser(bytes.NewReader(nil)),
			Request:    req,
		}, nil
	})

	p := NewPipeline(store)
	rt := p.RoundTripper(transport)

	req := httptest.NewRequest(http.MethodGet, "http://x/a", nil)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	require.Equal(t, `"v1"`, gotIfNoneMatch)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "cached-body", string(body))
	require.True(t, isFromCache(resp))
}

// TestPipelineShortCircuit is P9: CacheableRequest's verdict wins over
// EtagValidator's when both would otherwise fire.
func TestPipelineShortCircuit(t *testing.T) {
	store := NewMemStore(0)
	h := NewHeader()
	h.Set("Date", FormatDate(time.Now().Add(-time.Minute)))
	h.Set("Expires", FormatDate(time.Now().Add(time.Hour)))
	h.Set("ETag", `"v1"`)
	stampRecordTimes(h, time.Now().Add(-time.Minute), time.Now().Add(-time.Minute), 200)
	storeRecord(t, store, "http://x/a", NoSubtype, h, "hello")

	called := false
	transport := roundTripFunc(func(*http.Request) (*http.Response, error) {
		called = true
		return nil, nil
	})

	p := NewPipeline(store)
	rt := p.RoundTripper(transport)

	req := httptest.NewRequest(http.MethodGet, "http://x/a", nil)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	require.False(t, called)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "hello", string(body))
}
