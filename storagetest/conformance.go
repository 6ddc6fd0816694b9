// Package storagetest exercises an httpcache.Storage implementation
// against the invariants of §8, the same way the teacher's test package
// exercised every httpcache.Cache implementation against one shared
// Cache(t, cache) helper.
package storagetest

import (
	"context"
	"io"
	"testing"

	"github.com/netcache-go/httpcache"
	"github.com/stretchr/testify/require"
)

// Storage runs the full conformance suite against a fresh backend. store
// must have no prior state for the URLs this suite uses; callers typically
// build it on a per-test temp directory or container.
func Storage(t *testing.T, store httpcache.Storage) {
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, store) })
	t.Run("SubtypeUniqueness", func(t *testing.T) { testSubtypeUniqueness(t, store) })
	t.Run("PurgeIdempotence", func(t *testing.T) { testPurgeIdempotence(t, store) })
	t.Run("UnknownURL", func(t *testing.T) { testUnknownURL(t, store) })
	t.Run("MultipleSubtypes", func(t *testing.T) { testMultipleSubtypes(t, store) })
	t.Run("AbandonedWriterNotVisible", func(t *testing.T) { testAbandonedWriterNotVisible(t, store) })
}

func newHeaders(pairs ...string) *httpcache.Header {
	h := httpcache.NewHeader()
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Set(pairs[i], pairs[i+1])
	}
	return h
}

// testRoundTrip is P1: storing a record then reading it back returns
// byte-identical content and equal headers.
func testRoundTrip(t *testing.T, store httpcache.Storage) {
	ctx := context.Background()
	url := "http://round-trip.example/a"
	headers := newHeaders("Content-Type", "text/plain", "ETag", `"v1"`)

	w, err := store.NewRecord(ctx, url, httpcache.NoSubtype, headers)
	require.NoError(t, err)
	_, err = io.WriteString(w, "hello")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	gotHeaders, rc, err := store.GetRecord(ctx, url, httpcache.NoSubtype)
	require.NoError(t, err)
	defer rc.Close()

	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "hello", string(body))

	etag, ok := gotHeaders.Get("etag")
	require.True(t, ok)
	require.Equal(t, `"v1"`, etag)
}

// testSubtypeUniqueness is P2: after a second NewRecord/Close for the same
// (url, subtype), GetRecordSubtypes contains it exactly once and the new
// content wins.
func testSubtypeUniqueness(t *testing.T, store httpcache.Storage) {
	ctx := context.Background()
	url := "http://subtype-uniqueness.example/a"

	for _, body := range []string{"v1", "v2"} {
		w, err := store.NewRecord(ctx, url, httpcache.NoSubtype, newHeaders())
		require.NoError(t, err)
		_, err = io.WriteString(w, body)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}

	subtypes, err := store.GetRecordSubtypes(ctx, url)
	require.NoError(t, err)
	count := 0
	for _, s := range subtypes {
		if s.Equal(httpcache.NoSubtype) {
			count++
		}
	}
	require.Equal(t, 1, count)

	_, rc, err := store.GetRecord(ctx, url, httpcache.NoSubtype)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "v2", string(body))
}

// testPurgeIdempotence is P3.
func testPurgeIdempotence(t *testing.T, store httpcache.Storage) {
	ctx := context.Background()
	url := "http://purge-idempotence.example/a"

	w, err := store.NewRecord(ctx, url, httpcache.NoSubtype, newHeaders())
	require.NoError(t, err)
	_, err = io.WriteString(w, "body")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	first, err := store.PurgeRecord(ctx, url, httpcache.NoSubtype)
	require.NoError(t, err)
	require.True(t, first)

	second, err := store.PurgeRecord(ctx, url, httpcache.NoSubtype)
	require.NoError(t, err)
	require.False(t, second)

	_, _, err = store.GetRecord(ctx, url, httpcache.NoSubtype)
	require.ErrorIs(t, err, httpcache.ErrRecordNotFound)
}

// testUnknownURL verifies GetRecordSubtypes distinguishes an unknown URL
// from a known one with zero enabled records.
func testUnknownURL(t *testing.T, store httpcache.Storage) {
	ctx := context.Background()
	_, err := store.GetRecordSubtypes(ctx, "http://never-seen.example/a")
	require.ErrorIs(t, err, httpcache.ErrUnknownURL)
}

// testMultipleSubtypes is scenario 4: two Vary-distinguished records for
// one URL coexist and are retrieved independently.
func testMultipleSubtypes(t *testing.T, store httpcache.Storage) {
	ctx := context.Background()
	url := "http://multi-subtype.example/b"

	en := httpcache.NewSubtype(map[string]string{"accept": "en"})
	fr := httpcache.NewSubtype(map[string]string{"accept": "fr"})

	entries := []struct {
		subtype httpcache.Subtype
		body    string
	}{
		{en, "english"},
		{fr, "french"},
	}
	for _, entry := range entries {
		w, err := store.NewRecord(ctx, url, entry.subtype, newHeaders())
		require.NoError(t, err)
		_, err = io.WriteString(w, entry.body)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}

	subtypes, err := store.GetRecordSubtypes(ctx, url)
	require.NoError(t, err)
	require.Len(t, subtypes, 2)

	_, rc, err := store.GetRecord(ctx, url, fr)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "french", string(body))
}

// testAbandonedWriterNotVisible is §4.6/§7: a writer that is never closed
// must leave no visible record.
func testAbandonedWriterNotVisible(t *testing.T, store httpcache.Storage) {
	ctx := context.Background()
	url := "http://abandoned.example/a"

	w, err := store.NewRecord(ctx, url, httpcache.NoSubtype, newHeaders())
	require.NoError(t, err)
	_, err = io.WriteString(w, "partial")
	require.NoError(t, err)
	// Deliberately do not call w.Close().

	_, _, err = store.GetRecord(ctx, url, httpcache.NoSubtype)
	require.Error(t, err)
}
