package resilientstore_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/netcache-go/httpcache"
	"github.com/netcache-go/httpcache/storagetest"
	"github.com/netcache-go/httpcache/wrapper/resilientstore"
)

// flakyStore fails the first N calls to GetRecordHeaders, then delegates.
type flakyStore struct {
	httpcache.Storage
	failures int32
	calls    int32
}

func (f *flakyStore) GetRecordHeaders(ctx context.Context, url string, subtype httpcache.Subtype) (*httpcache.Header, error) {
	if atomic.AddInt32(&f.calls, 1) <= f.failures {
		return nil, errors.New("transient backend failure")
	}
	return f.Storage.GetRecordHeaders(ctx, url, subtype)
}

func TestResilientStoreConformance(t *testing.T) {
	config := resilientstore.DefaultConfig(httpcache.NewMemStore(0))
	store := resilientstore.New(config)
	storagetest.Storage(t, store)
}

func TestResilientStoreRetriesTransientFailure(t *testing.T) {
	inner := &flakyStore{Storage: httpcache.NewMemStore(0), failures: 2}

	ctx := context.Background()
	w, err := inner.Storage.NewRecord(ctx, "http://x/a", httpcache.NoSubtype, httpcache.NewHeader())
	require.NoError(t, err)
	_, err = w.Write([]byte("body"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	config := resilientstore.Config{
		Storage:         inner,
		EnableRetry:     true,
		RetryMaxRetries: 3,
		RetryBackoffMin: time.Millisecond,
		RetryBackoffMax: 5 * time.Millisecond,
	}
	store := resilientstore.New(config)

	headers, err := store.GetRecordHeaders(ctx, "http://x/a", httpcache.NoSubtype)
	require.NoError(t, err)
	require.NotNil(t, headers)
	require.Equal(t, int32(3), atomic.LoadInt32(&inner.calls))
}

func TestResilientStoreNoPoliciesPassesThrough(t *testing.T) {
	inner := httpcache.NewMemStore(0)
	store := resilientstore.New(resilientstore.Config{Storage: inner})

	ctx := context.Background()
	_, err := store.GetRecordHeaders(ctx, "http://x/missing", httpcache.NoSubtype)
	require.ErrorIs(t, err, httpcache.ErrRecordNotFound)
}
