package compressstore_test

import (
	"context"
	"testing"

	"github.com/netcache-go/httpcache"
	"github.com/netcache-go/httpcache/storagetest"
	"github.com/netcache-go/httpcache/wrapper/compressstore"

	"github.com/stretchr/testify/require"
)

func TestCompressStoreConformanceGzip(t *testing.T) {
	store, err := compressstore.New(compressstore.Config{Storage: httpcache.NewMemStore(0), Algorithm: compressstore.Gzip})
	require.NoError(t, err)
	storagetest.Storage(t, store)
}

func TestCompressStoreConformanceBrotli(t *testing.T) {
	store, err := compressstore.New(compressstore.Config{Storage: httpcache.NewMemStore(0), Algorithm: compressstore.Brotli})
	require.NoError(t, err)
	storagetest.Storage(t, store)
}

func TestCompressStoreConformanceSnappy(t *testing.T) {
	store, err := compressstore.New(compressstore.Config{Storage: httpcache.NewMemStore(0), Algorithm: compressstore.Snappy})
	require.NoError(t, err)
	storagetest.Storage(t, store)
}

func TestCompressStoreStatsAccumulate(t *testing.T) {
	inner := httpcache.NewMemStore(0)
	store, err := compressstore.New(compressstore.Config{Storage: inner, Algorithm: compressstore.Gzip})
	require.NoError(t, err)

	w, err := store.NewRecord(context.Background(), "http://x/a", httpcache.NoSubtype, httpcache.NewHeader())
	require.NoError(t, err)
	body := make([]byte, 4096)
	for i := range body {
		body[i] = byte(i % 7)
	}
	_, err = w.Write(body)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	stats := store.Stats()
	require.Equal(t, int64(1), stats.CompressedCount+stats.UncompressedCount)

	_, content, err := store.GetRecord(context.Background(), "http://x/a", httpcache.NoSubtype)
	require.NoError(t, err)
	defer content.Close()
}
