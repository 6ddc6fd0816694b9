package metricsstore_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/netcache-go/httpcache"
	"github.com/netcache-go/httpcache/storagetest"
	"github.com/netcache-go/httpcache/wrapper/metricsstore"
)

type recordingCollector struct {
	mu  sync.Mutex
	ops []string
}

func (c *recordingCollector) RecordStorageOperation(operation, backend, result string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, operation+":"+result)
}
func (c *recordingCollector) RecordStorageBytes(backend string, sizeBytes int64)     {}
func (c *recordingCollector) RecordHTTPRequest(method, cacheStatus string, statusCode int, duration time.Duration) {
}
func (c *recordingCollector) RecordHTTPResponseSize(cacheStatus string, sizeBytes int64) {}

func (c *recordingCollector) count(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, op := range c.ops {
		if len(op) >= len(prefix) && op[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func TestMetricsStoreConformance(t *testing.T) {
	store := metricsstore.New(httpcache.NewMemStore(0), "mem", nil)
	storagetest.Storage(t, store)
}

func TestMetricsStoreRecordsOperations(t *testing.T) {
	collector := &recordingCollector{}
	store := metricsstore.New(httpcache.NewMemStore(0), "mem", collector)

	ctx := context.Background()
	w, err := store.NewRecord(ctx, "http://x/a", httpcache.NoSubtype, httpcache.NewHeader())
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	require.Equal(t, 1, collector.count("new_record:success"))

	_, content, err := store.GetRecord(ctx, "http://x/a", httpcache.NoSubtype)
	require.NoError(t, err)
	content.Close()
	require.Equal(t, 1, collector.count("get_record:hit"))

	_, err = store.GetRecordHeaders(ctx, "http://x/missing", httpcache.NoSubtype)
	require.Error(t, err)
	require.Equal(t, 1, collector.count("get_headers:miss"))
}
