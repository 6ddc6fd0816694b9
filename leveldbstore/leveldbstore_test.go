package leveldbstore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netcache-go/httpcache/leveldbstore"
	"github.com/netcache-go/httpcache/storagetest"
)

func TestLevelDBStoreConformance(t *testing.T) {
	store, err := leveldbstore.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	storagetest.Storage(t, store)
}
