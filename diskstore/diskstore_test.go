package diskstore_test

import (
	"testing"

	"github.com/netcache-go/httpcache/diskstore"
	"github.com/netcache-go/httpcache/storagetest"
)

func TestDiskStoreConformance(t *testing.T) {
	storagetest.Storage(t, diskstore.New(t.TempDir()))
}
