package diskvstore_test

import (
	"testing"

	"github.com/netcache-go/httpcache/diskvstore"
	"github.com/netcache-go/httpcache/storagetest"
)

func TestDiskvStoreConformance(t *testing.T) {
	store := diskvstore.New(t.TempDir())
	storagetest.Storage(t, store)
}
