//go:build integration

package mongostore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/netcache-go/httpcache/mongostore"
	"github.com/netcache-go/httpcache/storagetest"
)

func TestMongoStoreConformance(t *testing.T) {
	ctx := context.Background()
	container, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	store, err := mongostore.New(ctx, mongostore.Config{URI: uri, Database: "httpcache_test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(ctx) })

	storagetest.Storage(t, store)
}
