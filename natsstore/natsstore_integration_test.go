//go:build integration

package natsstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/nats"

	natsstore "github.com/netcache-go/httpcache/natsstore"
	"github.com/netcache-go/httpcache/storagetest"
)

func TestNatsStoreConformance(t *testing.T) {
	ctx := context.Background()
	container, err := nats.Run(ctx, "nats:2.10")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	store, err := natsstore.New(ctx, natsstore.Config{NATSUrl: uri, Bucket: "httpcache_test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	storagetest.Storage(t, store)
}
