package securestore_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/netcache-go/httpcache"
	"github.com/netcache-go/httpcache/storagetest"
	"github.com/netcache-go/httpcache/wrapper/securestore"
)

func contextBackground() context.Context { return context.Background() }

func TestSecureStoreConformanceNoPassphrase(t *testing.T) {
	store, err := securestore.New(securestore.Config{Storage: httpcache.NewMemStore(0)})
	require.NoError(t, err)
	require.False(t, store.IsEncrypted())
	storagetest.Storage(t, store)
}

func TestSecureStoreConformanceEncrypted(t *testing.T) {
	store, err := securestore.New(securestore.Config{Storage: httpcache.NewMemStore(0), Passphrase: "correct horse battery staple"})
	require.NoError(t, err)
	require.True(t, store.IsEncrypted())
	storagetest.Storage(t, store)
}

func TestSecureStoreNilStorage(t *testing.T) {
	_, err := securestore.New(securestore.Config{})
	require.Error(t, err)
}

func TestSecureStoreEncryptsAtRest(t *testing.T) {
	inner := httpcache.NewMemStore(0)
	store, err := securestore.New(securestore.Config{Storage: inner, Passphrase: "s3cr3t"})
	require.NoError(t, err)

	headers := httpcache.NewHeader()
	w, err := store.NewRecord(contextBackground(), "http://x/a", httpcache.NoSubtype, headers)
	require.NoError(t, err)
	_, err = w.Write([]byte("plaintext body"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	subtypes, err := inner.GetRecordSubtypes(contextBackground(), "http://x/a")
	require.Error(t, err) // the inner store never sees the plaintext URL
	require.Empty(t, subtypes)

	// The record lives under the hashed URL, and its content is ciphertext.
	sum := sha256.Sum256([]byte("http://x/a"))
	_, raw, err := inner.GetRecord(contextBackground(), hex.EncodeToString(sum[:]), httpcache.NoSubtype)
	require.NoError(t, err)
	stored, err := io.ReadAll(raw)
	raw.Close()
	require.NoError(t, err)
	require.NotContains(t, string(stored), "plaintext body")

	_, content, err := store.GetRecord(contextBackground(), "http://x/a", httpcache.NoSubtype)
	require.NoError(t, err)
	defer content.Close()
}
