// Package securestore wraps an httpcache.Storage to add SHA-256 hashing of
// every URL passed to the backend (always enabled) and optional AES-256-GCM
// encryption of record content (when a passphrase is configured).
package securestore

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"

	"github.com/netcache-go/httpcache"
)

const (
	scryptN   = 32768
	scryptR   = 8
	scryptP   = 1
	keyLength = 32
)

// Config holds the configuration for creating a Store.
type Config struct {
	// Storage is the underlying backend to wrap. Required.
	Storage httpcache.Storage

	// Passphrase is the secret used to encrypt/decrypt record content. If
	// empty, only URL hashing is performed (no encryption).
	Passphrase string
}

// Store wraps an httpcache.Storage to add:
//   - SHA-256 hashing of every URL before it reaches the inner backend
//   - Optional AES-256-GCM encryption of record content
type Store struct {
	inner httpcache.Storage
	gcm   cipher.AEAD
}

// New creates a Store wrapping config.Storage.
func New(config Config) (*Store, error) {
	if config.Storage == nil {
		return nil, fmt.Errorf("securestore: storage is required")
	}

	s := &Store{inner: config.Storage}
	if config.Passphrase != "" {
		gcm, err := newGCM(config.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("securestore: initialize encryption: %w", err)
		}
		s.gcm = gcm
	}
	return s, nil
}

func newGCM(passphrase string) (cipher.AEAD, error) {
	// A fixed salt means two Stores with the same passphrase derive the
	// same key; the passphrase itself is the actual secret.
	salt := sha256.Sum256([]byte("httpcache-securestore-salt-v1"))
	key, err := scrypt.Key([]byte(passphrase), salt[:], scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// IsEncrypted reports whether content is encrypted at rest.
func (s *Store) IsEncrypted() bool { return s.gcm != nil }

func hashURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

func (s *Store) encrypt(data []byte) ([]byte, error) {
	if s.gcm == nil {
		return data, nil
	}
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return s.gcm.Seal(nonce, nonce, data, nil), nil
}

func (s *Store) decrypt(data []byte) ([]byte, error) {
	if s.gcm == nil {
		return data, nil
	}
	nonceSize := s.gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := s.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// NewRecord implements httpcache.Storage.
func (s *Store) NewRecord(ctx context.Context, url string, subtype httpcache.Subtype, headers *httpcache.Header) (httpcache.Writer, error) {
	inner, err := s.inner.NewRecord(ctx, hashURL(url), subtype, headers)
	if err != nil {
		return nil, err
	}
	return &writer{store: s, inner: inner, url: url}, nil
}

type writer struct {
	store *Store
	inner httpcache.Writer
	url   string
	buf   []byte
}

func (w *writer) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *writer) Close() error {
	encrypted, err := w.store.encrypt(w.buf)
	if err != nil {
		return fmt.Errorf("securestore: encrypt %s: %w", w.url, err)
	}
	if _, err := w.inner.Write(encrypted); err != nil {
		return err
	}
	return w.inner.Close()
}

// GetRecord implements httpcache.Storage.
func (s *Store) GetRecord(ctx context.Context, url string, subtype httpcache.Subtype) (*httpcache.Header, io.ReadCloser, error) {
	headers, content, err := s.inner.GetRecord(ctx, hashURL(url), subtype)
	if err != nil {
		return nil, nil, err
	}
	plaintext, err := s.decryptReader(content, url)
	if err != nil {
		return nil, nil, err
	}
	return headers, plaintext, nil
}

// GetRecordHeaders implements httpcache.Storage.
func (s *Store) GetRecordHeaders(ctx context.Context, url string, subtype httpcache.Subtype) (*httpcache.Header, error) {
	return s.inner.GetRecordHeaders(ctx, hashURL(url), subtype)
}

// GetRecordContent implements httpcache.Storage.
func (s *Store) GetRecordContent(ctx context.Context, url string, subtype httpcache.Subtype) (io.ReadCloser, error) {
	content, err := s.inner.GetRecordContent(ctx, hashURL(url), subtype)
	if err != nil {
		return nil, err
	}
	return s.decryptReader(content, url)
}

func (s *Store) decryptReader(content io.ReadCloser, url string) (io.ReadCloser, error) {
	defer content.Close()
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, err
	}
	plaintext, err := s.decrypt(data)
	if err != nil {
		return nil, fmt.Errorf("securestore: decrypt %s: %w", url, err)
	}
	return io.NopCloser(bytes.NewReader(plaintext)), nil
}

// GetRecordSubtypes implements httpcache.Storage.
func (s *Store) GetRecordSubtypes(ctx context.Context, url string) ([]httpcache.Subtype, error) {
	return s.inner.GetRecordSubtypes(ctx, hashURL(url))
}

// PurgeRecord implements httpcache.Storage.
func (s *Store) PurgeRecord(ctx context.Context, url string, subtype httpcache.Subtype) (bool, error) {
	return s.inner.PurgeRecord(ctx, hashURL(url), subtype)
}
