// Package postgresstore implements httpcache.Storage on top of PostgreSQL
// via pgx. A single table holds one row per (url, subtype) pair, keyed by
// their md5 digests so supersession is a plain upsert.
package postgresstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/netcache-go/httpcache"
)

var (
	// ErrNilPool is returned when a nil pool is provided to NewWithPool.
	ErrNilPool = errors.New("postgresstore: pool cannot be nil")
)

// DefaultTableName is the default table name for record storage.
const DefaultTableName = "httpcache_records"

// Config holds the configuration for a Store.
type Config struct {
	// TableName is the name of the table holding records. Defaults to
	// DefaultTableName.
	TableName string

	// Timeout bounds each database operation. Defaults to 5s.
	Timeout time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{TableName: DefaultTableName, Timeout: 5 * time.Second}
}

// Store is a httpcache.Storage backed by a PostgreSQL table.
type Store struct {
	pool      *pgxpool.Pool
	tableName string
	timeout   time.Duration
	owns      bool
}

// New creates a connection pool from connString and returns a Store with
// its table created.
func New(ctx context.Context, connString string, config Config) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("postgresstore: connect: %w", err)
	}
	store, err := NewWithPool(pool, config)
	if err != nil {
		pool.Close()
		return nil, err
	}
	store.owns = true
	if err := store.createTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool wraps an already-open pool. The caller owns the pool's
// lifecycle; Close on the Store is then a no-op.
func NewWithPool(pool *pgxpool.Pool, config Config) (*Store, error) {
	if pool == nil {
		return nil, ErrNilPool
	}
	if config.TableName == "" {
		config.TableName = DefaultTableName
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &Store{pool: pool, tableName: config.TableName, timeout: config.Timeout}, nil
}

func (s *Store) createTable(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	query := `
		CREATE TABLE IF NOT EXISTS ` + s.tableName + ` (
			url_hex TEXT NOT NULL,
			subtype_hex TEXT NOT NULL,
			url TEXT NOT NULL,
			subtype_json TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			headers JSONB NOT NULL,
			content BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (url_hex, subtype_hex)
		)
	`
	_, err := s.pool.Exec(ctx, query)
	return err
}

// Close closes the underlying pool, if this Store owns it.
func (s *Store) Close() {
	if s.owns {
		s.pool.Close()
	}
}

func hexDigest(v string) string {
	sum := md5.Sum([]byte(v))
	return hex.EncodeToString(sum[:])
}

// NewRecord implements httpcache.Storage.
func (s *Store) NewRecord(ctx context.Context, url string, subtype httpcache.Subtype, headers *httpcache.Header) (httpcache.Writer, error) {
	return &writer{store: s, url: url, subtype: subtype, headers: headers}, nil
}

type writer struct {
	store   *Store
	url     string
	subtype httpcache.Subtype
	headers *httpcache.Header
	buf     bytes.Buffer
	closed  bool
}

func (w *writer) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	headersJSON, err := json.Marshal(w.headers.Map())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.store.timeout)
	defer cancel()

	query := `
		INSERT INTO ` + w.store.tableName + `
			(url_hex, subtype_hex, url, subtype_json, enabled, headers, content, created_at)
		VALUES ($1, $2, $3, $4, TRUE, $5, $6, $7)
		ON CONFLICT (url_hex, subtype_hex) DO UPDATE SET
			enabled = TRUE, headers = $5, content = $6, created_at = $7
	`
	_, err = w.store.pool.Exec(ctx, query,
		hexDigest(w.url), hexDigest(w.subtype.CanonicalJSON()), w.url, w.subtype.CanonicalJSON(),
		headersJSON, w.buf.Bytes(), time.Now())
	if err != nil {
		return fmt.Errorf("postgresstore: commit record for %s: %w", w.url, err)
	}
	return nil
}

func (s *Store) queryEnabled(ctx context.Context, url string, subtype httpcache.Subtype) (map[string]string, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT headers, content FROM ` + s.tableName + ` WHERE url_hex = $1 AND subtype_hex = $2 AND enabled`
	var headersJSON []byte
	var content []byte
	err := s.pool.QueryRow(ctx, query, hexDigest(url), hexDigest(subtype.CanonicalJSON())).Scan(&headersJSON, &content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, httpcache.ErrRecordNotFound
		}
		return nil, nil, fmt.Errorf("postgresstore: lookup %s: %w", url, err)
	}
	var headers map[string]string
	if err := json.Unmarshal(headersJSON, &headers); err != nil {
		return nil, nil, fmt.Errorf("postgresstore: decode headers for %s: %w", url, err)
	}
	return headers, content, nil
}

// GetRecord implements httpcache.Storage.
func (s *Store) GetRecord(ctx context.Context, url string, subtype httpcache.Subtype) (*httpcache.Header, io.ReadCloser, error) {
	headers, content, err := s.queryEnabled(ctx, url, subtype)
	if err != nil {
		return nil, nil, err
	}
	return httpcache.HeaderFrom(headers), io.NopCloser(bytes.NewReader(content)), nil
}

// GetRecordHeaders implements httpcache.Storage.
func (s *Store) GetRecordHeaders(ctx context.Context, url string, subtype httpcache.Subtype) (*httpcache.Header, error) {
	headers, _, err := s.queryEnabled(ctx, url, subtype)
	if err != nil {
		return nil, err
	}
	return httpcache.HeaderFrom(headers), nil
}

// GetRecordContent implements httpcache.Storage.
func (s *Store) GetRecordContent(ctx context.Context, url string, subtype httpcache.Subtype) (io.ReadCloser, error) {
	_, content, err := s.queryEnabled(ctx, url, subtype)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

// GetRecordSubtypes implements httpcache.Storage.
func (s *Store) GetRecordSubtypes(ctx context.Context, url string) ([]httpcache.Subtype, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var total int
	err := s.pool.QueryRow(queryCtx, `SELECT count(*) FROM `+s.tableName+` WHERE url_hex = $1`, hexDigest(url)).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("postgresstore: count %s: %w", url, err)
	}
	if total == 0 {
		return nil, httpcache.ErrUnknownURL
	}

	rows, err := s.pool.Query(queryCtx, `SELECT subtype_json FROM `+s.tableName+` WHERE url_hex = $1 AND enabled`, hexDigest(url))
	if err != nil {
		return nil, fmt.Errorf("postgresstore: scan %s: %w", url, err)
	}
	defer rows.Close()

	out := []httpcache.Subtype{}
	for rows.Next() {
		var subtypeJSON string
		if rows.Scan(&subtypeJSON) != nil {
			continue
		}
		subtype, err := httpcache.ParseSubtypeJSON(subtypeJSON)
		if err != nil {
			httpcache.GetLogger().Warn("postgresstore: ill-formed subtype, skipping record", "error", err)
			continue
		}
		out = append(out, subtype)
	}
	return out, rows.Err()
}

// PurgeRecord implements httpcache.Storage.
func (s *Store) PurgeRecord(ctx context.Context, url string, subtype httpcache.Subtype) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.tableName+` SET enabled = FALSE WHERE url_hex = $1 AND subtype_hex = $2 AND enabled`,
		hexDigest(url), hexDigest(subtype.CanonicalJSON()))
	if err != nil {
		return false, fmt.Errorf("postgresstore: purge %s: %w", url, err)
	}
	return tag.RowsAffected() > 0, nil
}
