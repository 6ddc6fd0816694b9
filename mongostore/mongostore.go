// Package mongostore implements httpcache.Storage on top of MongoDB. Unlike
// the flat key/value backends, Mongo lets GetRecordSubtypes run a real query
// over the url field instead of maintaining a separate index document.
package mongostore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/netcache-go/httpcache"
)

// Config holds the configuration for connecting a Store to MongoDB.
type Config struct {
	// URI is the MongoDB connection URI (e.g., "mongodb://localhost:27017").
	// Required field.
	URI string

	// Database is the name of the database to use for caching. Required.
	Database string

	// Collection is the name of the collection to use for caching.
	// Optional - defaults to "httpcache_records".
	Collection string

	// Timeout bounds each database operation. Optional - defaults to 5s.
	Timeout time.Duration

	// ClientOptions are additional options to pass to mongo.Connect.
	ClientOptions *options.ClientOptions
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{Collection: "httpcache_records", Timeout: 5 * time.Second}
}

// record is the document shape stored per (url, subtype) pair. The _id is
// deterministic from (url, subtype) so a new Close on the same pair
// replaces the previous document outright, which is how supersession is
// implemented here.
type record struct {
	ID        string            `bson:"_id"`
	URL       string            `bson:"url"`
	Subtype   string            `bson:"subtype"`
	Enabled   bool              `bson:"enabled"`
	Headers   map[string]string `bson:"headers"`
	Content   []byte            `bson:"content"`
	CreatedAt time.Time         `bson:"createdAt"`
}

// Store is a httpcache.Storage backed by a MongoDB collection.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
	owns       bool
}

// New connects to MongoDB and returns a Store. The caller must call Close
// when done.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.URI == "" {
		return nil, fmt.Errorf("mongostore: URI is required")
	}
	if config.Database == "" {
		return nil, fmt.Errorf("mongostore: database name is required")
	}
	if config.Collection == "" {
		config.Collection = DefaultConfig().Collection
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	clientOpts := options.Client().ApplyURI(config.URI)
	if config.ClientOptions != nil {
		clientOpts = config.ClientOptions.ApplyURI(config.URI)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}

	collection := client.Database(config.Database).Collection(config.Collection)
	return &Store{client: client, collection: collection, timeout: config.Timeout, owns: true}, nil
}

// NewWithCollection wraps an already-connected collection. Close is then a
// no-op: the caller owns the client's lifecycle.
func NewWithCollection(collection *mongo.Collection, timeout time.Duration) *Store {
	if timeout == 0 {
		timeout = DefaultConfig().Timeout
	}
	return &Store{collection: collection, timeout: timeout}
}

// Close disconnects the underlying client, if this Store created it.
func (s *Store) Close(ctx context.Context) error {
	if !s.owns || s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func hexDigest(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func recordID(url string, subtype httpcache.Subtype) string {
	return hexDigest(url) + ":" + hexDigest(subtype.CanonicalJSON())
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
	buf     []byte
	closed  bool
}

func (w *writer) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	doc := record{
		ID:        recordID(w.url, w.subtype),
		URL:       w.url,
		Subtype:   w.subtype.CanonicalJSON(),
		Enabled:   true,
		Headers:   w.headers.Map(),
		Content:   w.buf,
		CreatedAt: time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.store.timeout)
	defer cancel()
	opts := options.Replace().SetUpsert(true)
	_, err := w.store.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, opts)
	if err != nil {
		return fmt.Errorf("mongostore: commit record for %s: %w", w.url, err)
	}
	return nil
}

func (s *Store) findEnabled(ctx context.Context, url string, subtype httpcache.Subtype) (record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var doc record
	err := s.collection.FindOne(ctx, bson.M{"_id": recordID(url, subtype), "enabled": true}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return record{}, httpcache.ErrRecordNotFound
	}
	if err != nil {
		return record{}, fmt.Errorf("mongostore: lookup %s: %w", url, err)
	}
	return doc, nil
}

// GetRecord implements httpcache.Storage.
func (s *Store) GetRecord(ctx context.Context, url string, subtype httpcache.Subtype) (*httpcache.Header, io.ReadCloser, error) {
	doc, err := s.findEnabled(ctx, url, subtype)
	if err != nil {
		return nil, nil, err
	}
	return httpcache.HeaderFrom(doc.Headers), io.NopCloser(bytes.NewReader(doc.Content)), nil
}

// GetRecordHeaders implements httpcache.Storage.
func (s *Store) GetRecordHeaders(ctx context.Context, url string, subtype httpcache.Subtype) (*httpcache.Header, error) {
	doc, err := s.findEnabled(ctx, url, subtype)
	if err != nil {
		return nil, err
	}
	return httpcache.HeaderFrom(doc.Headers), nil
}

// GetRecordContent implements httpcache.Storage.
func (s *Store) GetRecordContent(ctx context.Context, url string, subtype httpcache.Subtype) (io.ReadCloser, error) {
	doc, err := s.findEnabled(ctx, url, subtype)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(doc.Content)), nil
}

// GetRecordSubtypes implements httpcache.Storage.
func (s *Store) GetRecordSubtypes(ctx context.Context, url string) ([]httpcache.Subtype, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	total, err := s.collection.CountDocuments(queryCtx, bson.M{"url": url})
	if err != nil {
		return nil, fmt.Errorf("mongostore: count %s: %w", url, err)
	}
	if total == 0 {
		return nil, httpcache.ErrUnknownURL
	}

	cursor, err := s.collection.Find(queryCtx, bson.M{"url": url, "enabled": true})
	if err != nil {
		return nil, fmt.Errorf("mongostore: scan %s: %w", url, err)
	}
	defer cursor.Close(queryCtx)

	out := []httpcache.Subtype{}
	for cursor.Next(queryCtx) {
		var doc record
		if cursor.Decode(&doc) != nil {
			continue
		}
		subtype, err := httpcache.ParseSubtypeJSON(doc.Subtype)
		if err != nil {
			httpcache.GetLogger().Warn("mongostore: ill-formed subtype, skipping record", "error", err)
			continue
		}
		out = append(out, subtype)
	}
	return out, nil
}

// PurgeRecord implements httpcache.Storage.
func (s *Store) PurgeRecord(ctx context.Context, url string, subtype httpcache.Subtype) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": recordID(url, subtype), "enabled": true},
		bson.M{"$set": bson.M{"enabled": false}},
	)
	if err != nil {
		return false, fmt.Errorf("mongostore: purge %s: %w", url, err)
	}
	return res.ModifiedCount > 0, nil
}
