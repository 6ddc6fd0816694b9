// Package resilientstore wraps an httpcache.Storage with failsafe-go
// retry and circuit-breaker policies applied to calls against the Storage
// backend (useful when the backend is a network service: redisstore,
// postgresstore, mongostore, natsstore). The core module applies no such
// policies of its own.
package resilientstore

import (
	"context"
	"io"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/netcache-go/httpcache"
)

// Config controls which resilience policies are applied. Both are
// disabled in a zero Config and must be explicitly enabled (DefaultConfig
// enables both), since they add
// latency (retry) and a new failure mode (an open breaker returns
// errors without attempting the call) that not every caller wants.
type Config struct {
	Storage httpcache.Storage

	EnableRetry      bool
	RetryMaxRetries  int
	RetryBackoffMin  time.Duration
	RetryBackoffMax  time.Duration

	EnableCircuitBreaker bool
	FailureThreshold     uint
	SuccessThreshold     uint
	BreakerDelay         time.Duration
}

// DefaultConfig returns a Config with both policies enabled: up to 3
// retries with 100ms-10s backoff, and a circuit breaker with failure
// threshold 5, success threshold 2 and a 60s delay.
func DefaultConfig(storage httpcache.Storage) Config {
	return Config{
		Storage:              storage,
		EnableRetry:          true,
		RetryMaxRetries:      3,
		RetryBackoffMin:      100 * time.Millisecond,
		RetryBackoffMax:      10 * time.Second,
		EnableCircuitBreaker: true,
		FailureThreshold:     5,
		SuccessThreshold:     2,
		BreakerDelay:         60 * time.Second,
	}
}

type getRecordResult struct {
	headers *httpcache.Header
	content io.ReadCloser
}

// Store wraps an httpcache.Storage with retry and circuit-breaker
// policies applied to each operation independently, so a slow or
// failing backend can't wedge operations that would otherwise succeed.
type Store struct {
	inner httpcache.Storage

	newRecord   []failsafe.Policy[httpcache.Writer]
	getRecord   []failsafe.Policy[getRecordResult]
	getHeaders  []failsafe.Policy[*httpcache.Header]
	getContent  []failsafe.Policy[io.ReadCloser]
	getSubtypes []failsafe.Policy[[]httpcache.Subtype]
	purge       []failsafe.Policy[bool]
}

// New creates a Store wrapping config.Storage with the policies config
// enables.
func New(config Config) *Store {
	return &Store{
		inner:       config.Storage,
		newRecord:   buildPolicies[httpcache.Writer](config),
		getRecord:   buildPolicies[getRecordResult](config),
		getHeaders:  buildPolicies[*httpcache.Header](config),
		getContent:  buildPolicies[io.ReadCloser](config),
		getSubtypes: buildPolicies[[]httpcache.Subtype](config),
		purge:       buildPolicies[bool](config),
	}
}

func buildPolicies[T any](config Config) []failsafe.Policy[T] {
	var policies []failsafe.Policy[T]
	if config.EnableRetry {
		policies = append(policies, retrypolicy.NewBuilder[T]().
			HandleIf(func(_ T, err error) bool { return err != nil }).
			WithMaxRetries(config.RetryMaxRetries).
			WithBackoff(config.RetryBackoffMin, config.RetryBackoffMax).
			Build())
	}
	if config.EnableCircuitBreaker {
		policies = append(policies, circuitbreaker.NewBuilder[T]().
			HandleIf(func(_ T, err error) bool { return err != nil }).
			WithFailureThreshold(config.FailureThreshold).
			WithSuccessThreshold(config.SuccessThreshold).
			WithDelay(config.BreakerDelay).
			Build())
	}
	return policies
}

func run[T any](policies []failsafe.Policy[T], fn func() (T, error)) (T, error) {
	if len(policies) == 0 {
		return fn()
	}
	return failsafe.With(policies...).Get(fn)
}

// NewRecord implements httpcache.Storage.
func (s *Store) NewRecord(ctx context.Context, url string, subtype httpcache.Subtype, headers *httpcache.Header) (httpcache.Writer, error) {
	return run(s.newRecord, func() (httpcache.Writer, error) {
		return s.inner.NewRecord(ctx, url, subtype, headers)
	})
}

// GetRecord implements httpcache.Storage.
func (s *Store) GetRecord(ctx context.Context, url string, subtype httpcache.Subtype) (*httpcache.Header, io.ReadCloser, error) {
	result, err := run(s.getRecord, func() (getRecordResult, error) {
		headers, content, err := s.inner.GetRecord(ctx, url, subtype)
		return getRecordResult{headers: headers, content: content}, err
	})
	if err != nil {
		return nil, nil, err
	}
	return result.headers, result.content, nil
}

// GetRecordHeaders implements httpcache.Storage.
func (s *Store) GetRecordHeaders(ctx context.Context, url string, subtype httpcache.Subtype) (*httpcache.Header, error) {
	return run(s.getHeaders, func() (*httpcache.Header, error) {
		return s.inner.GetRecordHeaders(ctx, url, subtype)
	})
}

// GetRecordContent implements httpcache.Storage.
func (s *Store) GetRecordContent(ctx context.Context, url string, subtype httpcache.Subtype) (io.ReadCloser, error) {
	return run(s.getContent, func() (io.ReadCloser, error) {
		return s.inner.GetRecordContent(ctx, url, subtype)
	})
}

// GetRecordSubtypes implements httpcache.Storage.
func (s *Store) GetRecordSubtypes(ctx context.Context, url string) ([]httpcache.Subtype, error) {
	return run(s.getSubtypes, func() ([]httpcache.Subtype, error) {
		return s.inner.GetRecordSubtypes(ctx, url)
	})
}

// PurgeRecord implements httpcache.Storage.
func (s *Store) PurgeRecord(ctx context.Context, url string, subtype httpcache.Subtype) (bool, error) {
	return run(s.purge, func() (bool, error) {
		return s.inner.PurgeRecord(ctx, url, subtype)
	})
}
