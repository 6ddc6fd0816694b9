// Package httpcache implements the decision engine, freshness arithmetic,
// and storage model of an HTTP/1.1 client-side response cache, covering the
// subset of RFC 2616 §13–§14 that governs when a cached representation may
// be reused, when it must be revalidated, and when it must be refetched.
//
// The package is a private (not shared/proxy) cache. It never dials the
// network itself: it is wired into an existing http.RoundTripper via
// Pipeline.RoundTripper, and it stores response bodies and headers through
// the Storage interface, which has implementations for memory (MemStore,
// in this package) and for a variety of external systems in sibling
// subpackages (diskstore, redisstore, postgresstore, ...).
package httpcache
