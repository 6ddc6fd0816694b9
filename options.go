package httpcache

// PipelineOption configures a Pipeline. Use the With*/SkipHandlers
// functions to build one, matching the teacher's functional-options
// style (TransportOption).
type PipelineOption func(*Pipeline)

// SkipHandlers opts a Pipeline out of the named handlers (§6 "Request
// configuration": skip_cache_handlers, normalised to a set per §9).
// Unknown names are ignored rather than erroring, since a caller opting
// out of a handler that doesn't exist in this build is harmless.
func SkipHandlers(names ...string) PipelineOption {
	return func(p *Pipeline) {
		for _, name := range names {
			p.skip[name] = true
		}
	}
}

// VarySubtypeFromRequest configures the pipeline's CacheableRequest
// handler per §9's open question: whether a stored record's Vary-derived
// subtype is built from the response headers (false, the source's literal
// behaviour and the default) or from the originating request's headers
// (true, the RFC 2616 §14.44-compliant behaviour).
func VarySubtypeFromRequest(fromRequest bool) PipelineOption {
	return func(p *Pipeline) {
		for _, h := range p.handlers {
			if cr, ok := h.(*CacheableRequest); ok {
				cr.VarySubtypeFromRequest = fromRequest
			}
		}
	}
}
