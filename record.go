package httpcache

import "time"

// Synthetic header names stored with every record (§3). They live in the
// same Header map as real HTTP headers so a single JSON blob captures a
// record's full metadata, but handlers strip or ignore them when copying
// headers onto a synthesized http.Response.
const (
	headerRequestTime  = "_request_time"
	headerResponseTime = "_response_time"
	headerStatusCode   = "_status_code"
)

// Record is a cached HTTP response (§3): a URL, the Vary-derived Subtype
// distinguishing it from sibling representations of the same URL, its
// headers (including the three synthetic fields above), and an enabled
// flag used as a tombstone by durable stores.
type Record struct {
	URL     string
	Subtype Subtype
	Headers *Header
	Enabled bool
}

// StatusCode returns the record's stored status code, defaulting to 200
// per §4.10's "status from _status_code (default 200)" rule.
func (r *Record) StatusCode() int {
	v, ok := r.Headers.Get(headerStatusCode)
	if !ok {
		return 200
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return 200
		}
		n = n*10 + int(c-'0')
	}
	if n == 0 {
		return 200
	}
	return n
}

// RequestTime returns the stored _request_time, or the zero time if absent
// or unparseable.
func (r *Record) RequestTime() time.Time {
	return parseStampHeader(r.Headers, headerRequestTime)
}

// ResponseTime returns the stored _response_time, or the zero time if
// absent or unparseable.
func (r *Record) ResponseTime() time.Time {
	return parseStampHeader(r.Headers, headerResponseTime)
}

func parseStampHeader(h *Header, name string) time.Time {
	v, ok := h.Get(name)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func stampRecordTimes(h *Header, requestTime, responseTime time.Time, statusCode int) {
	h.Set(headerRequestTime, requestTime.UTC().Format(time.RFC3339Nano))
	h.Set(headerResponseTime, responseTime.UTC().Format(time.RFC3339Nano))
	h.Set(headerStatusCode, statusCodeString(statusCode))
}

func statusCodeString(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
