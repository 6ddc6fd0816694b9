package httpcache

import (
	"strconv"
	"strings"
	"time"
)

// AgeResult holds the intermediate and final values of the RFC 2616
// §13.2.3 age computation (§4.7), exposed mainly so tests can assert on
// the intermediate terms rather than only the final current age.
type AgeResult struct {
	Date                 time.Time
	AgeValue             int
	ApparentAge          int
	CorrectedReceivedAge int
	ResponseDelay        int
	CorrectedInitialAge  int
	ResidentTime         int
	CurrentAge           int
}

// computeAge implements §4.7's formula chain. It returns ok=false if the
// record's Date header is absent or unparseable, in which case the entry
// is not usable for freshness purposes.
func computeAge(headers *Header, now time.Time) (AgeResult, bool) {
	dateStr, ok := headers.Get("Date")
	if !ok {
		return AgeResult{}, false
	}
	date, ok := ParseDate(dateStr)
	if !ok {
		return AgeResult{}, false
	}

	requestTime := parseStampHeader(headers, headerRequestTime)
	responseTime := parseStampHeader(headers, headerResponseTime)

	ageValue := 0
	if v, ok := headers.Get("Age"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			ageValue = n
		}
	}

	apparentAge := wholeSeconds(responseTime.Sub(date))
	if apparentAge < 0 {
		apparentAge = 0
	}
	correctedReceivedAge := apparentAge
	if ageValue > correctedReceivedAge {
		correctedReceivedAge = ageValue
	}
	responseDelay := wholeSeconds(responseTime.Sub(requestTime))
	correctedInitialAge := correctedReceivedAge + responseDelay
	residentTime := wholeSeconds(now.Sub(responseTime))
	currentAge := correctedInitialAge + residentTime

	return AgeResult{
		Date:                 date,
		AgeValue:             ageValue,
		ApparentAge:          apparentAge,
		CorrectedReceivedAge: correctedReceivedAge,
		ResponseDelay:        responseDelay,
		CorrectedInitialAge:  correctedInitialAge,
		ResidentTime:         residentTime,
		CurrentAge:           currentAge,
	}, true
}

// wholeSeconds truncates a duration toward zero, per §4.7's "all time
// differences are computed in whole seconds; subsecond components are
// truncated".
func wholeSeconds(d time.Duration) int {
	return int(d / time.Second)
}

// freshnessLifetime implements §4.7's lifetime rule: Cache-Control:
// max-age wins if present, else Expires - Date, else the entry has no
// usable lifetime.
func freshnessLifetime(headers *Header, date time.Time) (int, bool) {
	if cc, ok := headers.Get("Cache-Control"); ok {
		if n, ok := cacheControlMaxAge(cc); ok {
			return n, true
		}
	}
	if expiresStr, ok := headers.Get("Expires"); ok {
		if expires, ok := ParseDate(expiresStr); ok {
			return wholeSeconds(expires.Sub(date)), true
		}
	}
	return 0, false
}

// isFresh implements §4.7's decision rule. It returns ok=false when the
// record has no Date or no freshness lifetime, meaning "not usable" —
// callers must treat that the same as a cache miss.
func isFresh(headers *Header, now time.Time) (fresh bool, ok bool) {
	age, ok := computeAge(headers, now)
	if !ok {
		return false, false
	}
	lifetime, ok := freshnessLifetime(headers, age.Date)
	if !ok {
		return false, false
	}
	return lifetime > age.CurrentAge, true
}

// cacheControlHasNoCache reports whether the Cache-Control header value cc
// contains the no-cache directive (§4.8, §4.9, Non-goals: only no-cache
// and max-age are recognised).
func cacheControlHasNoCache(cc string) bool {
	for _, part := range strings.Split(cc, ",") {
		if strings.EqualFold(strings.TrimSpace(part), "no-cache") {
			return true
		}
	}
	return false
}

// cacheControlMaxAge extracts the integer value of max-age=N from a
// Cache-Control header value, if present and well-formed.
func cacheControlMaxAge(cc string) (int, bool) {
	for _, part := range strings.Split(cc, ",") {
		part = strings.TrimSpace(part)
		name, value, found := strings.Cut(part, "=")
		if !found || !strings.EqualFold(strings.TrimSpace(name), "max-age") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			continue
		}
		return n, true
	}
	return 0, false
}
