package httpcache

import (
	"encoding/json"
	"sort"
	"strings"
)

// Subtype is the canonical fingerprint of the request-header values named
// by a response's Vary header (§3). NoSubtype is the sentinel meaning
// "no Vary" — it is distinct from an empty-but-non-nil pairing and
// compares equal to itself. The zero value Subtype{} is not NoSubtype:
// its IsNone reports false, though it serialises to the same "null".
type Subtype struct {
	pairs  [][2]string // sorted (lowercased name, value) pairs
	isNone bool        // true only for NoSubtype
}

// NoSubtype is the sentinel subtype for a record stored without a Vary
// header.
var NoSubtype = Subtype{isNone: true}

// NewSubtype builds a Subtype from a name->value mapping, lowercasing
// names and sorting for canonical comparison (§4.1/§9 "Subtype equality").
func NewSubtype(values map[string]string) Subtype {
	if values == nil {
		return NoSubtype
	}
	pairs := make([][2]string, 0, len(values))
	for k, v := range values {
		pairs = append(pairs, [2]string{strings.ToLower(k), v})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })
	return Subtype{pairs: pairs}
}

// IsNone reports whether s is the NONE sentinel.
func (s Subtype) IsNone() bool { return s.isNone }

// Values returns the subtype's pairing as a plain map, or nil for NONE.
func (s Subtype) Values() map[string]string {
	if s.isNone {
		return nil
	}
	out := make(map[string]string, len(s.pairs))
	for _, p := range s.pairs {
		out[p[0]] = p[1]
	}
	return out
}

// Equal reports whether two subtypes are the same fingerprint, by
// canonical JSON serialisation comparison per §9.
func (s Subtype) Equal(other Subtype) bool {
	return s.CanonicalJSON() == other.CanonicalJSON()
}

// CanonicalJSON returns the canonical on-disk representation used by the
// filesystem store's index format (§4.5): "null" for NONE, else
// "[[k1,v1],[k2,v2],...]" with lowercased keys sorted ascending.
func (s Subtype) CanonicalJSON() string {
	if s.isNone {
		return "null"
	}
	b, err := json.Marshal(s.pairs)
	if err != nil {
		// pairs is always []string{2} of valid UTF-8 strings; Marshal
		// cannot fail for this shape.
		return "null"
	}
	return string(b)
}

// ParseSubtypeJSON parses the canonical JSON form produced by
// CanonicalJSON, returning a ParseError on malformed input.
func ParseSubtypeJSON(data string) (Subtype, error) {
	trimmed := strings.TrimSpace(data)
	if trimmed == "null" || trimmed == "" {
		return NoSubtype, nil
	}
	var pairs [][2]string
	if err := json.Unmarshal([]byte(trimmed), &pairs); err != nil {
		return Subtype{}, &ParseError{Kind: "subtype", Input: data, Err: err}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })
	return Subtype{pairs: pairs}, nil
}
