package httpcache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubtypeEqualityOrderIndependent(t *testing.T) {
	a := NewSubtype(map[string]string{"Accept": "en", "Accept-Encoding": "gzip"})
	b := NewSubtype(map[string]string{"accept-encoding": "gzip", "accept": "en"})
	require.True(t, a.Equal(b))
}

func TestSubtypeNoneCanonicalJSON(t *testing.T) {
	require.Equal(t, "null", NoSubtype.CanonicalJSON())
	require.True(t, NoSubtype.IsNone())
}

func TestSubtypeCanonicalJSONSortedLowercase(t *testing.T) {
	s := NewSubtype(map[string]string{"B": "2", "A": "1"})
	require.Equal(t, `[["a","1"],["b","2"]]`, s.CanonicalJSON())
}

func TestParseSubtypeJSONRoundTrip(t *testing.T) {
	s := NewSubtype(map[string]string{"accept": "en"})
	parsed, err := ParseSubtypeJSON(s.CanonicalJSON())
	require.NoError(t, err)
	require.True(t, s.Equal(parsed))
}

func TestParseSubtypeJSONNull(t *testing.T) {
	parsed, err := ParseSubtypeJSON("null")
	require.NoError(t, err)
	require.True(t, parsed.IsNone())
}

func TestParseSubtypeJSONMalformed(t *testing.T) {
	_, err := ParseSubtypeJSON("{not json")
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}
