package httpcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestParseDateThreeFormats is P6: the three wire formats for the same
// instant parse to the same time.
func TestParseDateThreeFormats(t *testing.T) {
	rfc1123 := "Sun, 06 Nov 1994 08:49:37 GMT"
	rfc850 := "Sunday, 06-Nov-94 08:49:37 GMT"
	asctime := "Sun Nov  6 08:49:37 1994"

	t1, ok := ParseDate(rfc1123)
	require.True(t, ok)
	t2, ok := ParseDate(rfc850)
	require.True(t, ok)
	t3, ok := ParseDate(asctime)
	require.True(t, ok)

	require.True(t, t1.Equal(t2))
	require.True(t, t2.Equal(t3))
}

// TestParseDateRoundTrip is P5: formatting then parsing an instant at
// whole-second precision returns the same instant.
func TestParseDateRoundTrip(t *testing.T) {
	in := time.Date(2026, time.August, 1, 12, 30, 45, 0, time.UTC)
	s := FormatDate(in)
	out, ok := ParseDate(s)
	require.True(t, ok)
	require.True(t, in.Equal(out))
}

func TestFormatDateExactLayout(t *testing.T) {
	in := time.Date(1994, time.November, 6, 8, 49, 37, 0, time.UTC)
	require.Equal(t, "Sun, 06 Nov 1994 08:49:37 GMT", FormatDate(in))
}

func TestParseDateIllFormed(t *testing.T) {
	_, ok := ParseDate("not a date")
	require.False(t, ok)

	_, ok = ParseDate("")
	require.False(t, ok)
}

func TestParseDateSingleDigitAsctimeDay(t *testing.T) {
	_, ok := ParseDate("Mon Jan 2 15:04:05 2006")
	require.True(t, ok)
}
