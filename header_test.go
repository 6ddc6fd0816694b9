package httpcache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderCaseInsensitiveLookup(t *testing.T) {
	h := NewHeader()
	h.Set("Content-Type", "text/plain")

	v, ok := h.Get("content-type")
	require.True(t, ok)
	require.Equal(t, "text/plain", v)

	v, ok = h.Get("CONTENT-TYPE")
	require.True(t, ok)
	require.Equal(t, "text/plain", v)
}

func TestHeaderMissingReturnsFalse(t *testing.T) {
	h := NewHeader()
	_, ok := h.Get("X-Missing")
	require.False(t, ok)
	require.Equal(t, "default", h.GetOr("X-Missing", "default"))
}

func TestHeaderNamesInsertionOrder(t *testing.T) {
	h := NewHeader()
	h.Set("Z", "1")
	h.Set("A", "2")
	h.Set("M", "3")
	require.Equal(t, []string{"Z", "A", "M"}, h.Names())
}

func TestHeaderSetPreservesFirstSeenCase(t *testing.T) {
	h := NewHeader()
	h.Set("Content-Type", "a")
	h.Set("content-type", "b")
	require.Equal(t, []string{"Content-Type"}, h.Names())
	v, _ := h.Get("Content-Type")
	require.Equal(t, "b", v)
}

func TestHeaderDel(t *testing.T) {
	h := NewHeader()
	h.Set("X", "1")
	h.Del("x")
	require.False(t, h.Has("X"))
	require.Empty(t, h.Names())
}

func TestHeaderClone(t *testing.T) {
	h := NewHeader()
	h.Set("X", "1")
	c := h.Clone()
	c.Set("X", "2")
	v, _ := h.Get("X")
	require.Equal(t, "1", v)
}
