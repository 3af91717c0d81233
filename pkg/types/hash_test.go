package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_Deterministic(t *testing.T) {
	a := Hash([]byte("hello world"))
	b := Hash([]byte("hello world"))
	assert.Equal(t, a, b)
	assert.False(t, a.IsZero())
}

func TestHash_DifferentContentDiffers(t *testing.T) {
	a := Hash([]byte("hello"))
	b := Hash([]byte("world"))
	assert.NotEqual(t, a, b)
}

func TestContentHash_StringRoundTrip(t *testing.T) {
	h := Hash([]byte("round trip me"))
	s := h.String()
	assert.Len(t, s, HashSize*2)

	parsed, err := ParseContentHash(s)
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
}

func TestParseContentHash_WrongLength(t *testing.T) {
	_, err := ParseContentHash("deadbeef")
	assert.Error(t, err)
}

func TestParseContentHash_NotHex(t *testing.T) {
	_, err := ParseContentHash("zz" + string(make([]byte, HashSize*2-2)))
	assert.Error(t, err)
}

func TestHasher_MatchesOneShotHash(t *testing.T) {
	h := NewHasher()
	_, _ = h.Write([]byte("hel"))
	_, _ = h.Write([]byte("lo"))
	assert.Equal(t, Hash([]byte("hello")), h.Sum())
}

func TestHasher_Reset(t *testing.T) {
	h := NewHasher()
	_, _ = h.Write([]byte("hello"))
	h.Reset()
	_, _ = h.Write([]byte("world"))
	assert.Equal(t, Hash([]byte("world")), h.Sum())
}

func TestStreamingBuffer_SumCachesUntilNextWrite(t *testing.T) {
	b := NewStreamingBuffer()
	_, _ = b.Write([]byte("abc"))
	first := b.Sum()
	assert.Equal(t, Hash([]byte("abc")), first)

	// Sum again without writing: must return the same cached value.
	assert.Equal(t, first, b.Sum())

	_, _ = b.Write([]byte("def"))
	assert.Equal(t, Hash([]byte("abcdef")), b.Sum())
	assert.Equal(t, 6, b.Len())
	assert.Equal(t, []byte("abcdef"), b.Bytes())
}
