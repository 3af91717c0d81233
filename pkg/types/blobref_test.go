package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobRef_StringRoundTrip_Leaf(t *testing.T) {
	h := Hash([]byte("leaf content"))
	ref, err := NewLeafRef(h, 12)
	require.NoError(t, err)

	key := ref.String()
	assert.False(t, ref.IsContainer)
	assert.NotContains(t, key, "_")

	parsed, err := ParseBlobRef(key)
	require.NoError(t, err)
	assert.True(t, ref.Equal(parsed))
}

func TestBlobRef_StringRoundTrip_Container(t *testing.T) {
	h := Hash([]byte("manifest bytes"))
	ref, err := NewContainerRef(h, 512)
	require.NoError(t, err)

	key := ref.String()
	assert.True(t, ref.IsContainer)
	assert.Equal(t, byte('_'), key[len(key)-1])

	parsed, err := ParseBlobRef(key)
	require.NoError(t, err)
	assert.True(t, ref.Equal(parsed))
	assert.True(t, parsed.IsContainer)
}

func TestNewLeafRef_RejectsNegativeSize(t *testing.T) {
	_, err := NewLeafRef(Hash(nil), -1)
	assert.Error(t, err)
}

func TestNewLeafRef_RejectsZeroSize(t *testing.T) {
	_, err := NewLeafRef(Hash(nil), 0)
	assert.Error(t, err)
}

func TestNewContainerRef_RejectsZeroSize(t *testing.T) {
	_, err := NewContainerRef(Hash(nil), 0)
	assert.Error(t, err)
}

func TestParseBlobRef_MissingSeparator(t *testing.T) {
	_, err := ParseBlobRef("notavalidkey")
	assert.Error(t, err)
}

func TestParseBlobRef_BadHash(t *testing.T) {
	_, err := ParseBlobRef("zz-10")
	assert.Error(t, err)
}

func TestParseBlobRef_BadSize(t *testing.T) {
	h := Hash([]byte("x")).String()
	_, err := ParseBlobRef(h + "-notanumber")
	assert.Error(t, err)
}

func TestBlobRef_Equal(t *testing.T) {
	h := Hash([]byte("a"))
	a, _ := NewLeafRef(h, 1)
	b, _ := NewLeafRef(h, 1)
	c, _ := NewContainerRef(h, 1)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
