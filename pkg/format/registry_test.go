package format

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFactory struct {
	key      string
	criteria DetectionCriteria
}

func (s stubFactory) Key() string                 { return s.key }
func (s stubFactory) Criteria() DetectionCriteria { return s.criteria }
func (s stubFactory) New(_ []byte, _ string) (Handler, error) {
	return rawHandler{}, nil
}

func TestRegistry_CatchAllWhenNothingMatches(t *testing.T) {
	r := NewRegistry()
	r.Register(stubFactory{key: "zip", criteria: DetectionCriteria{Extensions: []string{".zip"}, Priority: 100}})

	key := r.HandlerKeyFor([]byte("plain text"), "notes.txt", "")
	assert.Equal(t, "raw", key)
}

func TestRegistry_MagicBeatsMimeBeatsExtension(t *testing.T) {
	r := NewRegistry()
	r.Register(stubFactory{
		key: "by-ext",
		criteria: DetectionCriteria{Extensions: []string{".bin"}, Priority: 200},
	})
	r.Register(stubFactory{
		key: "by-mime",
		criteria: DetectionCriteria{MimeTypes: []string{"application/x-custom"}, Priority: 50},
	})
	r.Register(stubFactory{
		key: "by-magic",
		criteria: DetectionCriteria{MagicBytes: []MagicMatch{{Offset: 0, Bytes: []byte{0xCA, 0xFE}}}, Priority: 1},
	})

	key := r.HandlerKeyFor([]byte{0xCA, 0xFE, 0x00}, "file.bin", "application/x-custom")
	assert.Equal(t, "by-magic", key, "magic match must win even at lower priority")

	key = r.HandlerKeyFor([]byte{0x00, 0x00}, "file.bin", "application/x-custom")
	assert.Equal(t, "by-mime", key, "mime match must win over extension when no magic matches")

	key = r.HandlerKeyFor([]byte{0x00, 0x00}, "file.bin", "")
	assert.Equal(t, "by-ext", key)
}

func TestRegistry_TieBrokenByRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(stubFactory{key: "first", criteria: DetectionCriteria{Extensions: []string{".dat"}, Priority: 10}})
	r.Register(stubFactory{key: "second", criteria: DetectionCriteria{Extensions: []string{".dat"}, Priority: 10}})

	key := r.HandlerKeyFor(nil, "a.dat", "")
	assert.Equal(t, "first", key)
}

func TestRegistry_HigherPriorityWinsWithinSameMatchKind(t *testing.T) {
	r := NewRegistry()
	r.Register(stubFactory{key: "low", criteria: DetectionCriteria{Extensions: []string{".dat"}, Priority: 10}})
	r.Register(stubFactory{key: "high", criteria: DetectionCriteria{Extensions: []string{".dat"}, Priority: 20}})

	key := r.HandlerKeyFor(nil, "a.dat", "")
	assert.Equal(t, "high", key)
}

func TestDefaultRegistry_SelectsZipByMagic(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	fw, err := zw.Create("hello.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	r := NewDefaultRegistry()
	h, err := r.Select(buf.Bytes(), "archive.zip", "")
	require.NoError(t, err)
	assert.True(t, h.HasChildren())
}

func TestDefaultRegistry_FallsBackToRawForUnknownContent(t *testing.T) {
	r := NewDefaultRegistry()
	h, err := r.Select([]byte("just some text"), "notes.txt", "")
	require.NoError(t, err)
	assert.False(t, h.HasChildren())
}
