package format

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type zipEntry struct {
	name, body string
}

func buildTestZip(t *testing.T, entries []zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range entries {
		fw, err := w.Create(e.name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestZipHandler_ExtractChildren(t *testing.T) {
	original := buildTestZip(t, []zipEntry{
		{"a.txt", "hello"},
		{"dir/b.txt", "world, a bit longer this time to exercise deflate"},
	})

	f := NewZipFactory()
	h, err := f.New(original, "archive.zip")
	require.NoError(t, err)
	assert.True(t, h.HasChildren())
	assert.Equal(t, TierReconstructable, h.Capabilities().ReconstructionTier)

	it, err := h.ExtractChildren(context.Background())
	require.NoError(t, err)

	var children []ContainerChild
	for {
		child, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		children = append(children, child)
	}

	require.Len(t, children, 2)
	assert.Equal(t, "a.txt", children[0].Path)
	assert.Equal(t, []byte("hello"), children[0].Content)
	assert.NotEmpty(t, children[0].FormatMetadata)
	assert.Equal(t, "dir/b.txt", children[1].Path)
}

func TestZipHandler_ReconstructIsBitIdentical(t *testing.T) {
	original := buildTestZip(t, []zipEntry{
		{"a.txt", "hello"},
		{"b/c.txt", "some longer content to make deflate actually kick in, repeated repeated repeated"},
	})

	f := NewZipFactory()
	h, err := f.New(original, "archive.zip")
	require.NoError(t, err)

	it, err := h.ExtractChildren(context.Background())
	require.NoError(t, err)

	var children []ContainerChild
	for {
		child, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		children = append(children, child)
	}

	var rebuilt bytes.Buffer
	require.NoError(t, h.Reconstruct(context.Background(), children, &rebuilt))

	assert.Equal(t, original, rebuilt.Bytes())
}

func TestZipHandler_ExtractMetadata(t *testing.T) {
	original := buildTestZip(t, []zipEntry{{"a.txt", "x"}})
	f := NewZipFactory()
	h, err := f.New(original, "archive.zip")
	require.NoError(t, err)

	meta, err := h.ExtractMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", meta["entry_count"])
}
