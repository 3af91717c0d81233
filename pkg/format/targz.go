package format

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/cuemby/vault/pkg/vaulterrors"
)

type tarGzFactory struct{}

// NewTarGzFactory returns the handler factory for gzip-compressed tar
// archives. Tier is STORED rather than RECONSTRUCTABLE: unlike a zip
// entry, a gzip stream has no per-entry raw-copy API, and two
// encoders rarely reproduce the same compressed bytes even for
// identical input, so the envelope cannot be rebuilt bit-for-bit.
// Children are still decomposed — the "bonus decomposition for
// indexing" §4.3 describes for this tier.
func NewTarGzFactory() FormatHandlerFactory { return tarGzFactory{} }

func (tarGzFactory) Key() string { return "tar+gzip" }

func (tarGzFactory) Criteria() DetectionCriteria {
	return DetectionCriteria{
		MimeTypes:  []string{"application/gzip", "application/x-gzip"},
		Extensions: []string{".tar.gz", ".tgz"},
		MagicBytes: []MagicMatch{{Offset: 0, Bytes: []byte{0x1f, 0x8b}}},
		Priority:   90,
	}
}

func (tarGzFactory) New(content []byte, _ string) (Handler, error) {
	return &tarGzHandler{content: content}, nil
}

type tarGzHandler struct {
	content []byte
}

func (*tarGzHandler) HasChildren() bool    { return true }
func (*tarGzHandler) IsCompressible() bool { return false }

func (*tarGzHandler) Capabilities() ContainerCapabilities {
	return ContainerCapabilities{
		ReconstructionTier:   TierStored,
		PreservesTimestamps:  true,
		PreservesPermissions: true,
		PreservesOrder:       true,
	}
}

type tarChildIterator struct {
	gz *gzip.Reader
	tr *tar.Reader
}

func (it *tarChildIterator) Next() (ContainerChild, bool, error) {
	hdr, err := it.tr.Next()
	if err == io.EOF {
		return ContainerChild{}, false, nil
	}
	if err != nil {
		return ContainerChild{}, false, fmt.Errorf("format: tar+gzip: read header: %w", err)
	}

	if hdr.Typeflag == tar.TypeDir {
		return ContainerChild{
			Path:     hdr.Name,
			Metadata: EntryMetadata{MTime: hdr.ModTime, Mode: uint32(hdr.Mode)},
		}, true, nil
	}

	content, err := io.ReadAll(it.tr)
	if err != nil {
		return ContainerChild{}, false, fmt.Errorf("format: tar+gzip: read entry %q: %w", hdr.Name, err)
	}

	return ContainerChild{
		Path:     hdr.Name,
		Content:  content,
		Metadata: EntryMetadata{MTime: hdr.ModTime, Mode: uint32(hdr.Mode)},
	}, true, nil
}

func (h *tarGzHandler) ExtractChildren(context.Context) (ChildIterator, error) {
	gz, err := gzip.NewReader(bytes.NewReader(h.content))
	if err != nil {
		return nil, fmt.Errorf("format: tar+gzip: open gzip stream: %w", err)
	}
	return &tarChildIterator{gz: gz, tr: tar.NewReader(gz)}, nil
}

func (*tarGzHandler) Reconstruct(context.Context, []ContainerChild, io.Writer) error {
	return vaulterrors.ErrNotReconstructable
}

func (h *tarGzHandler) ExtractMetadata(context.Context) (map[string]string, error) {
	gz, err := gzip.NewReader(bytes.NewReader(h.content))
	if err != nil {
		return nil, fmt.Errorf("format: tar+gzip: open gzip stream: %w", err)
	}
	defer gz.Close()
	meta := map[string]string{}
	if gz.Name != "" {
		meta["original_name"] = gz.Name
	}
	return meta, nil
}

func (*tarGzHandler) ExtractText(context.Context) (string, error) {
	return "", nil
}
