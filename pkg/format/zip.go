package format

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

type zipFactory struct{}

// NewZipFactory returns the handler factory for the ZIP container
// format. Grounded on stdlib archive/zip: no example repo wraps ZIP
// handling in a third-party archiver, and archive/zip's OpenRaw/
// CreateRaw pair (added for exactly this "copy an entry verbatim"
// use case) is what makes bit-identical reconstruction possible.
func NewZipFactory() FormatHandlerFactory { return zipFactory{} }

func (zipFactory) Key() string { return "zip" }

func (zipFactory) Criteria() DetectionCriteria {
	return DetectionCriteria{
		MimeTypes:  []string{"application/zip"},
		Extensions: []string{".zip"},
		MagicBytes: []MagicMatch{{Offset: 0, Bytes: []byte("PK\x03\x04")}},
		Priority:   100,
	}
}

// New parses content as a zip central directory. content is nil when
// the registry resolves this handler purely for Reconstruct (§4.9
// looks up a Handler by format-key alone, with no original container
// bytes to hand it) — Reconstruct never reads h.reader, so a handler
// with no reader is still fully usable for that one call.
func (zipFactory) New(content []byte, _ string) (Handler, error) {
	if content == nil {
		return &zipHandler{}, nil
	}
	r, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("format: zip: open: %w", err)
	}
	return &zipHandler{reader: r}, nil
}

type zipHandler struct {
	reader *zip.Reader
}

func (*zipHandler) HasChildren() bool    { return true }
func (*zipHandler) IsCompressible() bool { return false }

func (*zipHandler) Capabilities() ContainerCapabilities {
	return ContainerCapabilities{
		ReconstructionTier:   TierReconstructable,
		PreservesTimestamps:  true,
		PreservesPermissions: true,
		PreservesOrder:       true,
	}
}

// zipEntryMeta is the opaque FormatMetadata a zip child carries so
// Reconstruct can rebuild the entry's exact header and raw (still
// compressed) payload — not just re-deflate the decompressed content,
// which would not reproduce the original bytes.
type zipEntryMeta struct {
	Method             uint16
	CRC32              uint32
	CompressedSize64   uint64
	UncompressedSize64 uint64
	Flags              uint16
	ExternalAttrs      uint32
	Comment            string
	Extra              []byte
	RawData            []byte
}

type zipChildIterator struct {
	files []*zip.File
	pos   int
}

func (it *zipChildIterator) Next() (ContainerChild, bool, error) {
	if it.pos >= len(it.files) {
		return ContainerChild{}, false, nil
	}
	f := it.files[it.pos]
	it.pos++

	if f.FileInfo().IsDir() {
		return ContainerChild{
			Path:     f.Name,
			Metadata: EntryMetadata{MTime: f.Modified, Mode: uint32(f.Mode())},
		}, true, nil
	}

	decompressed, err := f.Open()
	if err != nil {
		return ContainerChild{}, false, fmt.Errorf("format: zip: open entry %q: %w", f.Name, err)
	}
	content, err := io.ReadAll(decompressed)
	decompressed.Close()
	if err != nil {
		return ContainerChild{}, false, fmt.Errorf("format: zip: read entry %q: %w", f.Name, err)
	}

	raw, err := f.OpenRaw()
	if err != nil {
		return ContainerChild{}, false, fmt.Errorf("format: zip: open raw entry %q: %w", f.Name, err)
	}
	rawData, err := io.ReadAll(raw)
	if err != nil {
		return ContainerChild{}, false, fmt.Errorf("format: zip: read raw entry %q: %w", f.Name, err)
	}

	meta, err := json.Marshal(zipEntryMeta{
		Method:             f.Method,
		CRC32:              f.CRC32,
		CompressedSize64:   f.CompressedSize64,
		UncompressedSize64: f.UncompressedSize64,
		Flags:              f.Flags,
		ExternalAttrs:      f.ExternalAttrs,
		Comment:            f.Comment,
		Extra:              f.Extra,
		RawData:            rawData,
	})
	if err != nil {
		return ContainerChild{}, false, fmt.Errorf("format: zip: marshal entry metadata %q: %w", f.Name, err)
	}

	return ContainerChild{
		Path:           f.Name,
		Content:        content,
		FormatMetadata: meta,
		Metadata:       EntryMetadata{MTime: f.Modified, Mode: uint32(f.Mode())},
	}, true, nil
}

func (h *zipHandler) ExtractChildren(context.Context) (ChildIterator, error) {
	if h.reader == nil {
		return nil, fmt.Errorf("format: zip: extract children: handler has no backing content")
	}
	files := make([]*zip.File, len(h.reader.File))
	copy(files, h.reader.File)
	return &zipChildIterator{files: files}, nil
}

// Reconstruct rebuilds the archive by re-emitting each entry's raw
// (still-compressed) bytes under its original header, via
// zip.Writer.CreateRaw — the only way to guarantee the output matches
// the input bit-for-bit, since re-deflating decompressed content is
// not guaranteed to reproduce the original compressor's output.
func (*zipHandler) Reconstruct(_ context.Context, children []ContainerChild, sink io.Writer) error {
	w := zip.NewWriter(sink)
	for _, child := range children {
		var meta zipEntryMeta
		if len(child.FormatMetadata) > 0 {
			if err := json.Unmarshal(child.FormatMetadata, &meta); err != nil {
				return fmt.Errorf("format: zip: unmarshal entry metadata %q: %w", child.Path, err)
			}
		}

		fh := &zip.FileHeader{
			Name:               child.Path,
			Method:             meta.Method,
			Modified:           child.Metadata.MTime,
			Flags:              meta.Flags,
			ExternalAttrs:      meta.ExternalAttrs,
			Comment:            meta.Comment,
			Extra:              meta.Extra,
			CRC32:              meta.CRC32,
			CompressedSize64:   meta.CompressedSize64,
			UncompressedSize64: meta.UncompressedSize64,
		}

		if len(meta.RawData) == 0 && child.Content == nil {
			// directory entry
			if _, err := w.CreateHeader(fh); err != nil {
				return fmt.Errorf("format: zip: write directory %q: %w", child.Path, err)
			}
			continue
		}

		entryWriter, err := w.CreateRaw(fh)
		if err != nil {
			return fmt.Errorf("format: zip: create raw entry %q: %w", child.Path, err)
		}
		if _, err := entryWriter.Write(meta.RawData); err != nil {
			return fmt.Errorf("format: zip: write raw entry %q: %w", child.Path, err)
		}
	}
	return w.Close()
}

func (h *zipHandler) ExtractMetadata(context.Context) (map[string]string, error) {
	if h.reader == nil {
		return nil, nil
	}
	return map[string]string{"entry_count": fmt.Sprintf("%d", len(h.reader.File))}, nil
}

func (*zipHandler) ExtractText(context.Context) (string, error) {
	return "", nil
}
