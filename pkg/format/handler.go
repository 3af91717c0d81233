package format

import (
	"context"
	"io"
	"time"
)

// ReconstructionTier classifies how faithfully a container's original
// bytes can be recovered from its decomposed children (§4.3).
type ReconstructionTier string

const (
	// RECONSTRUCTABLE: original bytes derivable from children + manifest.
	// Only the leaves and the manifest need to be stored.
	TierReconstructable ReconstructionTier = "RECONSTRUCTABLE"
	// STORED: original cannot be rebuilt from children (e.g. proprietary
	// archivers). The whole container is kept as a leaf; children are
	// decomposed anyway as a bonus, for indexing only.
	TierStored ReconstructionTier = "STORED"
	// CONTENTS_ONLY: contents are extracted but the envelope is discarded.
	TierContentsOnly ReconstructionTier = "CONTENTS_ONLY"
)

// ContainerCapabilities describes what a container Handler can promise
// about reconstruction. Only meaningful when HasChildren is true.
type ContainerCapabilities struct {
	ReconstructionTier   ReconstructionTier
	PreservesTimestamps  bool
	PreservesPermissions bool
	PreservesOrder       bool
}

// EntryMetadata is the portable, format-independent half of a child's
// metadata: the part every container format can express.
type EntryMetadata struct {
	MTime time.Time
	Mode  uint32
}

// ContainerChild is one member of a container, yielded lazily by
// Handler.ExtractChildren. Content is buffered in memory; callers that
// need to stream large children should read Size first and decide
// whether to special-case it — §4.3 does not require streaming
// children, only that each child carry its own buffered content.
type ContainerChild struct {
	Path string
	// Content is this child's decoded bytes (for a zip entry, the
	// decompressed data; the still-compressed form travels in
	// FormatMetadata). For a directory entry, Content is nil.
	Content []byte
	// FormatMetadata is opaque, format-specific state (e.g. a zip
	// entry's compression method and original header fields) that
	// Reconstruct needs to reproduce this child bit-for-bit. It has no
	// meaning outside the Handler that produced it.
	FormatMetadata []byte
	Metadata       EntryMetadata
}

// ChildIterator is the "lazy sequence" of §4.3: children are pulled
// one at a time rather than materialized up front, so a container
// with thousands of entries does not force them all into memory
// before the first one can be indexed.
type ChildIterator interface {
	// Next returns the next child. ok is false once the sequence is
	// exhausted; err is non-nil only on a read failure mid-sequence.
	Next() (child ContainerChild, ok bool, err error)
}

// Handler is the per-blob contract of §4.3.
type Handler interface {
	// HasChildren discriminates leaf vs container.
	HasChildren() bool
	// IsCompressible is an advisory hint to the storage backend: false
	// for content that is already compressed (e.g. a jpeg or a gzip
	// member), so the backend does not waste a compression pass on it.
	IsCompressible() bool
	// Capabilities is only meaningful if HasChildren is true.
	Capabilities() ContainerCapabilities
	// ExtractChildren returns the lazy sequence of this container's
	// immediate children. Only valid if HasChildren is true.
	ExtractChildren(ctx context.Context) (ChildIterator, error)
	// Reconstruct rebuilds the original bytes from children into sink.
	// Only required for TierReconstructable; other tiers may return
	// ErrNotReconstructable.
	Reconstruct(ctx context.Context, children []ContainerChild, sink io.Writer) error
	// ExtractMetadata returns advisory key/value metadata for indexing.
	ExtractMetadata(ctx context.Context) (map[string]string, error)
	// ExtractText returns advisory plain-text content for indexing, or
	// an empty string if this format has none.
	ExtractText(ctx context.Context) (string, error)
}
