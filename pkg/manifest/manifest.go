package manifest

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/cuemby/vault/pkg/types"
	"github.com/cuemby/vault/pkg/vaulterrors"
)

// MimeType tags a manifest blob in the registry so a handler-key
// lookup or a rebuild pass never confuses it with regular content.
const MimeType = "application/x-vault-manifest"

// Entry is one child of a container, per §4.8: path, content hash,
// leaf size, container discriminator, entry-type code, optional
// mtime, and opaque format-specific metadata.
type Entry struct {
	Path           string `msgpack:"path"`
	Hash           []byte `msgpack:"hash"`
	LeafSize       int64  `msgpack:"leaf_size"`
	IsContainer    bool   `msgpack:"is_container"`
	EntryType      string `msgpack:"entry_type"`
	MTimeMillis    *int64 `msgpack:"mtime_ms,omitempty"`
	FormatMetadata []byte `msgpack:"format_metadata,omitempty"`
}

// HasBlob reports whether this entry points at stored content at all.
// A directory, or a zero-byte leaf (leafSize <= 0 is illegal for a
// BlobRef), carries no blob: its bytes are synthesized as an empty
// buffer at reconstruction time instead of fetched (§4.9 step 3).
func (e Entry) HasBlob() bool {
	return e.LeafSize > 0 && len(e.Hash) == types.HashSize
}

// Ref reconstructs this entry's BlobRef. Callers must check HasBlob
// first; Ref errors for a no-blob entry rather than minting an
// artificial size-0 BlobRef.
func (e Entry) Ref() (types.BlobRef, error) {
	var hash types.ContentHash
	if len(e.Hash) != types.HashSize {
		return types.BlobRef{}, fmt.Errorf("manifest: entry %q: hash is %d bytes, want %d", e.Path, len(e.Hash), types.HashSize)
	}
	copy(hash[:], e.Hash)
	if e.IsContainer {
		return types.NewContainerRef(hash, e.LeafSize)
	}
	return types.NewLeafRef(hash, e.LeafSize)
}

// Manifest is the full record for one container, per §4.8. There is
// no independent manifest identity: it is serialized and stored at
// exactly the container BlobRef's own object storage key.
type Manifest struct {
	ContainerHash  []byte  `msgpack:"container_hash"`
	ContainerSize  int64   `msgpack:"container_size"`
	FormatKey      string  `msgpack:"format_key"`
	FormatMetadata []byte  `msgpack:"format_metadata,omitempty"`
	Entries        []Entry `msgpack:"entries"`
}

// ContainerRef reconstructs the BlobRef this manifest describes.
func (m Manifest) ContainerRef() (types.BlobRef, error) {
	var hash types.ContentHash
	if len(m.ContainerHash) != types.HashSize {
		return types.BlobRef{}, fmt.Errorf("manifest: container hash is %d bytes, want %d", len(m.ContainerHash), types.HashSize)
	}
	copy(hash[:], m.ContainerHash)
	return types.NewContainerRef(hash, m.ContainerSize)
}

// Encode serializes m to its stored wire form.
func Encode(m Manifest) ([]byte, error) {
	data, err := msgpack.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("manifest: encode: %w", err)
	}
	return data, nil
}

// Decode parses the wire form written by Encode.
func Decode(data []byte) (Manifest, error) {
	var m Manifest
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("manifest: decode: %w: %w", vaulterrors.ErrManifestParseError, err)
	}
	return m, nil
}
