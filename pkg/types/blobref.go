package types

import (
	"fmt"
	"strconv"
	"strings"
)

// BlobRef is the compound identity of a stored blob: its content
// hash, its leaf size in bytes, and whether it is a container
// (manifest) blob or an opaque leaf. Once callers hold a BlobRef they
// know exactly which storage key to read and how to interpret the
// bytes behind it — isContainer is a discriminator, not a guess.
type BlobRef struct {
	Hash        ContentHash
	LeafSize    int64
	IsContainer bool
}

// NewLeafRef builds a BlobRef for an opaque leaf blob.
func NewLeafRef(hash ContentHash, size int64) (BlobRef, error) {
	return newBlobRef(hash, size, false)
}

// NewContainerRef builds a BlobRef for a container (manifest) blob.
func NewContainerRef(hash ContentHash, size int64) (BlobRef, error) {
	return newBlobRef(hash, size, true)
}

func newBlobRef(hash ContentHash, size int64, isContainer bool) (BlobRef, error) {
	if size <= 0 {
		return BlobRef{}, fmt.Errorf("types: blob ref: leaf size must be > 0, got %d", size)
	}
	return BlobRef{Hash: hash, LeafSize: size, IsContainer: isContainer}, nil
}

// String renders the canonical storage key: "{hex32}-{size}" for
// leaves, "{hex32}-{size}_" for containers.
func (r BlobRef) String() string {
	if r.IsContainer {
		return fmt.Sprintf("%s-%d_", r.Hash.String(), r.LeafSize)
	}
	return fmt.Sprintf("%s-%d", r.Hash.String(), r.LeafSize)
}

// ParseBlobRef is the strict inverse of BlobRef.String.
func ParseBlobRef(key string) (BlobRef, error) {
	isContainer := strings.HasSuffix(key, "_")
	body := key
	if isContainer {
		body = strings.TrimSuffix(key, "_")
	}

	idx := strings.LastIndexByte(body, '-')
	if idx < 0 {
		return BlobRef{}, fmt.Errorf("types: blob ref %q: missing '-' separator", key)
	}

	hexPart, sizePart := body[:idx], body[idx+1:]
	hash, err := ParseContentHash(hexPart)
	if err != nil {
		return BlobRef{}, fmt.Errorf("types: blob ref %q: %w", key, err)
	}

	size, err := strconv.ParseInt(sizePart, 10, 64)
	if err != nil {
		return BlobRef{}, fmt.Errorf("types: blob ref %q: invalid size: %w", key, err)
	}

	return newBlobRef(hash, size, isContainer)
}

// Equal reports structural equality.
func (r BlobRef) Equal(other BlobRef) bool {
	return r.Hash == other.Hash && r.LeafSize == other.LeafSize && r.IsContainer == other.IsContainer
}
