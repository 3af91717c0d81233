package types

import (
	"encoding/hex"
	"fmt"
	"sync"

	"lukechampine.com/blake3"
)

// HashSize is the length in bytes of a ContentHash (BLAKE3 output
// truncated to 128 bits).
const HashSize = 16

// ContentHash is a 128-bit BLAKE3 digest. It hex-encodes to exactly
// 32 lowercase characters and is the leaf of every BlobRef.
type ContentHash [HashSize]byte

// Hash computes the ContentHash of data in one shot.
func Hash(data []byte) ContentHash {
	h := blake3.New(HashSize, nil)
	_, _ = h.Write(data)
	var out ContentHash
	copy(out[:], h.Sum(nil))
	return out
}

// String returns the 32-character lowercase hex encoding.
func (h ContentHash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash (never a valid digest of
// any non-empty input, used as a sentinel for "not yet computed").
func (h ContentHash) IsZero() bool {
	return h == ContentHash{}
}

// ParseContentHash decodes a 32-character hex string into a ContentHash.
func ParseContentHash(s string) (ContentHash, error) {
	var out ContentHash
	if len(s) != HashSize*2 {
		return out, fmt.Errorf("types: content hash %q: want %d hex chars, got %d", s, HashSize*2, len(s))
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("types: content hash %q: %w", s, err)
	}
	copy(out[:], decoded)
	return out, nil
}

// Hasher incrementally computes a ContentHash as bytes are written to
// it. It satisfies io.Writer so callers can hash data as it streams
// through without buffering the whole input twice.
type Hasher struct {
	h *blake3.Hasher
}

// NewHasher returns a fresh incremental hasher.
func NewHasher() *Hasher {
	return &Hasher{h: blake3.New(HashSize, nil)}
}

func (w *Hasher) Write(p []byte) (int, error) {
	return w.h.Write(p)
}

// Sum returns the ContentHash of everything written so far without
// consuming the hasher's state (further writes continue accumulating).
func (w *Hasher) Sum() ContentHash {
	var out ContentHash
	copy(out[:], w.h.Sum(nil))
	return out
}

// Reset clears the hasher back to its initial state.
func (w *Hasher) Reset() {
	w.h.Reset()
}

// StreamingBuffer is a write-accumulating buffer whose content hash is
// computed lazily and cached. Any write at or before the current
// write position invalidates the cached hash; the next call to Sum
// recomputes it from scratch. This matches the "streamable, hash
// invalidated on mutation, recomputed lazily" buffer abstraction used
// while handlers build up child content during extraction.
type StreamingBuffer struct {
	mu     sync.Mutex
	data   []byte
	dirty  bool
	cached ContentHash
}

// NewStreamingBuffer returns an empty buffer.
func NewStreamingBuffer() *StreamingBuffer {
	return &StreamingBuffer{dirty: true}
}

// Write appends p to the buffer and marks the cached hash dirty.
func (b *StreamingBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	b.dirty = true
	return len(p), nil
}

// Bytes returns the buffer's current content. Callers must not mutate
// the returned slice.
func (b *StreamingBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data
}

// Len returns the number of bytes written so far.
func (b *StreamingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Sum returns the ContentHash of the buffer's current content,
// recomputing only if a write occurred since the last call.
func (b *StreamingBuffer) Sum() ContentHash {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dirty {
		b.cached = Hash(b.data)
		b.dirty = false
	}
	return b.cached
}
