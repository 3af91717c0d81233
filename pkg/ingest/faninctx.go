package ingest

import (
	"sync/atomic"
	"time"

	"github.com/cuemby/vault/pkg/format"
	"github.com/cuemby/vault/pkg/types"
)

// ChildResult is one resolved child destined for a container's
// manifest, held at the index its extractChildren call produced it.
// Ref is nil for a directory or a zero-byte leaf: neither has content
// to store, so neither gets a BlobRef (leafSize must be > 0).
type ChildResult struct {
	Path           string
	Ref            *types.BlobRef
	EntryType      types.EntryType
	MTime          *time.Time
	FormatMetadata []byte
}

// FanInContext is the atomic counter plus ordered result collector of
// §4.6: one per container being decomposed, parented to an optional
// enclosing FanInContext so a nested container's completion can push
// its own ChildResult into the container that holds it.
type FanInContext struct {
	remaining atomic.Int64
	results   []ChildResult

	parent      *FanInContext
	parentIndex int

	containerRef types.BlobRef
	filename     string
	handlerKey   string
	tenantID     string
	taskID       string
	bonus        bool
	tier         format.ReconstructionTier

	// entryMTime and entryFormatMetadata are inherited from the
	// ContainerChild that caused this container to be ingested (empty
	// for a root ingest); they become the ChildResult pushed to the
	// parent once this fan-in completes.
	entryMTime          *time.Time
	entryFormatMetadata []byte

	// formatMeta is the handler's format-global metadata, carried
	// into the manifest's FormatMetadata field.
	formatMeta []byte
}

// resolve records result at index and reports whether that was the
// last outstanding child. The atomic decrement is the only
// synchronization point within a FanInContext (§4.6): each index is
// written by exactly one goroutine before the decrement, so the
// goroutine that observes the counter reach zero is guaranteed to see
// every prior write to results.
func (f *FanInContext) resolve(index int, result ChildResult) bool {
	f.results[index] = result
	return f.remaining.Add(-1) == 0
}
