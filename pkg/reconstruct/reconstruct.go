package reconstruct

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/cuemby/vault/pkg/format"
	"github.com/cuemby/vault/pkg/manifest"
	"github.com/cuemby/vault/pkg/objectstore"
	"github.com/cuemby/vault/pkg/types"
)

// Reconstructor rebuilds container bytes per §4.9.
type Reconstructor struct {
	store    objectstore.Store
	registry *format.Registry
}

// NewReconstructor wires a Reconstructor over store. registry
// defaults to format.NewDefaultRegistry when nil.
func NewReconstructor(store objectstore.Store, registry *format.Registry) *Reconstructor {
	if registry == nil {
		registry = format.NewDefaultRegistry()
	}
	return &Reconstructor{store: store, registry: registry}
}

// Reconstruct rebuilds ref's original bytes. ref must be a leaf or a
// container BlobRef previously produced by ingestion; for a leaf this
// is just a Read.
func (r *Reconstructor) Reconstruct(ctx context.Context, tenantID string, ref types.BlobRef) ([]byte, error) {
	if !ref.IsContainer {
		return r.store.Read(ctx, tenantID, ref)
	}

	data, err := r.store.Read(ctx, tenantID, ref)
	if err != nil {
		return nil, fmt.Errorf("reconstruct: read manifest: %w", err)
	}
	m, err := manifest.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("reconstruct: decode manifest: %w", err)
	}

	handler, err := r.registry.NewByKey(m.FormatKey, nil, "")
	if err != nil {
		return nil, fmt.Errorf("reconstruct: resolve handler %q: %w", m.FormatKey, err)
	}

	children := make([]format.ContainerChild, len(m.Entries))
	for i, entry := range m.Entries {
		child, err := r.resolveChild(ctx, tenantID, entry)
		if err != nil {
			return nil, fmt.Errorf("reconstruct: entry %q: %w", entry.Path, err)
		}
		children[i] = child
	}

	var sink bytes.Buffer
	if err := handler.Reconstruct(ctx, children, &sink); err != nil {
		return nil, fmt.Errorf("reconstruct: %s: %w", m.FormatKey, err)
	}
	return sink.Bytes(), nil
}

func (r *Reconstructor) resolveChild(ctx context.Context, tenantID string, entry manifest.Entry) (format.ContainerChild, error) {
	var mtime time.Time
	if entry.MTimeMillis != nil {
		mtime = time.UnixMilli(*entry.MTimeMillis)
	}
	meta := format.EntryMetadata{MTime: mtime}

	// A directory, or any entry with no blob of its own (a zero-byte
	// leaf), has no BlobRef to derive: synthesize an empty buffer
	// rather than fetch, per §4.9 step 3.
	if types.EntryType(entry.EntryType) == types.EntryTypeDirectory || !entry.HasBlob() {
		return format.ContainerChild{
			Path: entry.Path, FormatMetadata: entry.FormatMetadata, Metadata: meta,
		}, nil
	}

	ref, err := entry.Ref()
	if err != nil {
		return format.ContainerChild{}, err
	}

	var content []byte
	if ref.IsContainer {
		content, err = r.Reconstruct(ctx, tenantID, ref)
	} else {
		content, err = r.store.Read(ctx, tenantID, ref)
	}
	if err != nil {
		return format.ContainerChild{}, err
	}

	return format.ContainerChild{
		Path: entry.Path, Content: content,
		FormatMetadata: entry.FormatMetadata, Metadata: meta,
	}, nil
}
