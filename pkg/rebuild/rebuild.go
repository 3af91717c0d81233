package rebuild

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/vault/pkg/index"
	"github.com/cuemby/vault/pkg/manifest"
	"github.com/cuemby/vault/pkg/objectstore"
	"github.com/cuemby/vault/pkg/types"
)

// rebuildIndex is the slice of *index.Index this package needs,
// narrowed the same way pkg/ingest narrows its own index dependency.
type rebuildIndex interface {
	DedupGate(ctx context.Context, tenantID string, ref types.BlobRef, mimeHint, handlerKey string) (blobRefID int64, blobID int64, alreadyOwned bool, err error)
	CreateContainer(ctx context.Context, blobID int64, entries []index.ManifestEntry) (int64, error)
	TruncateTenant(ctx context.Context, tenantID string) error
}

// Rebuilder implements §4.10's two-pass registry-then-structure walk.
type Rebuilder struct {
	store objectstore.Store
	idx   rebuildIndex
}

// NewRebuilder wires a Rebuilder over store and idx.
func NewRebuilder(store objectstore.Store, idx rebuildIndex) *Rebuilder {
	return &Rebuilder{store: store, idx: idx}
}

type cachedManifest struct {
	blobID   int64
	manifest manifest.Manifest
}

// Rebuild walks every container key object storage holds for
// tenantID and restores the index rows that describe it. When
// truncate is true, the tenant's existing rows are deleted first;
// this never touches another tenant's rows (§4.10).
//
// Pass 1 upserts the blob_ref/blob registry rows for every container
// and every one of its entries, so by the time pass 2 runs, every
// blob_ref a container or entry row could reference already exists.
// Pass 2 then inserts the container and entry rows themselves.
func (r *Rebuilder) Rebuild(ctx context.Context, tenantID string, truncate bool) (int, error) {
	if truncate {
		if err := r.idx.TruncateTenant(ctx, tenantID); err != nil {
			return 0, fmt.Errorf("rebuild: truncate tenant: %w", err)
		}
	}

	refCh, errCh := r.store.ListContainers(ctx, tenantID)
	var cached []cachedManifest

	for ref := range refCh {
		data, err := r.store.Read(ctx, tenantID, ref)
		if err != nil {
			return 0, fmt.Errorf("rebuild: read container %s: %w", ref.String(), err)
		}
		m, err := manifest.Decode(data)
		if err != nil {
			return 0, fmt.Errorf("rebuild: decode manifest %s: %w", ref.String(), err)
		}

		_, containerBlobID, _, err := r.idx.DedupGate(ctx, tenantID, ref, manifest.MimeType, m.FormatKey)
		if err != nil {
			return 0, fmt.Errorf("rebuild: dedup gate container %s: %w", ref.String(), err)
		}

		for _, e := range m.Entries {
			if !e.HasBlob() {
				continue
			}
			childRef, err := e.Ref()
			if err != nil {
				return 0, fmt.Errorf("rebuild: entry %q ref: %w", e.Path, err)
			}
			if _, _, _, err := r.idx.DedupGate(ctx, tenantID, childRef, "", ""); err != nil {
				return 0, fmt.Errorf("rebuild: dedup gate entry %q: %w", e.Path, err)
			}
		}

		cached = append(cached, cachedManifest{blobID: containerBlobID, manifest: m})
	}
	if err := <-errCh; err != nil {
		return 0, fmt.Errorf("rebuild: list containers: %w", err)
	}

	for _, c := range cached {
		entries := make([]index.ManifestEntry, len(c.manifest.Entries))
		for i, e := range c.manifest.Entries {
			var ref *types.BlobRef
			if e.HasBlob() {
				r, err := e.Ref()
				if err != nil {
					return 0, fmt.Errorf("rebuild: entry %q ref: %w", e.Path, err)
				}
				ref = &r
			}
			entries[i] = index.ManifestEntry{
				InternalPath: e.Path,
				EntryType:    types.EntryType(e.EntryType),
				Ref:          ref,
				MTime:        mtimeFromMillis(e.MTimeMillis),
				Metadata:     json.RawMessage(e.FormatMetadata),
			}
		}
		if _, err := r.idx.CreateContainer(ctx, c.blobID, entries); err != nil {
			return 0, fmt.Errorf("rebuild: create container (blob %d): %w", c.blobID, err)
		}
	}

	return len(cached), nil
}

func mtimeFromMillis(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms)
	return &t
}
