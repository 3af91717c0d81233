package objectstore

import (
	"context"

	"github.com/cuemby/vault/pkg/types"
)

// Store is the tenant-scoped content-addressed blob interface that
// both backends implement. Tenant ids are opaque strings (UUID
// preferred, numeric fallback accepted).
type Store interface {
	// Read fetches the bytes stored at ref. Returns
	// vaulterrors.ErrBlobNotFound if the key is absent.
	Read(ctx context.Context, tenantID string, ref types.BlobRef) ([]byte, error)

	// Create writes data at ref under create-new semantics. Callers
	// MUST NOT attempt to overwrite existing content; because identical
	// content always maps to an identical key, a repeated create of the
	// same bytes is harmless, and a repeated create of different bytes
	// under the same key is a programming error surfaced as
	// vaulterrors.ErrBlobAlreadyExists when the backend's write-once
	// check is enabled.
	Create(ctx context.Context, tenantID string, ref types.BlobRef, data []byte, mimeHint string) error

	// Exists reports whether ref is present for tenantID.
	Exists(ctx context.Context, tenantID string, ref types.BlobRef) (bool, error)

	// Delete removes ref. Returns vaulterrors.ErrBlobNotFound if absent.
	Delete(ctx context.Context, tenantID string, ref types.BlobRef) error

	// DeleteTenant idempotently removes every blob owned by tenantID,
	// plus the tenant's root container/bucket itself.
	DeleteTenant(ctx context.Context, tenantID string) error

	// ListTenants streams every known tenant id. The returned error
	// channel carries at most one error, after which both channels are
	// closed.
	ListTenants(ctx context.Context) (<-chan string, <-chan error)

	// ListContainers streams only the BlobRefs for tenantID whose key
	// ends in the container suffix — a scan of container keys, not a
	// read of every object.
	ListContainers(ctx context.Context, tenantID string) (<-chan types.BlobRef, <-chan error)
}
