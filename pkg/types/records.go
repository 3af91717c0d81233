package types

import "time"

// EntryType classifies an entry within a container's manifest.
type EntryType string

const (
	EntryTypeFile      EntryType = "file"
	EntryTypeDirectory EntryType = "directory"
	EntryTypeSymlink   EntryType = "symlink"
)

// BlobRefRecord is the global, cross-tenant registry row for a piece
// of content. It is unique on (hash, leaf_size, container). The
// first writer's MimeType wins; later upserts only fill NULLs.
type BlobRefRecord struct {
	ID          int64
	Hash        ContentHash
	LeafSize    int64
	IsContainer bool
	MimeType    string // empty if unknown
	HandlerKey  string // format-handler key that produced this blob, empty if unknown
	CreatedAt   time.Time
}

// Ref reconstructs this record's BlobRef.
func (r BlobRefRecord) Ref() BlobRef {
	return BlobRef{Hash: r.Hash, LeafSize: r.LeafSize, IsContainer: r.IsContainer}
}

// BlobRecord models one tenant's ownership of a globally-registered
// blob. Unique on (tenant_id, blob_ref_id) — the same content may be
// owned by many tenants, but dedup only ever happens within one.
type BlobRecord struct {
	ID        int64
	TenantID  string
	BlobRefID int64
	CreatedAt time.Time
}

// ContainerRecord is the one row per blob that is a container.
type ContainerRecord struct {
	ID         int64
	BlobID     int64
	EntryCount int
	CreatedAt  time.Time
}

// EntryRecord is one child of a container, unique on
// (container_id, internal_path). BlobRefID is nil for an entry with no
// stored content of its own (a directory, or a zero-byte leaf) — its
// bytes are synthesized as an empty buffer at reconstruction time
// rather than fetched, per §4.9 step 3.
type EntryRecord struct {
	ID           int64
	ContainerID  int64
	InternalPath string
	EntryType    EntryType
	BlobRefID    *int64 // the child's global blob_ref row, nil if none
	MTime        *time.Time
	Metadata     []byte // opaque JSON, format-specific
}

// NodeRecord is one row per running process instance; used as the
// `executor` column of an in-progress task claim.
type NodeRecord struct {
	ID            string
	Hostname      string
	LastHeartbeat time.Time
	StartedAt     time.Time
}
