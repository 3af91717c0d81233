package index

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuemby/vault/pkg/types"
)

// ManifestEntry is one child row to persist alongside a container,
// mirroring the manifest codec's entry shape (§4.8). Ref is nil for an
// entry with no stored content of its own (a directory, or a
// zero-byte leaf) — its blob_ref_id column is left NULL.
type ManifestEntry struct {
	InternalPath string
	EntryType    types.EntryType
	Ref          *types.BlobRef
	MTime        *time.Time
	Metadata     json.RawMessage
}

// CreateContainer inserts the container row (keyed by its already
// dedup-gated blobID) and its entries as a single unit, per §4.6's
// fan-in completion step. An entry with a Ref must have already been
// dedup-gated by the caller; an entry with no Ref (a directory, or a
// zero-byte leaf) gets a NULL blob_ref_id.
func (x *Index) CreateContainer(ctx context.Context, blobID int64, entries []ManifestEntry) (int64, error) {
	tx, err := x.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("index: create container begin: %w", err)
	}
	defer tx.Rollback()

	var containerID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO container (blob_id, entry_count)
		VALUES ($1, $2)
		ON CONFLICT (blob_id) DO UPDATE SET entry_count = EXCLUDED.entry_count
		RETURNING id
	`, blobID, len(entries)).Scan(&containerID)
	if err != nil {
		return 0, fmt.Errorf("index: create container: %w", err)
	}

	for _, e := range entries {
		var blobRefID *int64
		if e.Ref != nil {
			id, lookupErr := blobRefIDFor(ctx, tx, *e.Ref)
			if lookupErr != nil {
				return 0, fmt.Errorf("index: create container entry %s: %w", e.InternalPath, lookupErr)
			}
			blobRefID = &id
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entry (container_id, internal_path, entry_type, blob_ref_id, mtime, metadata)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (container_id, internal_path) DO UPDATE SET
				entry_type  = EXCLUDED.entry_type,
				blob_ref_id = EXCLUDED.blob_ref_id,
				mtime       = EXCLUDED.mtime,
				metadata    = EXCLUDED.metadata
		`, containerID, e.InternalPath, string(e.EntryType), blobRefID, e.MTime, nullableJSON(e.Metadata)); err != nil {
			return 0, fmt.Errorf("index: create container entry %s: %w", e.InternalPath, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("index: create container commit: %w", err)
	}
	return containerID, nil
}

func blobRefIDFor(ctx context.Context, tx *sqlx.Tx, ref types.BlobRef) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		SELECT id FROM blob_ref WHERE hash = $1 AND leaf_size = $2 AND is_container = $3
	`, ref.Hash[:], ref.LeafSize, ref.IsContainer).Scan(&id)
	if err != nil {
		return 0, translateNotFound(err)
	}
	return id, nil
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// ListEntries returns every entry belonging to containerBlobID's
// container row, ordered by internal_path. This is not necessarily the
// order of the manifest's entries, which follow the container's own
// extraction order.
func (x *Index) ListEntries(ctx context.Context, containerBlobID int64) ([]types.EntryRecord, error) {
	var rows []entryRow
	err := x.db.SelectContext(ctx, &rows, `
		SELECT e.id, e.container_id, e.internal_path, e.entry_type, e.blob_ref_id, e.mtime, e.metadata
		FROM entry e
		JOIN container c ON c.id = e.container_id
		WHERE c.blob_id = $1
		ORDER BY e.internal_path
	`, containerBlobID)
	if err != nil {
		return nil, fmt.Errorf("index: list entries: %w", err)
	}

	out := make([]types.EntryRecord, len(rows))
	for i, r := range rows {
		out[i] = r.toRecord()
	}
	return out, nil
}

type entryRow struct {
	ID           int64      `db:"id"`
	ContainerID  int64      `db:"container_id"`
	InternalPath string     `db:"internal_path"`
	EntryType    string     `db:"entry_type"`
	BlobRefID    *int64     `db:"blob_ref_id"`
	MTime        *time.Time `db:"mtime"`
	Metadata     []byte     `db:"metadata"`
}

func (r entryRow) toRecord() types.EntryRecord {
	return types.EntryRecord{
		ID:           r.ID,
		ContainerID:  r.ContainerID,
		InternalPath: r.InternalPath,
		EntryType:    types.EntryType(r.EntryType),
		BlobRefID:    r.BlobRefID,
		MTime:        r.MTime,
		Metadata:     r.Metadata,
	}
}
