package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/vault/pkg/types"
)

// DedupGate implements §4.7: given a tenant and a BlobRef, decide how
// much (if anything) needs inserting. The three shapes:
//
//	(a) tenant already owns this content  -> insert nothing
//	(b) content exists, tenant doesn't own it -> insert blob row only
//	(c) content is new                    -> insert blob_ref and blob
//
// Both inserts use upsert-returning semantics so concurrent callers
// racing on the same content converge on the same ids instead of
// erroring.
func (x *Index) DedupGate(ctx context.Context, tenantID string, ref types.BlobRef, mimeHint, handlerKey string) (blobRefID int64, blobID int64, alreadyOwned bool, err error) {
	tx, err := x.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, false, fmt.Errorf("index: dedup gate begin: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO blob_ref (hash, leaf_size, is_container, mime_type, handler_key)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (hash, leaf_size, is_container) DO UPDATE SET
			mime_type   = CASE WHEN blob_ref.mime_type = '' THEN EXCLUDED.mime_type ELSE blob_ref.mime_type END,
			handler_key = CASE WHEN blob_ref.handler_key = '' THEN EXCLUDED.handler_key ELSE blob_ref.handler_key END
		RETURNING id
	`, ref.Hash[:], ref.LeafSize, ref.IsContainer, mimeHint, handlerKey).Scan(&blobRefID)
	if err != nil {
		return 0, 0, false, fmt.Errorf("index: dedup gate upsert blob_ref: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO blob (tenant_id, blob_ref_id)
		VALUES ($1, $2)
		ON CONFLICT (tenant_id, blob_ref_id) DO NOTHING
		RETURNING id
	`, tenantID, blobRefID).Scan(&blobID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// ON CONFLICT DO NOTHING left no row to RETURN: the tenant
		// already owns this content (shape a); fetch its id.
		if err := tx.QueryRowContext(ctx, `SELECT id FROM blob WHERE tenant_id = $1 AND blob_ref_id = $2`, tenantID, blobRefID).Scan(&blobID); err != nil {
			return 0, 0, false, fmt.Errorf("index: dedup gate lookup blob: %w", err)
		}
		alreadyOwned = true
	case err != nil:
		return 0, 0, false, fmt.Errorf("index: dedup gate upsert blob: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, false, fmt.Errorf("index: dedup gate commit: %w", err)
	}
	return blobRefID, blobID, alreadyOwned, nil
}

// GetBlobRefRecord looks up the global registry row for ref, returning
// vaulterrors.ErrBlobNotFound if it has never been seen.
func (x *Index) GetBlobRefRecord(ctx context.Context, ref types.BlobRef) (types.BlobRefRecord, error) {
	var row blobRefRow
	err := x.db.GetContext(ctx, &row, `
		SELECT id, hash, leaf_size, is_container, mime_type, handler_key, created_at
		FROM blob_ref WHERE hash = $1 AND leaf_size = $2 AND is_container = $3
	`, ref.Hash[:], ref.LeafSize, ref.IsContainer)
	if err != nil {
		return types.BlobRefRecord{}, translateNotFound(err)
	}
	return row.toRecord(), nil
}

type blobRefRow struct {
	ID          int64     `db:"id"`
	Hash        []byte    `db:"hash"`
	LeafSize    int64     `db:"leaf_size"`
	IsContainer bool      `db:"is_container"`
	MimeType    string    `db:"mime_type"`
	HandlerKey  string    `db:"handler_key"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r blobRefRow) toRecord() types.BlobRefRecord {
	var hash types.ContentHash
	copy(hash[:], r.Hash)
	return types.BlobRefRecord{
		ID:          r.ID,
		Hash:        hash,
		LeafSize:    r.LeafSize,
		IsContainer: r.IsContainer,
		MimeType:    r.MimeType,
		HandlerKey:  r.HandlerKey,
		CreatedAt:   r.CreatedAt,
	}
}

// TenantOwns reports whether tenantID already has a blob row for ref.
func (x *Index) TenantOwns(ctx context.Context, tenantID string, ref types.BlobRef) (bool, error) {
	var count int
	err := x.db.GetContext(ctx, &count, `
		SELECT count(*) FROM blob b
		JOIN blob_ref r ON r.id = b.blob_ref_id
		WHERE b.tenant_id = $1 AND r.hash = $2 AND r.leaf_size = $3 AND r.is_container = $4
	`, tenantID, ref.Hash[:], ref.LeafSize, ref.IsContainer)
	if err != nil {
		return false, fmt.Errorf("index: tenant owns: %w", err)
	}
	return count > 0, nil
}
