package index

import (
	"context"
	"fmt"
)

// TruncateTenant deletes tenantID's blob rows, which cascades to its
// container and entry rows (§4.10's optional pre-rebuild truncate).
// It never touches another tenant's rows; global blob_ref rows are
// removed only once nothing else references them.
func (x *Index) TruncateTenant(ctx context.Context, tenantID string) error {
	tx, err := x.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: truncate tenant begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM blob WHERE tenant_id = $1`, tenantID); err != nil {
		return fmt.Errorf("index: truncate tenant: delete blob: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM blob_ref br
		WHERE NOT EXISTS (SELECT 1 FROM blob b WHERE b.blob_ref_id = br.id)
	`); err != nil {
		return fmt.Errorf("index: truncate tenant: delete orphaned blob_ref: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: truncate tenant commit: %w", err)
	}
	return nil
}
