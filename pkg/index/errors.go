package index

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/cuemby/vault/pkg/vaulterrors"
)

// translateNotFound maps sql.ErrNoRows to the domain sentinel so
// callers never have to import database/sql just to compare errors.
func translateNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return vaulterrors.ErrBlobNotFound
	}
	return fmt.Errorf("index: %w", err)
}
