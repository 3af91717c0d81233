package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cuemby/vault/pkg/log"
	"github.com/cuemby/vault/pkg/types"
	"github.com/cuemby/vault/pkg/vaulterrors"
	"github.com/rs/zerolog"
)

// FilesystemStore is the dev/test backend. It stores each blob
// uncompressed at {root}/{tenantId}/{hash[0:2]}/{hash[2:4]}/{key} so
// the tree stays debuggable with plain file tools. Two-tier sharding
// keeps any one directory from fanning out to one entry per blob.
type FilesystemStore struct {
	root           string
	writeOnceCheck bool

	mu     sync.Mutex // guards create's check-then-write race
	logger zerolog.Logger
}

// NewFilesystemStore creates a backend rooted at root. writeOnceCheck
// enables the existence check that guards Create; backends that
// cannot natively enforce write-once (this one included) still rely
// on it to turn an accidental overwrite into a visible error instead
// of a silent no-op.
func NewFilesystemStore(root string, writeOnceCheck bool) (*FilesystemStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("objectstore: create root %s: %w", root, err)
	}
	return &FilesystemStore{
		root:           root,
		writeOnceCheck: writeOnceCheck,
		logger:         log.WithComponent("objectstore.filesystem"),
	}, nil
}

func (s *FilesystemStore) keyPath(tenantID string, ref types.BlobRef) string {
	key := ref.String()
	hash := ref.Hash.String()
	return filepath.Join(s.root, tenantID, hash[0:2], hash[2:4], key)
}

func (s *FilesystemStore) tenantRoot(tenantID string) string {
	return filepath.Join(s.root, tenantID)
}

func (s *FilesystemStore) Read(_ context.Context, tenantID string, ref types.BlobRef) ([]byte, error) {
	data, err := os.ReadFile(s.keyPath(tenantID, ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, vaulterrors.ErrBlobNotFound
		}
		return nil, fmt.Errorf("objectstore: read %s/%s: %w: %w", tenantID, ref, err, vaulterrors.ErrStorageError)
	}
	return data, nil
}

func (s *FilesystemStore) Create(_ context.Context, tenantID string, ref types.BlobRef, data []byte, _ string) error {
	path := s.keyPath(tenantID, ref)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeOnceCheck {
		if existing, err := os.ReadFile(path); err == nil {
			if bytes.Equal(existing, data) {
				return nil // idempotent re-create of identical content
			}
			return vaulterrors.ErrBlobAlreadyExists
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("objectstore: create %s/%s: %w: %w", tenantID, ref, err, vaulterrors.ErrStorageError)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("objectstore: create %s/%s: %w: %w", tenantID, ref, err, vaulterrors.ErrStorageError)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("objectstore: create %s/%s: %w: %w", tenantID, ref, err, vaulterrors.ErrStorageError)
	}
	return nil
}

func (s *FilesystemStore) Exists(_ context.Context, tenantID string, ref types.BlobRef) (bool, error) {
	_, err := os.Stat(s.keyPath(tenantID, ref))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("objectstore: exists %s/%s: %w: %w", tenantID, ref, err, vaulterrors.ErrStorageError)
}

func (s *FilesystemStore) Delete(_ context.Context, tenantID string, ref types.BlobRef) error {
	path := s.keyPath(tenantID, ref)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return vaulterrors.ErrBlobNotFound
		}
		return fmt.Errorf("objectstore: delete %s/%s: %w: %w", tenantID, ref, err, vaulterrors.ErrStorageError)
	}
	s.pruneEmptyParents(filepath.Dir(path), s.tenantRoot(tenantID))
	return nil
}

// pruneEmptyParents removes empty directories walking up from dir to
// (but not including) stop.
func (s *FilesystemStore) pruneEmptyParents(dir, stop string) {
	for dir != stop && strings.HasPrefix(dir, stop) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (s *FilesystemStore) DeleteTenant(_ context.Context, tenantID string) error {
	if err := os.RemoveAll(s.tenantRoot(tenantID)); err != nil {
		return fmt.Errorf("objectstore: delete tenant %s: %w: %w", tenantID, err, vaulterrors.ErrStorageError)
	}
	return nil
}

func (s *FilesystemStore) ListTenants(ctx context.Context) (<-chan string, <-chan error) {
	out := make(chan string)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		entries, err := os.ReadDir(s.root)
		if err != nil {
			if !os.IsNotExist(err) {
				errc <- fmt.Errorf("objectstore: list tenants: %w: %w", err, vaulterrors.ErrStorageError)
			}
			return
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			select {
			case out <- e.Name():
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()

	return out, errc
}

func (s *FilesystemStore) ListContainers(ctx context.Context, tenantID string) (<-chan types.BlobRef, <-chan error) {
	out := make(chan types.BlobRef)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		root := s.tenantRoot(tenantID)
		walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			if !strings.HasSuffix(d.Name(), "_") {
				return nil
			}
			ref, parseErr := types.ParseBlobRef(d.Name())
			if parseErr != nil {
				s.logger.Warn().Err(parseErr).Str("path", path).Msg("skipping unparseable container key")
				return nil
			}
			select {
			case out <- ref:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
		if walkErr != nil && !os.IsNotExist(walkErr) {
			errc <- fmt.Errorf("objectstore: list containers: %w: %w", walkErr, vaulterrors.ErrStorageError)
		}
	}()

	return out, errc
}
