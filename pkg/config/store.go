package config

import (
	"context"
	"fmt"

	"github.com/cuemby/vault/pkg/objectstore"
)

// NewObjectStore constructs the object store backend named by
// cfg.ObjectStore.Type.
func NewObjectStore(ctx context.Context, cfg Config) (objectstore.Store, error) {
	switch cfg.ObjectStore.Type {
	case "filesystem":
		return objectstore.NewFilesystemStore(cfg.ObjectStore.FilesystemRoot, cfg.ObjectStore.WriteOnceCheck)
	case "s3":
		return objectstore.NewS3Store(ctx, cfg.ObjectStore.BucketPrefix, cfg.ObjectStore.WriteOnceCheck)
	default:
		return nil, fmt.Errorf("config: unknown object-store.type %q (want filesystem or s3)", cfg.ObjectStore.Type)
	}
}
