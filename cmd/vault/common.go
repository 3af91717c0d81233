package main

import (
	"context"
	"fmt"

	"github.com/cuemby/vault/pkg/config"
	"github.com/cuemby/vault/pkg/format"
	"github.com/cuemby/vault/pkg/ingest"
	"github.com/cuemby/vault/pkg/index"
	"github.com/cuemby/vault/pkg/objectstore"
)

// buildStoreOnly constructs just the object store, for one-shot
// subcommands that don't need the full app.App lifecycle.
func buildStoreOnly(ctx context.Context, cfg config.Config) (objectstore.Store, error) {
	store, err := config.NewObjectStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	return store, nil
}

// buildPipelineOnly wires an ingest.Pipeline directly over an
// already-migrated index, for the one-shot ingest subcommand.
func buildPipelineOnly(store objectstore.Store, idx *index.Index, cfg config.Config) (*ingest.Pipeline, error) {
	if err := idx.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("index migrate: %w", err)
	}
	workers := cfg.Tasks.WorkerCount
	if workers <= 0 {
		workers = 1
	}
	return ingest.NewPipeline(store, idx, format.NewDefaultRegistry(), workers), nil
}
