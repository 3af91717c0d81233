package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cuemby/vault/pkg/index"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Ingest a file into object storage, decomposing it if a container format handler recognizes it",
	Args:  cobra.ExactArgs(1),
	RunE:  runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	content, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("ingest: read %s: %w", args[0], err)
	}

	ctx := context.Background()
	store, err := buildStoreOnly(ctx, cfg)
	if err != nil {
		return err
	}
	db, err := index.OpenDB(ctx, cfg.Index.DSN)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	idx := index.New(db)
	defer idx.Close()

	pipeline, err := buildPipelineOnly(store, idx, cfg)
	if err != nil {
		return err
	}
	pipeline.Start()
	defer pipeline.Stop()

	taskID := uuid.New().String()
	ref, err := pipeline.Ingest(ctx, cfg.Tenant, taskID, content, filepath.Base(args[0]))
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	fmt.Println(ref.String())
	return nil
}
