package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/vault/pkg/index"
	"github.com/cuemby/vault/pkg/rebuild"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Restore a tenant's index rows from the manifests already sitting in object storage",
	RunE:  runRebuild,
}

func init() {
	rebuildCmd.Flags().Bool("truncate-first", false, "delete the tenant's existing index rows before rebuilding")
}

func runRebuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	truncateFirst, _ := cmd.Flags().GetBool("truncate-first")

	ctx := context.Background()
	store, err := buildStoreOnly(ctx, cfg)
	if err != nil {
		return err
	}

	db, err := index.OpenDB(ctx, cfg.Index.DSN)
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}
	idx := index.New(db)
	defer idx.Close()
	if err := idx.Migrate(ctx); err != nil {
		return fmt.Errorf("rebuild: migrate: %w", err)
	}

	r := rebuild.NewRebuilder(store, idx)
	n, err := r.Rebuild(ctx, cfg.Tenant, truncateFirst)
	if err != nil {
		return fmt.Errorf("rebuild: %w", err)
	}

	fmt.Printf("rebuilt %d container(s) for tenant %q\n", n, cfg.Tenant)
	return nil
}
