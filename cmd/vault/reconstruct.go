package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/vault/pkg/format"
	"github.com/cuemby/vault/pkg/reconstruct"
	"github.com/cuemby/vault/pkg/types"
)

var reconstructCmd = &cobra.Command{
	Use:   "reconstruct <storageKey>",
	Short: "Rebuild the original bytes behind a BlobRef and write them to stdout or --out",
	Args:  cobra.ExactArgs(1),
	RunE:  runReconstruct,
}

func init() {
	reconstructCmd.Flags().String("out", "", "file to write the reconstructed bytes to (default: stdout)")
}

func runReconstruct(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out, _ := cmd.Flags().GetString("out")

	ref, err := types.ParseBlobRef(args[0])
	if err != nil {
		return fmt.Errorf("reconstruct: %w", err)
	}

	ctx := context.Background()
	store, err := buildStoreOnly(ctx, cfg)
	if err != nil {
		return err
	}

	r := reconstruct.NewReconstructor(store, format.NewDefaultRegistry())
	data, err := r.Reconstruct(ctx, cfg.Tenant, ref)
	if err != nil {
		return fmt.Errorf("reconstruct: %w", err)
	}

	if out == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(out, data, 0o644)
}
