package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/vault/pkg/app"
	"github.com/cuemby/vault/pkg/config"
	"github.com/cuemby/vault/pkg/index"
	"github.com/cuemby/vault/pkg/log"
	"github.com/cuemby/vault/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion pipeline, scheduler, and metrics collector until signaled to stop",
	Long: `serve starts every long-lived Vault component under one process:
the object store, the relational index, the task scheduler, the
ingestion pipeline, and the metrics collector. It blocks until
SIGINT/SIGTERM, then stops every component in reverse dependency
order.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "address for the /metrics, /health, /ready, /live endpoints")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("serve: start: %w", err)
	}
	log.Info(fmt.Sprintf("vault node %s started (tenant %s, object store %s)", cfg.Cluster.NodeID, cfg.Tenant, cfg.ObjectStore.Type))

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	srv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server error: %v", err)
		}
	}()
	log.Info(fmt.Sprintf("metrics endpoint: http://%s/metrics", metricsAddr))

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Defaults().Tasks.ClaimLease)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	return a.Stop(shutdownCtx)
}

// buildApp constructs the object store, opens the index connection
// pool, and wires both into an *app.App per cfg. The returned App's
// own "index" service closes the pool on Stop; callers don't need to
// close anything themselves.
func buildApp(ctx context.Context, cfg config.Config) (*app.App, error) {
	store, err := config.NewObjectStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}

	db, err := index.OpenDB(ctx, cfg.Index.DSN)
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}

	indexAddr, err := cfg.Index.HostPort()
	if err != nil {
		log.Warn(fmt.Sprintf("index reachability probe disabled: %v", err))
	}

	a, err := app.New(app.Config{
		Store:            store,
		DB:               db,
		Executor:         cfg.Cluster.NodeID,
		IngestWorkers:    cfg.Tasks.WorkerCount,
		SchedulerWorkers: cfg.Tasks.WorkerCount,
		PollInterval:     cfg.Tasks.PollInterval,
		ClaimLease:       cfg.Tasks.ClaimLease,
		IndexAddr:        indexAddr,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return a, nil
}
