package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuemby/vault/pkg/events"
	"github.com/cuemby/vault/pkg/format"
	"github.com/cuemby/vault/pkg/health"
	"github.com/cuemby/vault/pkg/index"
	"github.com/cuemby/vault/pkg/ingest"
	"github.com/cuemby/vault/pkg/metrics"
	"github.com/cuemby/vault/pkg/objectstore"
	"github.com/cuemby/vault/pkg/rebuild"
	"github.com/cuemby/vault/pkg/reconstruct"
	"github.com/cuemby/vault/pkg/scheduler"
	"github.com/cuemby/vault/pkg/service"
)

// Config gathers the construction-time parameters for App. Store is
// the already-constructed object storage backend (filesystem or S3 —
// cmd/vault picks the concrete type from its own config file before
// calling New); DB is an already-opened connection pool.
type Config struct {
	Store            objectstore.Store
	DB               *sqlx.DB
	Executor         string
	IngestWorkers    int
	SchedulerWorkers int
	PollInterval     time.Duration
	ClaimLease       time.Duration
	Registry         *format.Registry

	// IndexAddr is the index's "host:port", used only for the
	// background reachability probe (see pkg/health). Left empty, no
	// probe runs.
	IndexAddr string
}

// App wires every long-lived component behind a service.Supervisor.
// Callers start it once at process startup and stop it once at
// shutdown; everything in between (ingest, reconstruct, rebuild) goes
// through the exported component fields directly.
type App struct {
	Store         objectstore.Store
	Index         *index.Index
	Scheduler     *scheduler.Scheduler
	Pipeline      *ingest.Pipeline
	Reconstructor *reconstruct.Reconstructor
	Rebuilder     *rebuild.Rebuilder
	Metrics       *metrics.Collector
	Events        *events.Broker

	supervisor  *service.Supervisor
	indexCheck  health.Checker
	probeStopCh chan struct{}
}

// New constructs every component from cfg and registers them with a
// Supervisor in dependency order, but starts nothing — call Start.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("app: config: Store is required")
	}
	if cfg.DB == nil {
		return nil, fmt.Errorf("app: config: DB is required")
	}
	if cfg.Executor == "" {
		return nil, fmt.Errorf("app: config: Executor is required")
	}
	registry := cfg.Registry
	if registry == nil {
		registry = format.NewDefaultRegistry()
	}
	ingestWorkers := cfg.IngestWorkers
	if ingestWorkers <= 0 {
		ingestWorkers = 4
	}
	schedulerWorkers := cfg.SchedulerWorkers
	if schedulerWorkers <= 0 {
		schedulerWorkers = 4
	}

	var opts []scheduler.Option
	if cfg.PollInterval > 0 {
		opts = append(opts, scheduler.WithPollInterval(cfg.PollInterval))
	}
	if cfg.ClaimLease > 0 {
		opts = append(opts, scheduler.WithClaimLease(cfg.ClaimLease))
	}

	idx := index.New(cfg.DB)
	sched := scheduler.NewScheduler(idx, cfg.Executor, schedulerWorkers, nil, opts...)
	pipeline := ingest.NewPipeline(cfg.Store, idx, registry, ingestWorkers)
	collector := metrics.NewCollector(idx)

	a := &App{
		Store:         cfg.Store,
		Index:         idx,
		Scheduler:     sched,
		Pipeline:      pipeline,
		Reconstructor: reconstruct.NewReconstructor(cfg.Store, registry),
		Rebuilder:     rebuild.NewRebuilder(cfg.Store, idx),
		Metrics:       collector,
		Events:        events.NewBroker(),
		supervisor:    service.NewSupervisor(),
		probeStopCh:   make(chan struct{}),
	}
	if cfg.IndexAddr != "" {
		a.indexCheck = health.NewTCPChecker(cfg.IndexAddr)
	}
	pipeline.SetEvents(a.Events)
	sched.SetEvents(a.Events)
	registerTaskTypes(sched, pipeline, a.Rebuilder)

	// The store has no startup phase of its own (both backends are
	// ready to use as soon as constructed); it is still registered so
	// the index and the pipeline can declare a dependency on it and
	// so its state is visible to StateChanged subscribers.
	a.supervisor.Register(service.NewFunc("objectstore", nil, nil))

	a.supervisor.Register(service.NewFunc("index", func(ctx context.Context) error {
		return idx.Migrate(ctx)
	}, func(ctx context.Context) error {
		return idx.Close()
	}), "objectstore")

	a.supervisor.Register(service.NewFunc("scheduler", func(ctx context.Context) error {
		sched.Start()
		return nil
	}, func(ctx context.Context) error {
		sched.Stop()
		return nil
	}), "index")

	a.supervisor.Register(service.NewFunc("pipeline", func(ctx context.Context) error {
		pipeline.Start()
		return nil
	}, func(ctx context.Context) error {
		pipeline.Stop()
		return nil
	}), "index", "objectstore")

	a.supervisor.Register(service.NewFunc("metrics", func(ctx context.Context) error {
		collector.Start()
		return nil
	}, func(ctx context.Context) error {
		collector.Stop()
		return nil
	}), "index")

	return a, nil
}

// Start first starts the event broker and the goroutine that mirrors
// every service.StateChanged onto it and into metrics.UpdateComponent
// (so /health and /ready, per the readiness check's "index",
// "objectstore", "scheduler" critical list, reflect actual Supervisor
// state instead of going stale after startup), then brings up every
// component in dependency order (the object store, then the index,
// then the scheduler/pipeline/metrics collector that depend on it).
func (a *App) Start(ctx context.Context) error {
	a.Events.Start()
	sub := a.supervisor.Subscribe()
	go a.forwardStateChanges(sub)

	if a.indexCheck != nil {
		go a.runIndexProbe()
	}

	return a.supervisor.Start(ctx)
}

// Stop tears down every component in reverse dependency order, then
// the event broker and reachability probe.
func (a *App) Stop(ctx context.Context) error {
	err := a.supervisor.Stop(ctx)
	if a.indexCheck != nil {
		close(a.probeStopCh)
	}
	a.Events.Stop()
	return err
}

// runIndexProbe periodically dials the index's address independently
// of service.Supervisor's own state: a component reporting RUNNING can
// still go unreachable (a firewall change, a wedged connection) and
// Supervisor has no way to notice short of a failed query.
func (a *App) runIndexProbe() {
	cfg := health.DefaultConfig()
	status := health.NewStatus()
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.probeStopCh:
			return
		case <-ticker.C:
			wasHealthy := status.Healthy
			result := a.indexCheck.Check(context.Background())
			status.Update(result, cfg)
			if status.Healthy != wasHealthy || !status.Healthy {
				metrics.UpdateComponent("index-reachability", status.Healthy, result.Message)
				a.Events.Publish(&events.Event{
					Type:    events.EventServiceStateChanged,
					Message: "index-reachability: " + result.Message,
					Metadata: map[string]string{
						"service": "index-reachability",
						"healthy": fmt.Sprintf("%t", status.Healthy),
					},
				})
			}
		}
	}
}

func (a *App) forwardStateChanges(sub service.Subscriber) {
	for change := range sub {
		healthy := change.New == service.StateRunning
		message := string(change.Old) + " -> " + string(change.New)
		if change.Err != nil {
			message = message + ": " + change.Err.Error()
		}
		metrics.UpdateComponent(change.ServiceID, healthy, message)

		a.Events.Publish(&events.Event{
			Type:      events.EventServiceStateChanged,
			Timestamp: change.At,
			Message:   change.ServiceID + ": " + message,
			Metadata: map[string]string{
				"service": change.ServiceID,
				"from":    string(change.Old),
				"to":      string(change.New),
			},
		})
	}
}

// State reports the current lifecycle state of the named component
// ("objectstore", "index", "scheduler", "pipeline", or "metrics").
func (a *App) State(name string) service.State {
	return a.supervisor.State(name)
}

// Subscribe returns a channel of every service.StateChanged event
// this App's components emit.
func (a *App) Subscribe() service.Subscriber {
	return a.supervisor.Subscribe()
}
