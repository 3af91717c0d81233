package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/vault/pkg/events"
	"github.com/cuemby/vault/pkg/index"
	"github.com/cuemby/vault/pkg/log"
	"github.com/cuemby/vault/pkg/metrics"
	"github.com/cuemby/vault/pkg/types"
)

// taskIndex is the slice of *index.Index the scheduler depends on,
// kept narrow so tests can substitute a fake instead of a sqlmock-
// backed *index.Index.
type taskIndex interface {
	ClaimNext(ctx context.Context, executor string, advertisedResources []string) (*types.TaskRecord, index.ClaimInfo, error)
	ApplyOutcome(ctx context.Context, taskID string, outcome types.Outcome) error
	SweepStaleClaims(ctx context.Context, lease time.Duration) (reclaimed, expired int64, err error)
	CreateTask(ctx context.Context, t types.TaskRecord, resources []types.ResourceDependency) error
	GetSubtaskResult(ctx context.Context, subtaskID string) (json.RawMessage, error)
	GetSubtaskError(ctx context.Context, subtaskID string) (*types.TaskErrorDetail, error)
	GetCompletedSubtasks(ctx context.Context, parentID string) ([]types.TaskRecord, error)
}

// Callbacks are the lifecycle functions a task type registers, per
// §4.4: exactly one is invoked per claim, selected by ClaimInfo.
type Callbacks struct {
	OnStart  func(ctx context.Context, tc *TaskContext, input json.RawMessage) types.Outcome
	OnResume func(ctx context.Context, tc *TaskContext, input json.RawMessage) types.Outcome
	OnError  func(ctx context.Context, tc *TaskContext, input json.RawMessage, subtaskErr *types.TaskErrorDetail) types.Outcome
}

// Scheduler owns a bounded pool of workers claiming from idx and a
// single stale-claim sweep loop, per §5's binding that the worker pool
// is a fixed-size goroutine pool rather than cross-process RPC.
type Scheduler struct {
	idx                 taskIndex
	bus                 *index.Bus
	executor            string
	workers             int
	advertisedResources []string
	pollInterval        time.Duration
	claimLease          time.Duration
	sweepInterval       time.Duration

	mu       sync.RWMutex
	registry map[string]Callbacks

	events *events.Broker

	logger zerolog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// SetEvents wires an event broker that every dispatched task's outcome
// publishes to. Optional: a scheduler with no broker set still claims
// and dispatches normally, it just doesn't publish.
func (s *Scheduler) SetEvents(b *events.Broker) {
	s.events = b
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithBus wires the LISTEN/NOTIFY pub-sub bus so idle workers wake
// immediately instead of waiting for the next poll tick.
func WithBus(bus *index.Bus) Option {
	return func(s *Scheduler) { s.bus = bus }
}

// WithPollInterval overrides the fallback poll interval used when no
// bus is configured or a notification is missed.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.pollInterval = d }
}

// WithClaimLease overrides the stale-claim lease duration (default
// 5 minutes, per §4.4).
func WithClaimLease(d time.Duration) Option {
	return func(s *Scheduler) { s.claimLease = d }
}

// WithSweepInterval overrides the stale-claim sweep tick (default
// 30 seconds, per §4.4).
func WithSweepInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.sweepInterval = d }
}

// NewScheduler creates a scheduler with workers goroutines claiming as
// executor, advertising advertisedResources to the claim protocol.
func NewScheduler(idx taskIndex, executor string, workers int, advertisedResources []string, opts ...Option) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	s := &Scheduler{
		idx:                 idx,
		executor:            executor,
		workers:             workers,
		advertisedResources: advertisedResources,
		pollInterval:        2 * time.Second,
		claimLease:          5 * time.Minute,
		sweepInterval:       30 * time.Second,
		registry:            make(map[string]Callbacks),
		logger:              log.WithComponent("scheduler"),
		stopCh:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterType binds a task type's lifecycle callbacks. Call before
// Start; registering after workers begin claiming is not safe.
func (s *Scheduler) RegisterType(taskType string, cb Callbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry[taskType] = cb
}

// Start launches the worker pool and the stale-claim sweep loop.
func (s *Scheduler) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.workerLoop(i)
	}
	s.wg.Add(1)
	go s.sweepLoop()
}

// Stop signals every worker and the sweep loop to exit and waits for
// them to return.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// workerLoop is one claim/dispatch worker. It polls on a ticker,
// waking early on a bus notification when one is configured.
func (s *Scheduler) workerLoop(id int) {
	defer s.wg.Done()

	var sub index.Subscriber
	if s.bus != nil {
		sub = s.bus.Subscribe()
		defer s.bus.Unsubscribe(sub)
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if s.claimAndDispatch(id) {
			continue // more work may be waiting, don't sleep
		}

		select {
		case <-ticker.C:
		case <-sub:
		case <-s.stopCh:
			return
		}
	}
}

// claimAndDispatch attempts one claim. It reports whether a task was
// claimed, so the caller can immediately retry instead of idling.
func (s *Scheduler) claimAndDispatch(workerID int) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	timer := metrics.NewTimer()
	task, info, err := s.idx.ClaimNext(ctx, s.executor, s.advertisedResources)
	timer.ObserveDuration(metrics.ClaimLatency)
	if err != nil {
		s.logger.Error().Err(err).Int("worker", workerID).Msg("claim failed")
		return false
	}
	if task == nil {
		return false
	}

	metrics.TasksClaimedTotal.WithLabelValues(task.Type).Inc()
	s.dispatch(ctx, task, info)
	return true
}

// dispatch invokes the registered callback selected by info and
// persists its Outcome.
func (s *Scheduler) dispatch(ctx context.Context, task *types.TaskRecord, info index.ClaimInfo) {
	s.mu.RLock()
	cb, ok := s.registry[task.Type]
	s.mu.RUnlock()

	logger := log.WithTaskID(task.ID)

	if !ok {
		logger.Error().Str("type", task.Type).Msg("no callback registered for task type")
		if err := s.idx.ApplyOutcome(ctx, task.ID, types.Failed("no callback registered for type "+task.Type, false)); err != nil {
			logger.Error().Err(err).Msg("apply outcome failed")
		}
		return
	}

	tc := &TaskContext{idx: s.idx, taskID: task.ID, tenantID: task.TenantID}

	timer := metrics.NewTimer()
	var outcome types.Outcome
	switch {
	case info.ResumeReason == "error":
		subtaskErr, err := s.idx.GetSubtaskError(ctx, info.FailedSubtaskID)
		if err != nil {
			logger.Error().Err(err).Str("subtask_id", info.FailedSubtaskID).Msg("failed to load subtask error")
			subtaskErr = &types.TaskErrorDetail{Message: "subtask failed: " + err.Error(), Retryable: false}
		}
		if cb.OnError != nil {
			outcome = cb.OnError(ctx, tc, task.Input, subtaskErr)
		} else {
			outcome = types.Failed(subtaskErr.Message, false)
		}
	case info.ResumeReason == "resume":
		if cb.OnResume != nil {
			outcome = cb.OnResume(ctx, tc, task.Input)
		} else {
			outcome = types.Failed("no OnResume registered for type "+task.Type, false)
		}
	default:
		outcome = cb.OnStart(ctx, tc, task.Input)
	}
	timer.ObserveDurationVec(metrics.TaskExecutionDuration, task.Type)

	if err := s.idx.ApplyOutcome(ctx, task.ID, outcome); err != nil {
		logger.Error().Err(err).Msg("apply outcome failed")
		return
	}
	metrics.TasksCompletedTotal.WithLabelValues(task.Type, string(outcome.Kind)).Inc()
	s.publishOutcome(task, outcome)
}

// publishOutcome is a no-op when no broker is wired (see SetEvents).
// It only publishes for the two terminal outcomes a subscriber would
// actually care about; Blocked/Background are intermediate states the
// task will pass through again.
func (s *Scheduler) publishOutcome(task *types.TaskRecord, outcome types.Outcome) {
	if s.events == nil {
		return
	}
	switch outcome.Kind {
	case types.OutcomeComplete:
		s.events.Publish(&events.Event{
			Type:     events.EventTaskCompleted,
			Message:  "task " + task.ID + " (" + task.Type + ") completed",
			Metadata: map[string]string{"task_id": task.ID, "type": task.Type},
		})
	case types.OutcomeFailed:
		msg := "task " + task.ID + " (" + task.Type + ") failed"
		if outcome.Err != nil {
			msg += ": " + outcome.Err.Message
		}
		s.events.Publish(&events.Event{
			Type:     events.EventTaskFailed,
			Message:  msg,
			Metadata: map[string]string{"task_id": task.ID, "type": task.Type},
		})
	}
}

// sweepLoop runs the periodic stale-claim recovery pass of §4.4.
func (s *Scheduler) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	reclaimed, expired, err := s.idx.SweepStaleClaims(ctx, s.claimLease)
	if err != nil {
		s.logger.Error().Err(err).Msg("stale-claim sweep failed")
		return
	}
	if reclaimed > 0 || expired > 0 {
		s.logger.Info().Int64("reclaimed", reclaimed).Int64("expired", expired).Msg("stale-claim sweep")
	}
	metrics.StaleClaimsReclaimed.Add(float64(reclaimed))
	metrics.BackgroundTasksExpired.Add(float64(expired))
}
