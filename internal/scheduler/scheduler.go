package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ralph-labs/orchestrator/internal/executor"
	"github.com/ralph-labs/orchestrator/internal/store"
	"github.com/ralph-labs/orchestrator/internal/telemetry"
)

// DefaultPollInterval is how long the loop sleeps when there is no ready
// work (or the loop is paused).
const DefaultPollInterval = 5 * time.Second

// DefaultGracePeriod is the short pause between batches once workers have
// been spawned, giving newly spawned work a moment to register as active
// before the next probe.
const DefaultGracePeriod = 2 * time.Second

// Config controls the scheduling loop's pacing and resource ceilings.
type Config struct {
	MaxParallel  int
	PollInterval time.Duration
	GracePeriod  time.Duration
	Resources    ResourceThresholds
}

func (c Config) withDefaults() Config {
	if c.MaxParallel <= 0 {
		c.MaxParallel = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	c.Resources = c.Resources.withDefaults()
	return c
}

// PauseCheck reports whether the loop should idle instead of dispatching
// new work, e.g. backed by a pause-file or an admin command.
type PauseCheck func() bool

// Scheduler runs the background loop (spec.md §4.5) that selects ready
// tasks and hands them to an executor.Pipeline worker pool. Grounded on the
// teacher's internal/loop.Controller.RunLoop, generalized from a single
// flat task list to the PRD/story/task hierarchy with per-story batches.
type Scheduler struct {
	store    store.Store
	pipeline *executor.Pipeline
	cfg      Config
	log      *zap.Logger
	metrics  *telemetry.Metrics
	paused   PauseCheck

	sem chan struct{}
	wg  sync.WaitGroup

	activeMu sync.Mutex
	active   map[int64]bool

	notify executor.Notifier
}

// SetNotifier wires a Notifier into the scheduler, used for story/PRD
// completion summaries (spec.md §6.2). Optional: a nil Notifier skips
// notification.
func (s *Scheduler) SetNotifier(n executor.Notifier) { s.notify = n }

// New builds a Scheduler. paused may be nil, in which case the loop never
// pauses on its own.
func New(st store.Store, pipeline *executor.Pipeline, metrics *telemetry.Metrics, log *zap.Logger, cfg Config, paused PauseCheck) *Scheduler {
	cfg = cfg.withDefaults()
	if paused == nil {
		paused = func() bool { return false }
	}
	return &Scheduler{
		store:    st,
		pipeline: pipeline,
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		paused:   paused,
		sem:      make(chan struct{}, cfg.MaxParallel),
		active:   make(map[int64]bool),
	}
}

// Run recovers stale tasks and then drives the loop until ctx is cancelled.
// It blocks until every in-flight worker has returned.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.recoverStaleTasks(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return nil
		default:
		}

		s.refreshDailyGauges(ctx)

		if s.paused() {
			s.sleep(ctx, s.cfg.PollInterval)
			continue
		}

		available := s.cfg.MaxParallel - s.activeCount()
		if s.metrics != nil {
			s.metrics.ActiveWorkers.Set(float64(s.activeCount()))
		}

		batch, err := s.selectBatch(ctx, available)
		if err != nil {
			s.log.Error("select_batch_failed", zap.Error(err))
			s.sleep(ctx, s.cfg.PollInterval)
			continue
		}
		if s.metrics != nil {
			s.metrics.QueueDepth.Set(float64(len(batch)))
		}
		if len(batch) == 0 {
			s.sleep(ctx, s.cfg.PollInterval)
			continue
		}

		for _, task := range batch {
			s.dispatch(ctx, task)
		}

		s.sleep(ctx, s.cfg.GracePeriod)
	}
}

// dispatch admits a task on resource headroom, then spawns a worker
// goroutine holding a semaphore slot for its duration.
func (s *Scheduler) dispatch(ctx context.Context, task *store.Task) {
	ok, err := admitResources(s.cfg.Resources)
	if err != nil {
		s.log.Warn("resource_check_failed", zap.Int64("task_id", task.ID), zap.Error(err))
	}
	if !ok {
		reason := "deferred: resources"
		if err := s.store.UpdateTaskStatus(ctx, task.ID, store.TaskStatusQueued, store.TaskUpdate{
			ErrorMessage: &reason,
		}); err != nil {
			s.log.Warn("resource_defer_failed", zap.Int64("task_id", task.ID), zap.Error(err))
		}
		return
	}

	select {
	case s.sem <- struct{}{}:
	default:
		return
	}

	s.markActive(task.ID)
	s.wg.Add(1)
	go s.runWorker(ctx, task.ID)
}

func (s *Scheduler) runWorker(ctx context.Context, taskID int64) {
	defer s.wg.Done()
	defer func() {
		s.clearActive(taskID)
		<-s.sem
	}()

	outcome, err := s.pipeline.Execute(ctx, taskID)
	if err != nil {
		s.log.Error("execute_failed", zap.Int64("task_id", taskID), zap.Error(err))
		return
	}
	if outcome.FinalStatus.IsTerminal() {
		if err := s.propagateCompletion(ctx, taskID); err != nil {
			s.log.Warn("propagate_completion_failed", zap.Int64("task_id", taskID), zap.Error(err))
		}
	}
}

func (s *Scheduler) refreshDailyGauges(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	today := time.Now().Format("2006-01-02")
	completed, failed, err := s.store.GetDailyCounters(ctx, today)
	if err != nil {
		return
	}
	s.metrics.TasksCompletedToday.Set(float64(completed))
	s.metrics.TasksFailedToday.Set(float64(failed))
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (s *Scheduler) markActive(id int64) {
	s.activeMu.Lock()
	s.active[id] = true
	s.activeMu.Unlock()
}

func (s *Scheduler) clearActive(id int64) {
	s.activeMu.Lock()
	delete(s.active, id)
	s.activeMu.Unlock()
}

func (s *Scheduler) isActive(id int64) bool {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	return s.active[id]
}

func (s *Scheduler) activeCount() int {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	return len(s.active)
}
