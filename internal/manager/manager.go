// Package manager is the autonomous manager facade of spec.md §4.11: a
// thin aggregator over the persistence handle, executor, scheduler,
// breakdown procedure, learning extractor, and cooldown manager, exposing
// one method per command in §6.1's command surface. Grounded on the
// teacher's cmd/ subcommands, which call into these same subsystems
// directly; here they're collected behind one facade for a messaging
// front-end to drive instead of a CLI.
package manager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ralph-labs/orchestrator/internal/breakdown"
	"github.com/ralph-labs/orchestrator/internal/cooldown"
	"github.com/ralph-labs/orchestrator/internal/executor"
	"github.com/ralph-labs/orchestrator/internal/scheduler"
	"github.com/ralph-labs/orchestrator/internal/store"
)

// Manager aggregates every subsystem behind the command surface described
// in spec.md §6.1.
type Manager struct {
	store     store.Store
	pipeline  *executor.Pipeline
	scheduler *scheduler.Scheduler
	breakdown *breakdown.Breakdown
	cooldown  *cooldown.Manager
	log       *zap.Logger

	paused int32 // atomic: 0=running, 1=paused

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// New builds a Manager. The pipeline must already be wired to the same
// store; the scheduler may be nil here and attached later with Wire. The
// breakdown procedure is constructed with this Manager
// as its LoopStarter so `complex` can start the loop itself.
func New(
	st store.Store,
	sched *scheduler.Scheduler,
	pipeline *executor.Pipeline,
	cooldownMgr *cooldown.Manager,
	log *zap.Logger,
) *Manager {
	m := &Manager{
		store:     st,
		pipeline:  pipeline,
		scheduler: sched,
		cooldown:  cooldownMgr,
		log:       log,
	}
	return m
}

// SetBreakdown wires the breakdown procedure. Separate from New because
// breakdown.New requires a LoopStarter, and Manager itself fills that role.
func (m *Manager) SetBreakdown(b *breakdown.Breakdown) { m.breakdown = b }

// Wire attaches the scheduler once it has been constructed. Separate from
// New because the scheduler's PauseCheck closes over this Manager's
// IsPaused, creating a construction-order cycle that only a post-hoc setter
// can break.
func (m *Manager) Wire(sched *scheduler.Scheduler) { m.scheduler = sched }

// SetNotifier wires the §6.2 notification callback into both the executor
// pipeline and the scheduler's completion-propagation path.
func (m *Manager) SetNotifier(n executor.Notifier) {
	m.pipeline.SetNotifier(n)
	m.scheduler.SetNotifier(n)
}

// --- PRDs ---

func (m *Manager) CreatePRD(ctx context.Context, userID, project, title string) (*store.PRD, error) {
	return m.store.CreatePRD(ctx, &store.PRD{UserID: userID, Project: project, Title: title, Status: store.PRDStatusDraft})
}

func (m *Manager) ListPRDs(ctx context.Context, userID, project string) ([]*store.PRD, error) {
	return m.store.ListPRDs(ctx, userID, project)
}

func (m *Manager) GetPRD(ctx context.Context, id int64) (*store.PRD, error) {
	return m.store.GetPRD(ctx, id)
}

func (m *Manager) ActivatePRD(ctx context.Context, id int64) error {
	return m.store.UpdatePRDStatus(ctx, id, store.PRDStatusActive)
}

func (m *Manager) ArchivePRD(ctx context.Context, id int64) error {
	return m.store.UpdatePRDStatus(ctx, id, store.PRDStatusArchived)
}

// --- Stories ---

func (m *Manager) CreateStory(ctx context.Context, prdID int64, title, description string) (*store.Story, error) {
	return m.store.CreateStory(ctx, &store.Story{
		PRDID:       prdID,
		Title:       title,
		Description: description,
		Status:      store.StoryStatusPending,
	})
}

func (m *Manager) GetStory(ctx context.Context, id int64) (*store.Story, error) {
	return m.store.GetStory(ctx, id)
}

// ListStories returns the stories under one PRD. Unlike the command
// surface's optional prd_id, the persistence layer only indexes stories by
// PRD, so a prdID of 0 is an error rather than "every story for the user" —
// there is no cross-PRD story query to back that.
func (m *Manager) ListStories(ctx context.Context, prdID int64) ([]*store.Story, error) {
	if prdID == 0 {
		return nil, fmt.Errorf("manager: story list requires a prd id")
	}
	return m.store.ListStoriesByPRD(ctx, prdID)
}

// --- Tasks ---

func (m *Manager) CreateTask(ctx context.Context, storyID int64, title, description string) (*store.Task, error) {
	return m.store.CreateTask(ctx, &store.Task{
		StoryID:     storyID,
		Title:       title,
		Description: description,
		MaxRetries:  store.DefaultMaxRetries,
		Status:      store.TaskStatusPending,
	})
}

func (m *Manager) GetTask(ctx context.Context, id int64) (*store.Task, error) {
	return m.store.GetTask(ctx, id)
}

// ListTasks lists tasks filtered by status; an empty status lists every
// task regardless of state, matching `tasks [status]`'s optional argument.
func (m *Manager) ListTasks(ctx context.Context, status store.TaskStatus) ([]*store.Task, error) {
	return m.store.ListTasks(ctx, store.TaskFilter{Status: status})
}

// --- Queueing ---

func (m *Manager) QueueStory(ctx context.Context, storyID int64) (int, error) {
	return m.store.QueueTasksForStory(ctx, storyID)
}

func (m *Manager) QueuePRD(ctx context.Context, prdID int64) (int, error) {
	stories, err := m.store.ListStoriesByPRD(ctx, prdID)
	if err != nil {
		return 0, fmt.Errorf("manager: list stories for prd %d: %w", prdID, err)
	}
	total := 0
	for _, s := range stories {
		n, err := m.store.QueueTasksForStory(ctx, s.ID)
		if err != nil {
			return total, fmt.Errorf("manager: queue story %d: %w", s.ID, err)
		}
		total += n
	}
	return total, nil
}

// --- Autonomous loop control ---

// StartIfNotRunning implements breakdown.LoopStarter, letting `complex`
// start the loop itself as part of one breakdown call.
func (m *Manager) StartIfNotRunning(ctx context.Context) error {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.loopCancel != nil {
		return nil
	}
	return m.startLocked(ctx)
}

// StartLoop starts the scheduling loop, or returns an error if already running.
func (m *Manager) StartLoop(ctx context.Context) error {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()
	if m.loopCancel != nil {
		return fmt.Errorf("manager: scheduling loop already running")
	}
	return m.startLocked(ctx)
}

func (m *Manager) startLocked(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.loopCancel = cancel
	m.loopDone = done

	go func() {
		defer close(done)
		if err := m.scheduler.Run(loopCtx); err != nil {
			m.log.Error("scheduling_loop_error", zap.Error(err))
		}
	}()

	_ = ctx // the loop's own lifetime is independent of the caller's request context
	return nil
}

// StopLoop cancels the running scheduling loop and waits for it to drain.
func (m *Manager) StopLoop() error {
	m.loopMu.Lock()
	cancel := m.loopCancel
	done := m.loopDone
	m.loopCancel = nil
	m.loopDone = nil
	m.loopMu.Unlock()

	if cancel == nil {
		return fmt.Errorf("manager: scheduling loop is not running")
	}
	cancel()
	<-done
	return nil
}

// Pause suspends dispatch of new work without stopping the loop goroutine.
func (m *Manager) Pause() { atomic.StoreInt32(&m.paused, 1) }

// Resume lifts a prior Pause.
func (m *Manager) Resume() { atomic.StoreInt32(&m.paused, 0) }

// IsPaused reports the current pause state, wired into the scheduler's
// PauseCheck at construction time.
func (m *Manager) IsPaused() bool { return atomic.LoadInt32(&m.paused) == 1 }

// LoopStatus reports whether the scheduling loop is running and paused.
type LoopStatus struct {
	Running bool
	Paused  bool
}

func (m *Manager) Status() LoopStatus {
	m.loopMu.Lock()
	running := m.loopCancel != nil
	m.loopMu.Unlock()
	return LoopStatus{Running: running, Paused: m.IsPaused()}
}

// --- Learnings ---

func (m *Manager) ListLearnings(ctx context.Context, userID, project string) ([]*store.Learning, error) {
	return m.store.GetLearnings(ctx, userID, project)
}

func (m *Manager) SearchLearnings(ctx context.Context, userID, query string, limit int) ([]*store.Learning, error) {
	return m.store.SearchLearnings(ctx, userID, query, limit)
}

func (m *Manager) AddLearning(ctx context.Context, userID, project string, category store.LearningCategory, title, content string) (*store.Learning, error) {
	return m.store.StoreLearning(ctx, &store.Learning{
		UserID:     userID,
		Project:    project,
		Category:   category,
		Title:      title,
		Content:    content,
		Confidence: 1.0,
		IsActive:   true,
	})
}

// --- Cooldown ---

func (m *Manager) CooldownStatus() cooldown.State { return m.cooldown.GetState() }

func (m *Manager) CooldownClear() { m.cooldown.Deactivate() }

func (m *Manager) CooldownTest(minutes int) { m.cooldown.Activate(minutes) }

// --- Complex (PRD breakdown + queue + loop start) ---

func (m *Manager) Complex(ctx context.Context, userID, project, text string) (*breakdown.Result, error) {
	if m.breakdown == nil {
		return nil, fmt.Errorf("manager: breakdown procedure not wired")
	}
	return m.breakdown.Run(ctx, breakdown.Request{UserID: userID, Project: project, Text: text})
}
