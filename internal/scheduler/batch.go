package scheduler

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ralph-labs/orchestrator/internal/store"
)

const circularDependencyReason = "circular dependency detected"

// selectBatch implements spec.md §4.5's parallel-batch selection: probe the
// head of the queue, detect and fail any circular dependencies in its
// story, then return up to `available` ready candidates ordered by
// (priority DESC, order ASC).
func (s *Scheduler) selectBatch(ctx context.Context, available int) ([]*store.Task, error) {
	if available <= 0 {
		return nil, nil
	}

	head, err := s.store.GetNextQueuedTask(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: get next queued task: %w", err)
	}
	if head == nil {
		return nil, nil
	}
	if s.cfg.MaxParallel == 1 {
		return []*store.Task{head}, nil
	}

	storyTasks, err := s.store.ListTasksByStory(ctx, head.StoryID)
	if err != nil {
		return nil, fmt.Errorf("scheduler: list story tasks: %w", err)
	}

	cyclic := buildGraph(storyTasks).detectCycles()
	for id := range cyclic {
		if err := s.failCyclicTask(ctx, id); err != nil {
			s.log.Warn("fail_cyclic_task_error", zap.Error(err))
		}
	}

	statusByID := make(map[int64]store.TaskStatus, len(storyTasks))
	for _, t := range storyTasks {
		statusByID[t.ID] = t.Status
	}

	var candidates []*store.Task
	for _, t := range storyTasks {
		if t.Status != store.TaskStatusQueued || cyclic[t.ID] || s.isActive(t.ID) {
			continue
		}
		if !dependenciesSatisfied(t, statusByID) {
			continue
		}
		candidates = append(candidates, t)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].Order < candidates[j].Order
	})

	if len(candidates) > available {
		candidates = candidates[:available]
	}
	if len(candidates) == 0 {
		candidates = []*store.Task{head}
	}

	return candidates, nil
}

// dependenciesSatisfied reports whether every entry in t.DependsOn that
// exists within statusByID (the current story) is COMPLETED. A dependency
// not present in statusByID belongs to another story and is treated as
// always-satisfied, per spec.md §4.5.1.
func dependenciesSatisfied(t *store.Task, statusByID map[int64]store.TaskStatus) bool {
	for _, dep := range t.DependsOn {
		if status, ok := statusByID[dep]; ok && status != store.TaskStatusCompleted {
			return false
		}
	}
	return true
}

func (s *Scheduler) failCyclicTask(ctx context.Context, taskID int64) error {
	reason := circularDependencyReason
	if err := s.store.UpdateTaskStatus(ctx, taskID, store.TaskStatusFailed, store.TaskUpdate{
		ErrorMessage:     &reason,
		TouchCompletedAt: true,
	}); err != nil {
		return err
	}
	return s.propagateCompletion(ctx, taskID)
}
