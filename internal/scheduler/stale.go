package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ralph-labs/orchestrator/internal/store"
)

// StaleTimeout is the IN_PROGRESS age (§4.5.2) past which a task is assumed
// to be left over from a crashed process.
const StaleTimeout = 60 * time.Minute

// recoverStaleTasks implements spec.md §4.5.2: on start, before the poll
// routine spawns, any task still IN_PROGRESS from a prior crash is either
// requeued (retry budget remains) or failed outright. This is the sole
// crash-recovery mechanism; nothing else assumes process continuity.
func (s *Scheduler) recoverStaleTasks(ctx context.Context) error {
	tasks, err := s.store.ListTasks(ctx, store.TaskFilter{Status: store.TaskStatusInProgress})
	if err != nil {
		return fmt.Errorf("scheduler: list in_progress tasks: %w", err)
	}

	now := time.Now()
	for _, t := range tasks {
		if t.StartedAt == nil || now.Sub(*t.StartedAt) <= StaleTimeout {
			continue
		}

		userID := s.taskOwnerUserID(ctx, t)

		if t.RetryCount < t.MaxRetries {
			nextRetry := t.RetryCount + 1
			reason := "recovered from stale state"
			if err := s.store.UpdateTaskStatus(ctx, t.ID, store.TaskStatusQueued, store.TaskUpdate{
				RetryCount:   &nextRetry,
				ErrorMessage: &reason,
			}); err != nil {
				s.log.Warn("stale_requeue_failed", zap.Int64("task_id", t.ID), zap.Error(err))
				continue
			}
			s.notify.Safe(userID, fmt.Sprintf("Task %d (%s) recovered from stale state, retrying (%d/%d).", t.ID, t.Title, nextRetry, t.MaxRetries))
			continue
		}

		reason := "no retries left"
		if err := s.store.UpdateTaskStatus(ctx, t.ID, store.TaskStatusFailed, store.TaskUpdate{
			ErrorMessage:     &reason,
			TouchCompletedAt: true,
		}); err != nil {
			s.log.Warn("stale_fail_failed", zap.Int64("task_id", t.ID), zap.Error(err))
			continue
		}
		s.notify.Safe(userID, fmt.Sprintf("Task %d (%s) failed: recovered from stale state with no retries left.", t.ID, t.Title))
		if err := s.propagateCompletion(ctx, t.ID); err != nil {
			s.log.Warn("stale_propagate_failed", zap.Int64("task_id", t.ID), zap.Error(err))
		}
	}

	return nil
}

// taskOwnerUserID resolves the user a notification about t should go to, by
// walking task -> story -> PRD. Returns "" (a no-op for Notifier.Safe) if
// any lookup fails, since a missing notification is preferable to aborting
// stale recovery over it.
func (s *Scheduler) taskOwnerUserID(ctx context.Context, t *store.Task) string {
	story, err := s.store.GetStory(ctx, t.StoryID)
	if err != nil {
		s.log.Warn("stale_notify_story_lookup_failed", zap.Int64("task_id", t.ID), zap.Error(err))
		return ""
	}
	prd, err := s.store.GetPRD(ctx, story.PRDID)
	if err != nil {
		s.log.Warn("stale_notify_prd_lookup_failed", zap.Int64("task_id", t.ID), zap.Error(err))
		return ""
	}
	return prd.UserID
}
