package scheduler

import (
	"context"
	"fmt"

	"github.com/ralph-labs/orchestrator/internal/store"
)

// propagateCompletion implements spec.md §4.5.3: after a task reaches a
// terminal state, recompute its story's aggregate status, and if the story
// just went terminal, recompute its PRD's.
func (s *Scheduler) propagateCompletion(ctx context.Context, taskID int64) error {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("scheduler: get task %d: %w", taskID, err)
	}
	if !task.Status.IsTerminal() {
		return nil
	}

	story, err := s.store.GetStory(ctx, task.StoryID)
	if err != nil {
		return fmt.Errorf("scheduler: get story %d: %w", task.StoryID, err)
	}

	siblings, err := s.store.ListTasksByStory(ctx, story.ID)
	if err != nil {
		return fmt.Errorf("scheduler: list story tasks: %w", err)
	}

	prd, err := s.store.GetPRD(ctx, story.PRDID)
	if err != nil {
		return fmt.Errorf("scheduler: get prd %d: %w", story.PRDID, err)
	}

	newStoryStatus, storyTerminal := aggregateStoryStatus(siblings)
	if storyTerminal && newStoryStatus != story.Status {
		if err := s.store.UpdateStoryStatus(ctx, story.ID, newStoryStatus); err != nil {
			return fmt.Errorf("scheduler: update story status: %w", err)
		}
		s.notify.Safe(prd.UserID, fmt.Sprintf("Story %d (%s) %s.", story.ID, story.Title, newStoryStatus))
	} else if !storyTerminal {
		return nil
	}

	stories, err := s.store.ListStoriesByPRD(ctx, prd.ID)
	if err != nil {
		return fmt.Errorf("scheduler: list prd stories: %w", err)
	}
	// Reflect this propagation's own story update in the snapshot just
	// fetched, since ListStoriesByPRD may race the write above.
	for _, st := range stories {
		if st.ID == story.ID {
			st.Status = newStoryStatus
		}
	}

	newPRDStatus, prdTerminal := aggregatePRDStatus(stories)
	if prdTerminal && newPRDStatus != prd.Status {
		if err := s.store.UpdatePRDStatus(ctx, prd.ID, newPRDStatus); err != nil {
			return fmt.Errorf("scheduler: update prd status: %w", err)
		}
		completed, failed := 0, 0
		for _, st := range stories {
			if st.Status == store.StoryStatusCompleted {
				completed++
			} else if st.Status == store.StoryStatusFailed {
				failed++
			}
		}
		s.notify.Safe(prd.UserID, fmt.Sprintf(
			"PRD %d (%s) %s: %d/%d stories completed, %d failed.",
			prd.ID, prd.Title, newPRDStatus, completed, len(stories), failed,
		))
	}

	return nil
}

// aggregateStoryStatus computes a story's status from its tasks: COMPLETED
// if every task is terminal and none failed/cancelled, FAILED if every task
// is terminal and at least one did not complete successfully, otherwise the
// story is still in progress.
func aggregateStoryStatus(tasks []*store.Task) (status store.StoryStatus, terminal bool) {
	if len(tasks) == 0 {
		return store.StoryStatusPending, false
	}
	anyFailed := false
	for _, t := range tasks {
		if !t.Status.IsTerminal() {
			return store.StoryStatusPending, false
		}
		if t.Status != store.TaskStatusCompleted {
			anyFailed = true
		}
	}
	if anyFailed {
		return store.StoryStatusFailed, true
	}
	return store.StoryStatusCompleted, true
}

// aggregatePRDStatus computes a PRD's status from its stories, mirroring
// aggregateStoryStatus one level up.
func aggregatePRDStatus(stories []*store.Story) (status store.PRDStatus, terminal bool) {
	if len(stories) == 0 {
		return store.PRDStatusActive, false
	}
	anyFailed := false
	for _, st := range stories {
		if st.Status != store.StoryStatusCompleted && st.Status != store.StoryStatusFailed {
			return store.PRDStatusActive, false
		}
		if st.Status == store.StoryStatusFailed {
			anyFailed = true
		}
	}
	if anyFailed {
		return store.PRDStatusFailed, true
	}
	return store.PRDStatusCompleted, true
}
