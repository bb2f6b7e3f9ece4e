package manager

import (
	"context"
	"errors"

	"github.com/ralph-labs/orchestrator/internal/store"
)

// fakeStore is a minimal in-memory store.Store covering what Manager
// actually touches; every other method returns a zero value.
type fakeStore struct {
	prds      map[int64]*store.PRD
	stories   map[int64]*store.Story
	tasks     map[int64]*store.Task
	learnings []*store.Learning

	byPRD map[int64][]int64

	queuedStoryIDs []int64

	nextPRDID   int64
	nextStoryID int64
	nextTaskID  int64
	nextLearnID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		prds:    make(map[int64]*store.PRD),
		stories: make(map[int64]*store.Story),
		tasks:   make(map[int64]*store.Task),
		byPRD:   make(map[int64][]int64),
	}
}

func (f *fakeStore) CreatePRD(_ context.Context, p *store.PRD) (*store.PRD, error) {
	f.nextPRDID++
	p.ID = f.nextPRDID
	f.prds[p.ID] = p
	return p, nil
}
func (f *fakeStore) GetPRD(_ context.Context, id int64) (*store.PRD, error) {
	p, ok := f.prds[id]
	if !ok {
		return nil, errors.New("prd not found")
	}
	return p, nil
}
func (f *fakeStore) ListPRDs(_ context.Context, userID, project string) ([]*store.PRD, error) {
	var out []*store.PRD
	for _, p := range f.prds {
		if (userID == "" || p.UserID == userID) && (project == "" || p.Project == project) {
			out = append(out, p)
		}
	}
	return out, nil
}
func (f *fakeStore) UpdatePRDStatus(_ context.Context, id int64, status store.PRDStatus) error {
	p, ok := f.prds[id]
	if !ok {
		return errors.New("prd not found")
	}
	p.Status = status
	return nil
}

func (f *fakeStore) CreateStory(_ context.Context, s *store.Story) (*store.Story, error) {
	f.nextStoryID++
	s.ID = f.nextStoryID
	f.stories[s.ID] = s
	f.byPRD[s.PRDID] = append(f.byPRD[s.PRDID], s.ID)
	return s, nil
}
func (f *fakeStore) GetStory(_ context.Context, id int64) (*store.Story, error) {
	s, ok := f.stories[id]
	if !ok {
		return nil, errors.New("story not found")
	}
	return s, nil
}
func (f *fakeStore) ListStoriesByPRD(_ context.Context, prdID int64) ([]*store.Story, error) {
	var out []*store.Story
	for _, id := range f.byPRD[prdID] {
		out = append(out, f.stories[id])
	}
	return out, nil
}
func (f *fakeStore) UpdateStoryStatus(_ context.Context, id int64, status store.StoryStatus) error {
	s, ok := f.stories[id]
	if !ok {
		return errors.New("story not found")
	}
	s.Status = status
	return nil
}

func (f *fakeStore) CreateTask(_ context.Context, t *store.Task) (*store.Task, error) {
	f.nextTaskID++
	t.ID = f.nextTaskID
	f.tasks[t.ID] = t
	return t, nil
}
func (f *fakeStore) GetTask(_ context.Context, id int64) (*store.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, errors.New("task not found")
	}
	return t, nil
}
func (f *fakeStore) ListTasks(_ context.Context, filter store.TaskFilter) ([]*store.Task, error) {
	var out []*store.Task
	for _, t := range f.tasks {
		if filter.Status == "" || t.Status == filter.Status {
			out = append(out, t)
		}
	}
	return out, nil
}
func (f *fakeStore) ListTasksByStory(context.Context, int64) ([]*store.Task, error) { return nil, nil }
func (f *fakeStore) UpdateTaskStatus(context.Context, int64, store.TaskStatus, store.TaskUpdate) error {
	return nil
}

func (f *fakeStore) QueueTasksForStory(_ context.Context, storyID int64) (int, error) {
	f.queuedStoryIDs = append(f.queuedStoryIDs, storyID)
	return 1, nil
}
func (f *fakeStore) GetNextQueuedTask(context.Context) (*store.Task, error) { return nil, nil }

func (f *fakeStore) StoreLearning(_ context.Context, l *store.Learning) (*store.Learning, error) {
	f.nextLearnID++
	l.ID = f.nextLearnID
	f.learnings = append(f.learnings, l)
	return l, nil
}
func (f *fakeStore) GetLearnings(_ context.Context, userID, project string) ([]*store.Learning, error) {
	var out []*store.Learning
	for _, l := range f.learnings {
		if (userID == "" || l.UserID == userID) && (project == "" || l.Project == project) {
			out = append(out, l)
		}
	}
	return out, nil
}
func (f *fakeStore) SearchLearnings(context.Context, string, string, int) ([]*store.Learning, error) {
	return f.learnings, nil
}
func (f *fakeStore) TouchLearning(context.Context, int64) error    { return nil }
func (f *fakeStore) DecayLearnings(context.Context, float64) error { return nil }

func (f *fakeStore) GetDailyCounters(context.Context, string) (int, int, error) { return 0, 0, nil }
func (f *fakeStore) IncrementDailyCounter(context.Context, string, int, int) error {
	return nil
}
func (f *fakeStore) Close() error { return nil }
