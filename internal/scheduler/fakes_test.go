package scheduler

import (
	"context"
	"errors"

	"github.com/ralph-labs/orchestrator/internal/store"
)

// fakeStore is a minimal in-memory store.Store covering what the scheduler
// actually touches; every other method returns a zero value.
type fakeStore struct {
	tasks    map[int64]*store.Task
	stories  map[int64]*store.Story
	prds     map[int64]*store.PRD
	byStory  map[int64][]int64
	byPRD    map[int64][]int64
	nextTask *store.Task

	updates []fakeTaskUpdate
}

type fakeTaskUpdate struct {
	id     int64
	status store.TaskStatus
	fields store.TaskUpdate
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:   make(map[int64]*store.Task),
		stories: make(map[int64]*store.Story),
		prds:    make(map[int64]*store.PRD),
		byStory: make(map[int64][]int64),
		byPRD:   make(map[int64][]int64),
	}
}

func (f *fakeStore) addTask(t *store.Task) {
	f.tasks[t.ID] = t
	f.byStory[t.StoryID] = append(f.byStory[t.StoryID], t.ID)
}

func (f *fakeStore) addStory(s *store.Story) {
	f.stories[s.ID] = s
	f.byPRD[s.PRDID] = append(f.byPRD[s.PRDID], s.ID)
}

func (f *fakeStore) addPRD(p *store.PRD) {
	f.prds[p.ID] = p
}

func (f *fakeStore) CreatePRD(context.Context, *store.PRD) (*store.PRD, error) { return nil, nil }
func (f *fakeStore) GetPRD(_ context.Context, id int64) (*store.PRD, error) {
	p, ok := f.prds[id]
	if !ok {
		return nil, errors.New("prd not found")
	}
	return p, nil
}
func (f *fakeStore) ListPRDs(context.Context, string, string) ([]*store.PRD, error) { return nil, nil }
func (f *fakeStore) UpdatePRDStatus(_ context.Context, id int64, status store.PRDStatus) error {
	p, ok := f.prds[id]
	if !ok {
		return errors.New("prd not found")
	}
	p.Status = status
	return nil
}

func (f *fakeStore) CreateStory(context.Context, *store.Story) (*store.Story, error) { return nil, nil }
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

func (f *fakeStore) CreateTask(context.Context, *store.Task) (*store.Task, error) { return nil, nil }
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
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}
func (f *fakeStore) ListTasksByStory(_ context.Context, storyID int64) ([]*store.Task, error) {
	var out []*store.Task
	for _, id := range f.byStory[storyID] {
		out = append(out, f.tasks[id])
	}
	return out, nil
}

func (f *fakeStore) UpdateTaskStatus(_ context.Context, id int64, status store.TaskStatus, fields store.TaskUpdate) error {
	f.updates = append(f.updates, fakeTaskUpdate{id: id, status: status, fields: fields})
	t, ok := f.tasks[id]
	if !ok {
		return errors.New("task not found")
	}
	t.Status = status
	if fields.RetryCount != nil {
		t.RetryCount = *fields.RetryCount
	}
	if fields.ErrorMessage != nil {
		t.ErrorMessage = *fields.ErrorMessage
	}
	return nil
}

func (f *fakeStore) QueueTasksForStory(context.Context, int64) (int, error) { return 0, nil }
func (f *fakeStore) GetNextQueuedTask(context.Context) (*store.Task, error) { return f.nextTask, nil }

func (f *fakeStore) StoreLearning(context.Context, *store.Learning) (*store.Learning, error) {
	return nil, nil
}
func (f *fakeStore) GetLearnings(context.Context, string, string) ([]*store.Learning, error) {
	return nil, nil
}
func (f *fakeStore) SearchLearnings(context.Context, string, string, int) ([]*store.Learning, error) {
	return nil, nil
}
func (f *fakeStore) TouchLearning(context.Context, int64) error   { return nil }
func (f *fakeStore) DecayLearnings(context.Context, float64) error { return nil }

func (f *fakeStore) GetDailyCounters(context.Context, string) (int, int, error) { return 0, 0, nil }
func (f *fakeStore) IncrementDailyCounter(context.Context, string, int, int) error {
	return nil
}
func (f *fakeStore) Close() error { return nil }
