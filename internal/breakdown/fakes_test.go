package breakdown

import (
	"context"
	"errors"

	"github.com/ralph-labs/orchestrator/internal/agent"
	"github.com/ralph-labs/orchestrator/internal/store"
)

// fakeStore is a minimal in-memory store.Store covering what Breakdown
// actually touches; every other method returns a zero value.
type fakeStore struct {
	prds    []*store.PRD
	stories []*store.Story
	tasks   []*store.Task

	queuedStoryIDs []int64
	nextPRDID      int64
	nextStoryID    int64
	nextTaskID     int64
}

func (f *fakeStore) CreatePRD(_ context.Context, p *store.PRD) (*store.PRD, error) {
	f.nextPRDID++
	p.ID = f.nextPRDID
	f.prds = append(f.prds, p)
	return p, nil
}
func (f *fakeStore) GetPRD(context.Context, int64) (*store.PRD, error) { return nil, nil }
func (f *fakeStore) ListPRDs(context.Context, string, string) ([]*store.PRD, error) {
	return nil, nil
}
func (f *fakeStore) UpdatePRDStatus(context.Context, int64, store.PRDStatus) error { return nil }

func (f *fakeStore) CreateStory(_ context.Context, s *store.Story) (*store.Story, error) {
	f.nextStoryID++
	s.ID = f.nextStoryID
	f.stories = append(f.stories, s)
	return s, nil
}
func (f *fakeStore) GetStory(context.Context, int64) (*store.Story, error) { return nil, nil }
func (f *fakeStore) ListStoriesByPRD(context.Context, int64) ([]*store.Story, error) {
	return nil, nil
}
func (f *fakeStore) UpdateStoryStatus(context.Context, int64, store.StoryStatus) error {
	return nil
}

func (f *fakeStore) CreateTask(_ context.Context, t *store.Task) (*store.Task, error) {
	f.nextTaskID++
	t.ID = f.nextTaskID
	f.tasks = append(f.tasks, t)
	return t, nil
}
func (f *fakeStore) GetTask(context.Context, int64) (*store.Task, error) { return nil, nil }
func (f *fakeStore) ListTasks(context.Context, store.TaskFilter) ([]*store.Task, error) {
	return nil, nil
}
func (f *fakeStore) ListTasksByStory(context.Context, int64) ([]*store.Task, error) {
	return nil, nil
}
func (f *fakeStore) UpdateTaskStatus(context.Context, int64, store.TaskStatus, store.TaskUpdate) error {
	return nil
}

func (f *fakeStore) QueueTasksForStory(_ context.Context, storyID int64) (int, error) {
	f.queuedStoryIDs = append(f.queuedStoryIDs, storyID)
	return 1, nil
}
func (f *fakeStore) GetNextQueuedTask(context.Context) (*store.Task, error) { return nil, nil }

func (f *fakeStore) StoreLearning(context.Context, *store.Learning) (*store.Learning, error) {
	return nil, nil
}
func (f *fakeStore) GetLearnings(context.Context, string, string) ([]*store.Learning, error) {
	return nil, nil
}
func (f *fakeStore) SearchLearnings(context.Context, string, string, int) ([]*store.Learning, error) {
	return nil, nil
}
func (f *fakeStore) TouchLearning(context.Context, int64) error    { return nil }
func (f *fakeStore) DecayLearnings(context.Context, float64) error { return nil }

func (f *fakeStore) GetDailyCounters(context.Context, string) (int, int, error) { return 0, 0, nil }
func (f *fakeStore) IncrementDailyCounter(context.Context, string, int, int) error {
	return nil
}
func (f *fakeStore) Close() error { return nil }

// fakeRunner returns canned responses for the structured call, the
// free-text fallback, and the self-repair round, in that order, tracked by
// call count so tests can force each path.
type fakeRunner struct {
	structuredText string
	structuredErr  error
	freeText       string
	freeErr        error
	fixText        string
	fixErr         error

	structuredCalls int
	freeCalls       int
}

func (r *fakeRunner) RunStructured(_ context.Context, _ agent.Request, _ []byte) (*agent.Response, error) {
	r.structuredCalls++
	if r.structuredErr != nil {
		return nil, r.structuredErr
	}
	return &agent.Response{FinalText: r.structuredText}, nil
}

func (r *fakeRunner) Run(_ context.Context, req agent.Request) (*agent.Response, error) {
	r.freeCalls++
	if r.freeCalls == 1 {
		if r.freeErr != nil {
			return nil, r.freeErr
		}
		return &agent.Response{FinalText: r.freeText}, nil
	}
	if r.fixErr != nil {
		return nil, r.fixErr
	}
	return &agent.Response{FinalText: r.fixText}, nil
}

type fakeLoopStarter struct {
	called bool
	err    error
}

func (l *fakeLoopStarter) StartIfNotRunning(context.Context) error {
	l.called = true
	return l.err
}

var errFake = errors.New("fake error")
