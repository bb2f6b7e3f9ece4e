package executor

import (
	"context"
	"errors"

	"github.com/ralph-labs/orchestrator/internal/agent"
	"github.com/ralph-labs/orchestrator/internal/store"
)

// fakeStore is a minimal in-memory store.Store covering what the executor
// actually touches; every other method returns a zero value.
type fakeStore struct {
	tasks     map[int64]*store.Task
	stories   map[int64]*store.Story
	prds      map[int64]*store.PRD
	siblings  map[int64][]*store.Task
	learnings []*store.Learning

	updates []fakeTaskUpdate
	touched []int64
	stored  []*store.Learning
}

type fakeTaskUpdate struct {
	id     int64
	status store.TaskStatus
	fields store.TaskUpdate
}

func newFakeStore(task *store.Task, story *store.Story, prd *store.PRD) *fakeStore {
	return &fakeStore{
		tasks:    map[int64]*store.Task{task.ID: task},
		stories:  map[int64]*store.Story{story.ID: story},
		prds:     map[int64]*store.PRD{prd.ID: prd},
		siblings: map[int64][]*store.Task{story.ID: {task}},
	}
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
func (f *fakeStore) UpdatePRDStatus(context.Context, int64, store.PRDStatus) error  { return nil }

func (f *fakeStore) CreateStory(context.Context, *store.Story) (*store.Story, error) { return nil, nil }
func (f *fakeStore) GetStory(_ context.Context, id int64) (*store.Story, error) {
	s, ok := f.stories[id]
	if !ok {
		return nil, errors.New("story not found")
	}
	return s, nil
}
func (f *fakeStore) ListStoriesByPRD(context.Context, int64) ([]*store.Story, error) { return nil, nil }
func (f *fakeStore) UpdateStoryStatus(context.Context, int64, store.StoryStatus) error {
	return nil
}

func (f *fakeStore) CreateTask(context.Context, *store.Task) (*store.Task, error) { return nil, nil }
func (f *fakeStore) GetTask(_ context.Context, id int64) (*store.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, errors.New("task not found")
	}
	cp := *t
	return &cp, nil
}
func (f *fakeStore) ListTasks(context.Context, store.TaskFilter) ([]*store.Task, error) {
	return nil, nil
}
func (f *fakeStore) ListTasksByStory(_ context.Context, storyID int64) ([]*store.Task, error) {
	return f.siblings[storyID], nil
}

func (f *fakeStore) UpdateTaskStatus(_ context.Context, id int64, status store.TaskStatus, fields store.TaskUpdate) error {
	f.updates = append(f.updates, fakeTaskUpdate{id: id, status: status, fields: fields})
	t, ok := f.tasks[id]
	if !ok {
		return errors.New("task not found")
	}
	t.Status = status
	if fields.Type != nil {
		t.Type = *fields.Type
	}
	if fields.Effort != nil {
		t.Effort = *fields.Effort
	}
	if fields.RetryCount != nil {
		t.RetryCount = *fields.RetryCount
	}
	if fields.ErrorMessage != nil {
		t.ErrorMessage = *fields.ErrorMessage
	}
	if fields.AgentOutput != nil {
		t.AgentOutput = *fields.AgentOutput
	}
	return nil
}

func (f *fakeStore) QueueTasksForStory(context.Context, int64) (int, error) { return 0, nil }
func (f *fakeStore) GetNextQueuedTask(context.Context) (*store.Task, error) { return nil, nil }

func (f *fakeStore) StoreLearning(_ context.Context, l *store.Learning) (*store.Learning, error) {
	f.stored = append(f.stored, l)
	return l, nil
}
func (f *fakeStore) GetLearnings(context.Context, string, string) ([]*store.Learning, error) {
	return f.learnings, nil
}
func (f *fakeStore) SearchLearnings(context.Context, string, string, int) ([]*store.Learning, error) {
	return nil, nil
}
func (f *fakeStore) TouchLearning(_ context.Context, id int64) error {
	f.touched = append(f.touched, id)
	return nil
}
func (f *fakeStore) DecayLearnings(context.Context, float64) error { return nil }

func (f *fakeStore) GetDailyCounters(context.Context, string) (int, int, error) { return 0, 0, nil }
func (f *fakeStore) IncrementDailyCounter(context.Context, string, int, int) error {
	return nil
}
func (f *fakeStore) Close() error { return nil }

// fakeGit is a no-op git.Manager: HasChanges always false, so the executor's
// checkpoint and result-commit steps skip committing.
type fakeGit struct {
	diff       string
	diffParent string
}

func (g *fakeGit) EnsureBranch(context.Context, string) error           { return nil }
func (g *fakeGit) GetCurrentCommit(context.Context) (string, error)     { return "deadbeef", nil }
func (g *fakeGit) HasChanges(context.Context) (bool, error)             { return false, nil }
func (g *fakeGit) GetDiffStat(context.Context) (string, error)          { return "", nil }
func (g *fakeGit) GetChangedFiles(context.Context) ([]string, error)    { return nil, nil }
func (g *fakeGit) Commit(context.Context, string) (string, error)       { return "abc123", nil }
func (g *fakeGit) GetCurrentBranch(context.Context) (string, error)     { return "main", nil }
func (g *fakeGit) GetDiff(context.Context) (string, error)              { return g.diff, nil }
func (g *fakeGit) GetDiffAgainstParent(context.Context) (string, error) { return g.diffParent, nil }

// fakeAgentRunner returns a canned response or error, ignoring req.
type fakeAgentRunner struct {
	resp *agent.Response
	err  error
}

func (r *fakeAgentRunner) Run(context.Context, agent.Request) (*agent.Response, error) {
	return r.resp, r.err
}
func (r *fakeAgentRunner) Invoke(context.Context, agent.Request, int) (*agent.Response, error) {
	return r.resp, r.err
}
