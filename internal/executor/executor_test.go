package executor

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ralph-labs/orchestrator/internal/agent"
	"github.com/ralph-labs/orchestrator/internal/learning"
	"github.com/ralph-labs/orchestrator/internal/store"
	"github.com/ralph-labs/orchestrator/internal/telemetry"
)

func newTestTask() (*store.Task, *store.Story, *store.PRD) {
	prd := &store.PRD{ID: 1, UserID: "u1", Project: "proj", Title: "Widget PRD", Description: "Build a widget"}
	story := &store.Story{ID: 10, PRDID: 1, Title: "Widget story", Description: "As a user...", Acceptance: store.StringSlice{"widgets render"}}
	task := &store.Task{
		ID: 100, StoryID: 10, Title: "Implement widget renderer",
		Description: "Render the widget on screen", Status: store.TaskStatusQueued,
		MaxRetries: 2,
	}
	return task, story, prd
}

func newTestPipeline(t *testing.T, st *fakeStore, g *fakeGit, runner *fakeAgentRunner, cfg Config) *Pipeline {
	t.Helper()
	reg := prometheus.NewRegistry()
	return New(st, g, &sync.Mutex{}, runner, nil, nil, learning.New(), telemetry.New(reg), zap.NewNop(), cfg)
}

func TestExecute_Success_NoGatesNoVerification(t *testing.T) {
	task, story, prd := newTestTask()
	st := newFakeStore(task, story, prd)
	g := &fakeGit{}
	runner := &fakeAgentRunner{resp: &agent.Response{FinalText: "Done.\nModified: widget.go\n"}}

	p := newTestPipeline(t, st, g, runner, Config{ProjectPath: "/tmp/proj"})

	outcome, err := p.Execute(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusCompleted, outcome.FinalStatus)
	assert.False(t, outcome.Requeued)

	final := st.tasks[task.ID]
	assert.Equal(t, store.TaskStatusCompleted, final.Status)
	assert.NotEmpty(t, final.Type)
	assert.NotEmpty(t, final.Effort)
}

func TestExecute_AgentFailure_RequeuesWhenRetryBudgetRemains(t *testing.T) {
	task, story, prd := newTestTask()
	task.RetryCount = 0
	st := newFakeStore(task, story, prd)
	g := &fakeGit{}
	runner := &fakeAgentRunner{err: assertError("agent exploded")}

	p := newTestPipeline(t, st, g, runner, Config{ProjectPath: "/tmp/proj"})

	outcome, err := p.Execute(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusQueued, outcome.FinalStatus)
	assert.True(t, outcome.Requeued)
	assert.Equal(t, 1, st.tasks[task.ID].RetryCount)
}

func TestExecute_AgentFailure_FailsWhenRetriesExhausted(t *testing.T) {
	task, story, prd := newTestTask()
	task.RetryCount = 2
	task.MaxRetries = 2
	st := newFakeStore(task, story, prd)
	g := &fakeGit{}
	runner := &fakeAgentRunner{err: assertError("agent exploded")}

	p := newTestPipeline(t, st, g, runner, Config{ProjectPath: "/tmp/proj"})

	outcome, err := p.Execute(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusFailed, outcome.FinalStatus)
	assert.False(t, outcome.Requeued)
	assert.Len(t, st.stored, 1, "expected a pitfall learning extracted on failure")
}

func TestExecute_UnknownTask_ReturnsError(t *testing.T) {
	task, story, prd := newTestTask()
	st := newFakeStore(task, story, prd)
	g := &fakeGit{}
	runner := &fakeAgentRunner{}

	p := newTestPipeline(t, st, g, runner, Config{})

	_, err := p.Execute(context.Background(), 9999)
	require.Error(t, err)
}

func assertError(msg string) error { return &testErr{msg: msg} }

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }
