package breakdown

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/ralph-labs/orchestrator/internal/store"
)

const validDoc = `{
  "prd_title": "Add JSON logging",
  "prd_description": "Switch application logging to structured JSON output",
  "stories": [
    {
      "title": "Logger setup",
      "description": "Introduce the structured logger",
      "tasks": [
        {"title": "Add zap dependency", "description": "Wire zap into cmd/main.go", "priority": 2},
        {"title": "Replace log.Printf calls", "description": "Swap stdlib log calls for zap", "priority": 1}
      ]
    }
  ]
}`

func TestRun_StructuredCallSucceeds(t *testing.T) {
	fs := &fakeStore{}
	runner := &fakeRunner{structuredText: validDoc}
	loop := &fakeLoopStarter{}
	b := New(fs, runner, loop, zap.NewNop())

	result, err := b.Run(context.Background(), Request{UserID: "u1", Project: "demo", Text: "add json logging"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.PRD.Title != "Add JSON logging" {
		t.Errorf("unexpected prd title: %q", result.PRD.Title)
	}
	if len(result.Stories) != 1 {
		t.Fatalf("expected 1 story, got %d", len(result.Stories))
	}
	if result.TaskCount != 2 {
		t.Errorf("expected 2 tasks, got %d", result.TaskCount)
	}
	if len(fs.queuedStoryIDs) != 1 {
		t.Errorf("expected story to be queued, got %v", fs.queuedStoryIDs)
	}
	if !loop.called {
		t.Error("expected scheduling loop to be started")
	}
	if runner.freeCalls != 0 {
		t.Errorf("expected no fallback calls when structured parse succeeds, got %d", runner.freeCalls)
	}
}

func TestRun_FallsBackToFreeTextWhenStructuredUnparseable(t *testing.T) {
	fs := &fakeStore{}
	runner := &fakeRunner{
		structuredText: "not json at all",
		freeText:       validDoc,
	}
	b := New(fs, runner, &fakeLoopStarter{}, zap.NewNop())

	result, err := b.Run(context.Background(), Request{Project: "demo", Text: "add json logging"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.TaskCount != 2 {
		t.Errorf("expected 2 tasks from fallback, got %d", result.TaskCount)
	}
	if runner.freeCalls != 1 {
		t.Errorf("expected exactly one free-text call, got %d", runner.freeCalls)
	}
}

func TestRun_SelfRepairsMalformedFreeTextJSON(t *testing.T) {
	fs := &fakeStore{}
	runner := &fakeRunner{
		structuredErr: errFake,
		freeText:      `{"prd_title": "Add logging", "prd_description": "desc", "stories": [` /* truncated, invalid */,
		fixText:       validDoc,
	}
	b := New(fs, runner, &fakeLoopStarter{}, zap.NewNop())

	result, err := b.Run(context.Background(), Request{Project: "demo", Text: "add logging"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.TaskCount != 2 {
		t.Errorf("expected self-repair to recover valid document, got %d tasks", result.TaskCount)
	}
	if runner.freeCalls != 2 {
		t.Errorf("expected free-text call plus one self-repair call, got %d", runner.freeCalls)
	}
}

func TestRun_FencedCodeBlockIsExtracted(t *testing.T) {
	fs := &fakeStore{}
	wrapped := "Here is the plan:\n```json\n" + validDoc + "\n```\n"
	runner := &fakeRunner{structuredText: wrapped}
	b := New(fs, runner, &fakeLoopStarter{}, zap.NewNop())

	result, err := b.Run(context.Background(), Request{Project: "demo", Text: "add json logging"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.TaskCount != 2 {
		t.Errorf("expected fenced block to parse, got %d tasks", result.TaskCount)
	}
}

func TestRun_AllAttemptsFail(t *testing.T) {
	fs := &fakeStore{}
	runner := &fakeRunner{
		structuredText: "garbage",
		freeText:       "still garbage",
		fixText:        "also garbage",
	}
	b := New(fs, runner, &fakeLoopStarter{}, zap.NewNop())

	_, err := b.Run(context.Background(), Request{Project: "demo", Text: "add json logging"})
	if err == nil {
		t.Fatal("expected error when no attempt parses")
	}
}

func TestPersist_QueuesEveryStory(t *testing.T) {
	fs := &fakeStore{}
	doc := &document{
		PRDTitle:       "T",
		PRDDescription: "D",
		Stories: []storyDoc{
			{Title: "S1", Tasks: []taskDoc{{Title: "t1"}}},
			{Title: "S2", Tasks: []taskDoc{{Title: "t2"}, {Title: "t3"}}},
		},
	}
	b := New(fs, &fakeRunner{}, nil, zap.NewNop())

	result, err := b.persist(context.Background(), Request{UserID: "u", Project: "p"}, doc)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if len(result.Stories) != 2 {
		t.Fatalf("expected 2 stories, got %d", len(result.Stories))
	}
	if result.TaskCount != 3 {
		t.Errorf("expected 3 tasks, got %d", result.TaskCount)
	}
	if len(fs.queuedStoryIDs) != 2 {
		t.Errorf("expected both stories queued, got %v", fs.queuedStoryIDs)
	}
	if fs.prds[0].Status != store.PRDStatusActive {
		t.Errorf("expected prd to be created active, got %s", fs.prds[0].Status)
	}
}

func TestParseDocument_RejectsMissingTitle(t *testing.T) {
	_, err := parseDocument(`{"prd_description": "d", "stories": []}`)
	if err == nil {
		t.Fatal("expected error for missing prd_title")
	}
}

func TestParseDocument_RejectsEmptyStories(t *testing.T) {
	_, err := parseDocument(`{"prd_title": "t", "prd_description": "d", "stories": []}`)
	if err == nil || !strings.Contains(err.Error(), "stories") {
		t.Fatalf("expected stories-empty error, got %v", err)
	}
}

func TestStoryPriority_DefaultsWhenNoTasks(t *testing.T) {
	if got := storyPriority(nil); got != DefaultTaskPriority {
		t.Errorf("expected default priority %d, got %d", DefaultTaskPriority, got)
	}
}

func TestStoryPriority_UsesHighestTaskPriority(t *testing.T) {
	tasks := []taskDoc{{Priority: 1}, {Priority: 3}, {Priority: 2}}
	if got := storyPriority(tasks); got != 3 {
		t.Errorf("expected 3, got %d", got)
	}
}
