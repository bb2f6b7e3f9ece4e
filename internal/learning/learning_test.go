package learning

import (
	"testing"

	"github.com/ralph-labs/orchestrator/internal/store"
)

func TestExtract_FailureProducesPitfall(t *testing.T) {
	task := &store.Task{ID: 1, Title: "Fix login bug", Description: "Session tokens expire too early"}
	out := Outcome{
		Task:         task,
		Success:      false,
		ErrorMessage: "panic: nil pointer dereference in auth.Validate",
	}

	learnings := New().Extract(out)
	if len(learnings) != 1 {
		t.Fatalf("expected 1 learning, got %d", len(learnings))
	}
	if learnings[0].Category != store.LearningPitfall {
		t.Errorf("expected pitfall category, got %s", learnings[0].Category)
	}
	if learnings[0].Confidence != 0.8 {
		t.Errorf("expected confidence 0.8, got %f", learnings[0].Confidence)
	}
}

func TestExtract_MarkerScanFindsPattern(t *testing.T) {
	task := &store.Task{ID: 2, Title: "Add caching layer", Description: "Speed up repeated queries"}
	output := "Pattern: Using a write-through cache keyed by request hash avoids duplicate " +
		"upstream calls and keeps the cache consistent with the backing store.\n\n" +
		"Rest of the output follows here with more details about implementation."
	out := Outcome{Task: task, Success: true, AgentOutput: output}

	learnings := New().Extract(out)
	if len(learnings) != 1 {
		t.Fatalf("expected 1 learning, got %d", len(learnings))
	}
	if learnings[0].Category != store.LearningPattern {
		t.Errorf("expected pattern category, got %s", learnings[0].Category)
	}
}

func TestExtract_NoMarkersFallsBackToGenericPattern(t *testing.T) {
	task := &store.Task{ID: 3, Title: "Refactor parser", Description: "Split tokenizer from evaluator"}
	out := Outcome{
		Task:         task,
		Success:      true,
		AgentOutput:  longFillerText(600),
		FilesChanged: []string{"parser.go", "tokenizer.go"},
	}

	learnings := New().Extract(out)
	if len(learnings) != 1 {
		t.Fatalf("expected 1 generic learning, got %d", len(learnings))
	}
	if learnings[0].Category != store.LearningPattern {
		t.Errorf("expected pattern category, got %s", learnings[0].Category)
	}
	if learnings[0].Confidence != 0.5 {
		t.Errorf("expected confidence 0.5, got %f", learnings[0].Confidence)
	}
}

func TestExtract_ShortOutputNoFilesProducesNothing(t *testing.T) {
	task := &store.Task{ID: 4, Title: "Small tweak", Description: "Tiny change"}
	out := Outcome{Task: task, Success: true, AgentOutput: "Done."}

	learnings := New().Extract(out)
	if len(learnings) != 0 {
		t.Fatalf("expected no learnings, got %d", len(learnings))
	}
}

func TestExtract_QualityGateFailureProducesTestingLearning(t *testing.T) {
	task := &store.Task{ID: 5, Title: "Add validation", Description: "Reject malformed input"}
	qg := &store.QualityGateResult{TestsRun: 10, TestsFailed: 2, TypecheckPassed: true, LintPassed: true}
	out := Outcome{Task: task, Success: false, QualityGate: qg, QualityGateFailed: true}

	learnings := New().Extract(out)
	if len(learnings) != 1 {
		t.Fatalf("expected 1 learning, got %d", len(learnings))
	}
	if learnings[0].Category != store.LearningTesting {
		t.Errorf("expected testing category, got %s", learnings[0].Category)
	}
	if learnings[0].Confidence != 0.9 {
		t.Errorf("expected confidence 0.9, got %f", learnings[0].Confidence)
	}
}

func TestExtractKeywords_FiltersStopWordsAndShortTokens(t *testing.T) {
	text := "The connection was reset and the database query failed because of a timeout"
	kws := extractKeywords(text, 10)

	for _, kw := range kws {
		if stopWords[kw] {
			t.Errorf("stop word %q leaked into keywords", kw)
		}
		if len(kw) <= 2 {
			t.Errorf("short token %q leaked into keywords", kw)
		}
	}
}

func TestExtractKeywords_OrdersByFrequency(t *testing.T) {
	text := "cache cache cache query query timeout"
	kws := extractKeywords(text, 10)
	if len(kws) == 0 || kws[0] != "cache" {
		t.Fatalf("expected cache (highest frequency) first, got %v", kws)
	}
}

func longFillerText(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a' + byte(i%26)
	}
	return string(b)
}
