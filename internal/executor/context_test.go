package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ralph-labs/orchestrator/internal/store"
)

func TestRankLearnings_OrdersByScoreAndAppliesThreshold(t *testing.T) {
	task := &store.Task{Title: "Fix widget cache bug", Description: "Widget cache returns stale entries"}

	relevant := &store.Learning{ID: 1, Title: "Widget cache invalidation", Content: "Always invalidate the widget cache on write", RelevanceKeywords: store.StringSlice{"widget", "cache"}, Confidence: 0.9, IsActive: true}
	irrelevant := &store.Learning{ID: 2, Title: "Unrelated payments flow", Content: "Payments use a completely different pipeline", RelevanceKeywords: store.StringSlice{"payments", "stripe"}, Confidence: 0.9, IsActive: true}
	inactive := &store.Learning{ID: 3, Title: "Widget cache invalidation", Content: "widget cache", RelevanceKeywords: store.StringSlice{"widget", "cache"}, Confidence: 0.9, IsActive: false}

	ranked := rankLearnings(task, []*store.Learning{irrelevant, relevant, inactive}, 10)

	if assert.Len(t, ranked, 1) {
		assert.Equal(t, int64(1), ranked[0].ID)
	}
}

func TestRankLearnings_CapsAtN(t *testing.T) {
	task := &store.Task{Title: "Fix widget cache bug", Description: "Widget cache returns stale entries"}

	var learnings []*store.Learning
	for i := 0; i < 20; i++ {
		learnings = append(learnings, &store.Learning{
			ID: int64(i), Title: "Widget cache note", Content: "widget cache",
			RelevanceKeywords: store.StringSlice{"widget", "cache"}, Confidence: 0.8, IsActive: true,
		})
	}

	ranked := rankLearnings(task, learnings, 10)
	assert.Len(t, ranked, 10)
}

func TestUsageBonus_CapsAt1_2(t *testing.T) {
	assert.InDelta(t, 1.0, usageBonus(0), 0.001)
	assert.InDelta(t, 1.2, usageBonus(100), 0.001)
}
