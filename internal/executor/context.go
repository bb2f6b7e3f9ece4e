package executor

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ralph-labs/orchestrator/internal/store"
)

// DefaultTopLearnings is the default N in "top N relevant learnings" (step 1).
const DefaultTopLearnings = 10

// LearningRelevanceThreshold is the minimum score (step 1) below which a
// learning is not worth surfacing.
const LearningRelevanceThreshold = 0.1

// taskContext is everything step 1 gathers for prompt assembly.
type taskContext struct {
	Task              *store.Task
	Story             *store.Story
	PRD               *store.PRD
	CompletedSiblings []*store.Task
	Learnings         []*store.Learning
}

// assembleContext performs step 1: fetch the task, its story and PRD, its
// completed siblings, and the top-ranked relevant learnings, touching each
// selected learning's usage bookkeeping.
func (p *Pipeline) assembleContext(ctx context.Context, taskID int64) (*taskContext, error) {
	task, err := p.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("executor: get task %d: %w", taskID, err)
	}

	story, err := p.store.GetStory(ctx, task.StoryID)
	if err != nil {
		return nil, fmt.Errorf("executor: get story %d: %w", task.StoryID, err)
	}

	prd, err := p.store.GetPRD(ctx, story.PRDID)
	if err != nil {
		return nil, fmt.Errorf("executor: get prd %d: %w", story.PRDID, err)
	}

	siblings, err := p.store.ListTasksByStory(ctx, task.StoryID)
	if err != nil {
		return nil, fmt.Errorf("executor: list sibling tasks: %w", err)
	}
	completed := make([]*store.Task, 0, len(siblings))
	for _, s := range siblings {
		if s.ID != task.ID && s.Status == store.TaskStatusCompleted {
			completed = append(completed, s)
		}
	}

	learnings, err := p.store.GetLearnings(ctx, prd.UserID, prd.Project)
	if err != nil {
		return nil, fmt.Errorf("executor: get learnings: %w", err)
	}
	ranked := rankLearnings(task, learnings, DefaultTopLearnings)
	for _, l := range ranked {
		if err := p.store.TouchLearning(ctx, l.ID); err != nil {
			p.log.Warn("touch_learning_failed", zap.Int64("learning_id", l.ID), zap.Error(err))
		}
	}

	return &taskContext{
		Task:              task,
		Story:             story,
		PRD:               prd,
		CompletedSiblings: completed,
		Learnings:         ranked,
	}, nil
}

var wordSplitRe = regexp.MustCompile(`[^a-z0-9]+`)

// tokenize lowercases s and splits it into a set of words, dropping anything
// shorter than 3 characters (articles, numbers-as-noise).
func tokenize(s string) map[string]bool {
	words := wordSplitRe.Split(strings.ToLower(s), -1)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		if len(w) >= 3 {
			set[w] = true
		}
	}
	return set
}

// overlapFraction returns the fraction of needles present in haystack,
// 0 when needles is empty.
func overlapFraction(haystack map[string]bool, needles []string) float64 {
	if len(needles) == 0 {
		return 0
	}
	hits := 0
	for _, n := range needles {
		if haystack[strings.ToLower(n)] {
			hits++
		}
	}
	return float64(hits) / float64(len(needles))
}

// usageBonus rewards learnings that have proven useful before, capped so a
// handful of historical uses cannot outweigh actual relevance.
func usageBonus(usageCount int) float64 {
	bonus := 1.0 + float64(usageCount)*0.02
	return math.Min(bonus, 1.2)
}

// scoredLearning pairs a learning with its computed relevance score.
type scoredLearning struct {
	learning *store.Learning
	score    float64
}

// rankLearnings implements the step-1 relevance formula: overlap between the
// task's title/description and the learning's own title/content/keywords,
// weighted 0.5/0.3/0.2, scaled by the learning's confidence and a small
// usage-count bonus, thresholded at LearningRelevanceThreshold and capped at n.
func rankLearnings(task *store.Task, learnings []*store.Learning, n int) []*store.Learning {
	titleWords := tokenize(task.Title)
	descWords := tokenize(task.Description)
	allWords := tokenize(task.Title + " " + task.Description)

	scored := make([]scoredLearning, 0, len(learnings))
	for _, l := range learnings {
		if !l.IsActive {
			continue
		}
		titleOverlap := overlapFraction(titleWords, strings.Fields(strings.ToLower(l.Title)))
		contentOverlap := overlapFraction(descWords, strings.Fields(strings.ToLower(l.Content)))
		keywordOverlap := overlapFraction(allWords, []string(l.RelevanceKeywords))

		score := (0.5*titleOverlap + 0.3*contentOverlap + 0.2*keywordOverlap) * l.Confidence * usageBonus(l.UsageCount)
		if score >= LearningRelevanceThreshold {
			scored = append(scored, scoredLearning{learning: l, score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > n {
		scored = scored[:n]
	}

	out := make([]*store.Learning, len(scored))
	for i, s := range scored {
		out[i] = s.learning
	}
	return out
}
