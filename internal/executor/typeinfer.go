package executor

import (
	"strings"

	"github.com/ralph-labs/orchestrator/internal/store"
)

// taskTypeKeywords maps each non-default TaskType to the keywords step 2
// scores a task's title+description against. Implementation is the default
// when no category scores higher, mirroring the teacher's InferCommitType
// idiom of scanning for the strongest keyword signal rather than requiring
// an exact match.
var taskTypeKeywords = map[store.TaskType][]string{
	store.TaskTypeBugFix: {
		"fix", "bug", "crash", "broken", "regression", "incorrect",
		"error", "fails", "failing", "defect", "issue",
	},
	store.TaskTypeRefactor: {
		"refactor", "restructure", "reorganize", "simplify", "extract",
		"rename", "cleanup", "consolidate", "dedupe", "deduplicate",
	},
	store.TaskTypeTesting: {
		"test", "tests", "testing", "coverage", "spec", "assertion",
		"unit test", "integration test",
	},
}

// InferTaskType scores title+description against taskTypeKeywords and
// returns the category with the most keyword hits, defaulting to
// implementation when nothing scores above zero. Grounded stylistically on
// internal/git's InferCommitType keyword-prefix idiom, generalized from
// commit-message prefixes to whole-text keyword scoring.
func InferTaskType(title, description string) store.TaskType {
	text := strings.ToLower(title + " " + description)

	best := store.TaskTypeImplement
	bestScore := 0
	for category, keywords := range taskTypeKeywords {
		score := 0
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = category
		}
	}
	return best
}
