package executor

import (
	"fmt"
	"strings"
)

// PromptOptions bounds the size of each assembled prompt section, matching
// the teacher's prompt.SizeOptions budget-then-truncate idiom.
type PromptOptions struct {
	MaxPRDBytes      int
	MaxStoryBytes    int
	MaxSiblingsBytes int
	MaxLearningBytes int
}

// DefaultPromptOptions mirrors the teacher's DefaultSizeOptions scale,
// widened slightly since a task prompt carries more sections than an
// iteration prompt.
func DefaultPromptOptions() PromptOptions {
	return PromptOptions{
		MaxPRDBytes:      2000,
		MaxStoryBytes:    2000,
		MaxSiblingsBytes: 2000,
		MaxLearningBytes: 3000,
	}
}

// Builder assembles the system and user prompts for one task's agent
// invocation. Grounded on the teacher's internal/prompt.Builder, generalized
// from "codebase patterns + git diff" context to "PRD + story + sibling
// tasks + ranked learnings + task description".
type Builder struct {
	opts PromptOptions
}

// NewBuilder creates a Builder with opts, or DefaultPromptOptions if nil.
func NewBuilder(opts PromptOptions) *Builder {
	return &Builder{opts: opts}
}

// BuildSystemPrompt returns the harness instructions every task invocation
// shares.
func (b *Builder) BuildSystemPrompt() string {
	return `You are a coding agent working within an autonomous orchestration harness.

## Your role
You implement exactly one task at a time. The harness selects tasks, runs quality gates, verifies your diff independently, and commits on your behalf.

## Rules
1. Implement ONLY the task described below. Do not start other tasks you notice along the way.
2. Write tests for the behavior you add or change.
3. Validate all external input; never hardcode secrets or credentials.
4. Handle errors explicitly; do not swallow them.
5. Do not commit your changes — the harness commits after quality gates and verification pass.
6. When you finish, list the files you created or modified, one per line, prefixed "Modified:" or "Created:".
`
}

// BuildUserPrompt assembles the task-specific prompt from tc: PRD context,
// story context, previously completed sibling tasks, ranked learnings, and
// the task description itself.
func (b *Builder) BuildUserPrompt(tc *taskContext) string {
	var sb strings.Builder
	task := tc.Task

	fmt.Fprintf(&sb, "## Task: %s\n\n", task.Title)
	fmt.Fprintf(&sb, "### Description\n%s\n\n", task.Description)

	if tc.PRD != nil {
		sb.WriteString("### Product requirements\n")
		sb.WriteString(truncateWithMarker(fmt.Sprintf("%s\n%s", tc.PRD.Title, tc.PRD.Description), b.opts.MaxPRDBytes))
		sb.WriteString("\n\n")
	}

	if tc.Story != nil {
		sb.WriteString("### Story\n")
		storyText := fmt.Sprintf("%s\n%s", tc.Story.Title, tc.Story.Description)
		if len(tc.Story.Acceptance) > 0 {
			storyText += "\n\nAcceptance criteria:\n"
			for _, a := range tc.Story.Acceptance {
				storyText += "- " + a + "\n"
			}
		}
		sb.WriteString(truncateWithMarker(storyText, b.opts.MaxStoryBytes))
		sb.WriteString("\n\n")
	}

	if len(tc.CompletedSiblings) > 0 {
		sb.WriteString("### Already completed in this story\n")
		var siblingText strings.Builder
		for _, s := range tc.CompletedSiblings {
			fmt.Fprintf(&siblingText, "- %s: %s\n", s.Title, firstLine(s.Description))
		}
		sb.WriteString(truncateWithMarker(siblingText.String(), b.opts.MaxSiblingsBytes))
		sb.WriteString("\n")
	}

	if len(tc.Learnings) > 0 {
		sb.WriteString("### Relevant learnings from prior tasks\n")
		var learningText strings.Builder
		for _, l := range tc.Learnings {
			fmt.Fprintf(&learningText, "- [%s] %s: %s\n", l.Category, l.Title, l.Content)
		}
		sb.WriteString(truncateWithMarker(learningText.String(), b.opts.MaxLearningBytes))
		sb.WriteString("\n")
	}

	sb.WriteString("### Implementation requirements\n")
	sb.WriteString("- Add or update tests covering this change.\n")
	sb.WriteString("- Validate external input and handle errors explicitly.\n")
	sb.WriteString("- Never hardcode secrets or credentials.\n")
	sb.WriteString("- List every file you create or modify at the end of your response.\n")

	return sb.String()
}

// Build returns both prompts for tc.
func (b *Builder) Build(tc *taskContext) (string, string) {
	return b.BuildSystemPrompt(), b.BuildUserPrompt(tc)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// truncateWithMarker truncates s to maxBytes and appends a marker if it had
// to cut, matching the teacher's prompt.truncateWithMarker.
func truncateWithMarker(s string, maxBytes int) string {
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "... [truncated]"
}
