package executor

import (
	"fmt"
	"strings"

	"github.com/ralph-labs/orchestrator/internal/agent"
	"github.com/ralph-labs/orchestrator/internal/store"
)

// buildFixPrompt lists the reviewer's critical findings for step 9's
// auto-fix invocation.
func buildFixPrompt(task *store.Task, result store.VerificationResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "An independent review of your changes for task %q found issues that must be fixed.\n\n", task.Title)

	if len(result.SecurityConcerns) > 0 {
		sb.WriteString("Security concerns:\n")
		for _, c := range result.SecurityConcerns {
			sb.WriteString("- " + c + "\n")
		}
		sb.WriteString("\n")
	}
	if len(result.LogicErrors) > 0 {
		sb.WriteString("Logic errors:\n")
		for _, c := range result.LogicErrors {
			sb.WriteString("- " + c + "\n")
		}
		sb.WriteString("\n")
	}
	if len(result.Issues) > 0 {
		sb.WriteString("Other issues:\n")
		for _, c := range result.Issues {
			sb.WriteString("- " + c + "\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Fix every issue listed above. Do not introduce new functionality.\n")
	return sb.String()
}

// fixRequest builds the agent.Request for an auto-fix round, with an
// InvocationID distinct from the original implementation attempt so the
// harness's cancellation bookkeeping can tell the two apart.
func fixRequest(cwd string, taskID int64, prompt string) agent.Request {
	return agent.Request{
		Cwd:          cwd,
		SystemPrompt: "You are fixing issues found by an independent code reviewer. Address every issue listed; do not expand scope.",
		Prompt:       prompt,
		InvocationID: fmt.Sprintf("task-%d-fix", taskID),
	}
}
