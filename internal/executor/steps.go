package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ralph-labs/orchestrator/internal/git"
	"github.com/ralph-labs/orchestrator/internal/store"
	"github.com/ralph-labs/orchestrator/internal/verify"
)

// checkpoint implements step 3: under the shared git lock, isolate any
// uncommitted state that predates this task's worker into its own commit so
// concurrent workers' results never land in the same commit.
func (p *Pipeline) checkpoint(ctx context.Context, task *store.Task) error {
	p.gitMu.Lock()
	defer p.gitMu.Unlock()

	has, err := p.git.HasChanges(ctx)
	if err != nil {
		return fmt.Errorf("check for changes: %w", err)
	}
	if !has {
		return nil
	}

	_, err = p.git.Commit(ctx, git.FormatCheckpointMessage(task.ID, task.Title))
	return err
}

// commitResult implements step 6: under the same lock, commit whatever the
// agent invocation produced and determine the file list, unioning git's own
// changed-file accounting (captured before the commit clears the working
// tree) with the spec's regex scan over the agent's narration.
func (p *Pipeline) commitResult(ctx context.Context, task *store.Task, agentOutput string) (store.StringSlice, error) {
	p.gitMu.Lock()
	defer p.gitMu.Unlock()

	var gitFiles []string
	has, err := p.git.HasChanges(ctx)
	if err != nil {
		return nil, fmt.Errorf("check for changes: %w", err)
	}
	if has {
		gitFiles, err = p.git.GetChangedFiles(ctx)
		if err != nil {
			p.log.Warn("get_changed_files_failed", zap.Int64("task_id", task.ID), zap.Error(err))
		}
		if _, err := p.git.Commit(ctx, git.FormatTaskCommitMessage(task.ID, task.Title)); err != nil {
			return mergeFileLists(gitFiles, parseFilesFromOutput(agentOutput)), fmt.Errorf("commit result: %w", err)
		}
	}

	return mergeFileLists(gitFiles, parseFilesFromOutput(agentOutput)), nil
}

// verifyWithFixLoop implements steps 8 and 9: an independent review pass,
// followed by up to MaxVerificationFixAttempts rounds of a fresh, isolated
// agent invocation addressing the reviewer's critical findings and
// re-verifying. The last verification result is authoritative.
func (p *Pipeline) verifyWithFixLoop(ctx context.Context, task *store.Task, filesChanged store.StringSlice, story *store.Story) (store.VerificationResult, bool) {
	result := p.runVerification(ctx, task, filesChanged, story)

	for attempt := 1; attempt <= MaxVerificationFixAttempts && hasCriticalIssues(result); attempt++ {
		if err := p.autoFix(ctx, task, result); err != nil {
			p.log.Warn("auto_fix_failed", zap.Int64("task_id", task.ID), zap.Int("attempt", attempt), zap.Error(err))
			break
		}
		if _, err := p.commitResult(ctx, task, ""); err != nil {
			p.log.Warn("auto_fix_commit_failed", zap.Int64("task_id", task.ID), zap.Error(err))
		}
		result = p.runVerification(ctx, task, filesChanged, story)
	}

	return result, !result.Passed
}

func hasCriticalIssues(r store.VerificationResult) bool {
	return !r.Passed && (len(r.SecurityConcerns) > 0 || len(r.LogicErrors) > 0)
}

func (p *Pipeline) runVerification(ctx context.Context, task *store.Task, filesChanged store.StringSlice, story *store.Story) store.VerificationResult {
	diff, err := p.git.GetDiff(ctx)
	if err != nil {
		p.log.Warn("get_diff_failed", zap.Int64("task_id", task.ID), zap.Error(err))
	}
	if diff == "" {
		diff, err = p.git.GetDiffAgainstParent(ctx)
		if err != nil {
			p.log.Warn("get_diff_against_parent_failed", zap.Int64("task_id", task.ID), zap.Error(err))
		}
	}

	var acceptance []string
	if story != nil {
		acceptance = story.Acceptance
	}

	res, err := p.verif.VerifyInput(ctx, verify.Input{
		TaskID:          task.ID,
		TaskTitle:       task.Title,
		TaskDescription: task.Description,
		FilesChanged:    filesChanged,
		StoryAcceptance: acceptance,
		DiffText:        diff,
	})
	if err != nil {
		p.log.Warn("verify_failed", zap.Int64("task_id", task.ID), zap.Error(err))
		if p.metrics != nil {
			p.metrics.VerificationFailures.Inc()
		}
		return store.VerificationResult{Passed: false, Issues: store.StringSlice{"verification could not run: " + err.Error()}}
	}
	if !res.Passed && p.metrics != nil {
		p.metrics.VerificationFailures.Inc()
	}
	return res.VerificationResult
}

// autoFix asks a fresh, isolated agent instance to address the reviewer's
// critical findings. A fresh InvocationID keeps this invocation's context
// separate from the original implementation attempt.
func (p *Pipeline) autoFix(ctx context.Context, task *store.Task, result store.VerificationResult) error {
	prompt := buildFixPrompt(task, result)
	_, err := p.runner.Invoke(ctx, fixRequest(p.cfg.ProjectPath, task.ID, prompt), AgentMaxAttempts)
	return err
}
