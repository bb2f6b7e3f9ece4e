// Package executor runs the per-task pipeline described in spec.md §4.6:
// context assembly, type/effort inference, a git checkpoint, a baseline
// quality-gate snapshot, prompt assembly and agent invocation, a result
// commit, quality gates with baseline comparison, independent verification
// with an auto-fix loop, and outcome classification. Grounded on the
// teacher's internal/loop.Controller.runIteration, generalized from a single
// flat task list to the PRD/story/task hierarchy.
package executor

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ralph-labs/orchestrator/internal/agent"
	"github.com/ralph-labs/orchestrator/internal/git"
	"github.com/ralph-labs/orchestrator/internal/learning"
	"github.com/ralph-labs/orchestrator/internal/qualitygate"
	"github.com/ralph-labs/orchestrator/internal/store"
	"github.com/ralph-labs/orchestrator/internal/telemetry"
	"github.com/ralph-labs/orchestrator/internal/verify"
)

// MaxVerificationFixAttempts bounds the auto-fix loop in step 9.
const MaxVerificationFixAttempts = 2

// AgentMaxAttempts bounds the retry/backoff loop inside a single agent
// invocation (step 5 and each auto-fix round in step 9).
const AgentMaxAttempts = 3

// AgentRunner is the subset of agent.Runner the executor needs, plus the
// retrying Invoke method exposed by agent.SubprocessRunner.
type AgentRunner interface {
	Run(ctx context.Context, req agent.Request) (*agent.Response, error)
	Invoke(ctx context.Context, req agent.Request, maxAttempts int) (*agent.Response, error)
}

// Notifier delivers a user-directed message per spec.md §6.2's notification
// callback contract: fire-and-forget, never allowed to propagate a panic
// back into the pipeline.
type Notifier func(userID, message string)

// Safe invokes n if non-nil and userID is non-empty, recovering any panic
// so a broken notification sink never disrupts the pipeline.
func (n Notifier) Safe(userID, message string) {
	if n == nil || userID == "" {
		return
	}
	defer func() { recover() }()
	n(userID, message)
}

// Config toggles which quality gates and verification stage run.
type Config struct {
	ProjectPath         string
	QualityGatesEnabled bool
	TypecheckEnabled    bool
	LintEnabled         bool
	VerificationEnabled bool
}

// Outcome summarizes what Execute did with one task, for the scheduler's
// bookkeeping and logging.
type Outcome struct {
	TaskID        int64
	FinalStatus   store.TaskStatus
	Requeued      bool
	FailureReason string
}

// Pipeline runs the step-1-through-10 task execution pipeline. One Pipeline
// is shared by every worker slot; gitMu serializes the checkpoint/result
// commits across concurrent workers as step 3 requires.
type Pipeline struct {
	store   store.Store
	git     git.Manager
	gitMu   *sync.Mutex
	runner  AgentRunner
	gates   *qualitygate.Runner
	verif   *verify.Agent
	learner *learning.Extractor
	metrics *telemetry.Metrics
	log     *zap.Logger
	cfg     Config
	prompt  *Builder
	notify  Notifier
}

// New builds a Pipeline. gitMu must be shared across every Pipeline driving
// the same project so checkpoint/result commits never interleave.
func New(
	st store.Store,
	gitMgr git.Manager,
	gitMu *sync.Mutex,
	runner AgentRunner,
	gates *qualitygate.Runner,
	verif *verify.Agent,
	learner *learning.Extractor,
	metrics *telemetry.Metrics,
	log *zap.Logger,
	cfg Config,
) *Pipeline {
	return &Pipeline{
		store:   st,
		git:     gitMgr,
		gitMu:   gitMu,
		runner:  runner,
		gates:   gates,
		verif:   verif,
		learner: learner,
		metrics: metrics,
		log:     log,
		cfg:     cfg,
		prompt:  NewBuilder(DefaultPromptOptions()),
	}
}

// SetNotifier wires a Notifier into the pipeline. Optional: a nil Notifier
// (the default) simply skips notification.
func (p *Pipeline) SetNotifier(n Notifier) { p.notify = n }

// Execute runs the full pipeline for taskID. It always leaves the task in a
// terminal state (COMPLETED, FAILED) or requeues it (QUEUED), and never
// returns an error for ordinary task failures — those are reflected in
// Outcome. A non-nil error means the task could not be loaded or could not
// be moved to IN_PROGRESS.
func (p *Pipeline) Execute(ctx context.Context, taskID int64) (outcome Outcome, err error) {
	start := time.Now()
	outcome.TaskID = taskID

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic: %v", r)
			p.log.Error("executor_panic", zap.Int64("task_id", taskID), zap.Any("recover", r))
			outcome = p.finish(ctx, taskID, "", "", false, false, "", msg, nil, nil, nil)
		}
		if p.metrics != nil {
			p.metrics.TaskDurationSeconds.Observe(time.Since(start).Seconds())
		}
	}()

	tc, ferr := p.assembleContext(ctx, taskID)
	if ferr != nil {
		return outcome, ferr
	}
	task := tc.Task

	// Step 2: effort & type inference, persisted together with the
	// IN_PROGRESS transition below.
	inferredType, inferredEffort := task.Type, task.Effort
	if inferredType == "" {
		inferredType = InferTaskType(task.Title, task.Description)
	}
	if inferredEffort == "" {
		inferredEffort = store.DefaultEffortForType[inferredType]
	}

	if err := p.store.UpdateTaskStatus(ctx, task.ID, store.TaskStatusInProgress, store.TaskUpdate{
		Type:           &inferredType,
		Effort:         &inferredEffort,
		TouchStartedAt: true,
	}); err != nil {
		return outcome, fmt.Errorf("executor: mark in_progress: %w", err)
	}
	task.Status = store.TaskStatusInProgress
	task.Type = inferredType
	task.Effort = inferredEffort

	// Step 3: git checkpoint, isolating whatever was already dirty before
	// this worker's changes.
	if err := p.checkpoint(ctx, task); err != nil {
		return p.finish(ctx, taskID, tc.PRD.UserID, tc.PRD.Project, false, false, "", fmt.Sprintf("checkpoint commit failed: %v", err), nil, nil, nil), nil
	}

	// Step 4: baseline snapshot for regression comparison in step 7.
	var baseline *store.QualityGateResult
	if p.cfg.QualityGatesEnabled {
		snap, err := p.gates.SnapshotBaseline(ctx)
		if err != nil {
			p.log.Warn("baseline_snapshot_failed", zap.Int64("task_id", task.ID), zap.Error(err))
		} else {
			baseline = &snap
		}
	}

	// Step 5: prompt assembly and agent invocation.
	sysPrompt, userPrompt := p.prompt.Build(tc)
	resp, err := p.runner.Invoke(ctx, agent.Request{
		Cwd:          p.cfg.ProjectPath,
		SystemPrompt: sysPrompt,
		Prompt:       userPrompt,
		InvocationID: fmt.Sprintf("task-%d", task.ID),
	}, AgentMaxAttempts)
	if err != nil {
		agentOutput := ""
		if resp != nil {
			agentOutput = resp.FinalText
		}
		return p.finish(ctx, taskID, tc.PRD.UserID, tc.PRD.Project, false, false, agentOutput, fmt.Sprintf("agent invocation failed: %v", err), nil, nil, nil), nil
	}

	// Step 6: post-agent commit under the same lock, file list recovered
	// from git's own accounting (more reliable than the agent's prose) with
	// the spec's regex scan over the agent's "Created/Modified" phrasing
	// unioned in, so a path the agent names is listed even when git did not
	// report it.
	filesChanged, err := p.commitResult(ctx, task, resp.FinalText)
	if err != nil {
		p.log.Warn("result_commit_failed", zap.Int64("task_id", task.ID), zap.Error(err))
	}

	// Step 7: quality gates with baseline comparison.
	var gateResult store.QualityGateResult
	gateFailed := false
	if p.cfg.QualityGatesEnabled {
		gateResult, err = p.gates.Run(ctx, qualitygate.Options{
			RunTests:     true,
			RunTypecheck: p.cfg.TypecheckEnabled,
			RunLint:      p.cfg.LintEnabled,
			Baseline:     baseline,
		})
		if err != nil {
			p.log.Warn("quality_gate_run_failed", zap.Int64("task_id", task.ID), zap.Error(err))
		}
		gateFailed = !gateResult.TypecheckPassed || !gateResult.LintPassed || gateResult.RegressionFound ||
			(baseline == nil && gateResult.TestsFailed > 0)
		if gateFailed && p.metrics != nil {
			p.metrics.QualityGateFailures.Inc()
		}
	}

	// Step 8 & 9: independent verification with auto-fix loop.
	var verResult store.VerificationResult
	verificationFailed := false
	if p.cfg.VerificationEnabled && !gateFailed {
		verResult, verificationFailed = p.verifyWithFixLoop(ctx, task, filesChanged, tc.Story)
	}

	// Step 10: outcome classification.
	success := !gateFailed && !verificationFailed
	return p.finish(ctx, taskID, tc.PRD.UserID, tc.PRD.Project, success, gateFailed, resp.FinalText, "", filesChanged, &gateResult, &verResult), nil
}

// finish implements step 10: extracts learnings from the outcome, persists
// them regardless of success, and transitions the task to its terminal
// state — or back to QUEUED if retries remain.
func (p *Pipeline) finish(
	ctx context.Context,
	taskID int64,
	notifyUserID string,
	notifyProject string,
	success bool,
	gateFailed bool,
	agentOutput string,
	errorMessage string,
	filesChanged store.StringSlice,
	gateResult *store.QualityGateResult,
	verResult *store.VerificationResult,
) Outcome {
	task, err := p.store.GetTask(ctx, taskID)
	if err != nil {
		p.log.Error("finish_get_task_failed", zap.Int64("task_id", taskID), zap.Error(err))
		return Outcome{TaskID: taskID, FinalStatus: store.TaskStatusFailed, FailureReason: "task lookup failed: " + err.Error()}
	}

	extracted := p.learner.Extract(learning.Outcome{
		Task:              task,
		UserID:            notifyUserID,
		Project:           notifyProject,
		Success:           success,
		ErrorMessage:      errorMessage,
		AgentOutput:       agentOutput,
		FilesChanged:      filesChanged,
		QualityGate:       gateResult,
		QualityGateFailed: gateFailed,
	})
	for _, l := range extracted {
		if _, err := p.store.StoreLearning(ctx, l); err != nil {
			p.log.Warn("store_learning_failed", zap.Int64("task_id", taskID), zap.Error(err))
		}
	}

	if success {
		update := store.TaskUpdate{
			AgentOutput:      &agentOutput,
			FilesChanged:     &filesChanged,
			TouchCompletedAt: true,
		}
		if gateResult != nil {
			update.QualityGateResult = gateResult
		}
		if verResult != nil {
			update.VerificationResult = verResult
		}
		if err := p.store.UpdateTaskStatus(ctx, taskID, store.TaskStatusCompleted, update); err != nil {
			p.log.Error("complete_transition_failed", zap.Int64("task_id", taskID), zap.Error(err))
		}
		if p.metrics != nil {
			p.metrics.TasksCompletedTotal.Inc()
		}
		p.bumpDailyCounter(ctx, 1, 0)
		p.notify.Safe(notifyUserID, fmt.Sprintf("Task %d (%s) completed.", taskID, task.Title))
		return Outcome{TaskID: taskID, FinalStatus: store.TaskStatusCompleted}
	}

	if task.RetryCount < task.MaxRetries {
		nextRetry := task.RetryCount + 1
		update := store.TaskUpdate{
			RetryCount:   &nextRetry,
			ErrorMessage: &errorMessage,
		}
		if err := p.store.UpdateTaskStatus(ctx, taskID, store.TaskStatusQueued, update); err != nil {
			p.log.Error("requeue_transition_failed", zap.Int64("task_id", taskID), zap.Error(err))
		}
		if p.metrics != nil {
			p.metrics.TasksRequeuedTotal.Inc()
		}
		p.notify.Safe(notifyUserID, fmt.Sprintf("Task %d (%s) failed, retrying (%d/%d): %s", taskID, task.Title, nextRetry, task.MaxRetries, errorMessage))
		return Outcome{TaskID: taskID, FinalStatus: store.TaskStatusQueued, Requeued: true, FailureReason: errorMessage}
	}

	update := store.TaskUpdate{
		ErrorMessage:     &errorMessage,
		AgentOutput:      &agentOutput,
		TouchCompletedAt: true,
	}
	if gateResult != nil {
		update.QualityGateResult = gateResult
	}
	if verResult != nil {
		update.VerificationResult = verResult
	}
	if err := p.store.UpdateTaskStatus(ctx, taskID, store.TaskStatusFailed, update); err != nil {
		p.log.Error("fail_transition_failed", zap.Int64("task_id", taskID), zap.Error(err))
	}
	if p.metrics != nil {
		p.metrics.TasksFailedTotal.Inc()
	}
	p.bumpDailyCounter(ctx, 0, 1)
	p.notify.Safe(notifyUserID, fmt.Sprintf("Task %d (%s) failed: %s", taskID, task.Title, errorMessage))
	return Outcome{TaskID: taskID, FinalStatus: store.TaskStatusFailed, FailureReason: errorMessage}
}

// bumpDailyCounter records a completion/failure against today's daily
// counters (spec.md's "daily failed counter increments" and its completed
// counterpart), keyed by the local date so a scheduler restart at midnight
// naturally starts a fresh bucket.
func (p *Pipeline) bumpDailyCounter(ctx context.Context, completedDelta, failedDelta int) {
	today := time.Now().Format("2006-01-02")
	if err := p.store.IncrementDailyCounter(ctx, today, completedDelta, failedDelta); err != nil {
		p.log.Warn("increment_daily_counter_failed", zap.Error(err))
	}
}

// parseFilesFromOutputRe matches the common "Created <path>" / "Modified
// <path>" / "Updated <path>" phrasing coding agents narrate in their final
// text, per spec.md §4.6 step 6.
var parseFilesFromOutputRe = regexp.MustCompile(`(?im)^\s*(?:[-*]\s*)?(?:created|modified|updated|deleted|added)\s*:?\s*` + "`?" + `([\w./\\-]+\.\w+)` + "`?" + `\s*$`)

// parseFilesFromOutput extracts a candidate file list from the agent's
// narration, used as a supplementary cross-check alongside git's own
// changed-file accounting.
func parseFilesFromOutput(output string) []string {
	matches := parseFilesFromOutputRe.FindAllStringSubmatch(output, -1)
	seen := make(map[string]bool, len(matches))
	var files []string
	for _, m := range matches {
		f := m[1]
		if !seen[f] {
			seen[f] = true
			files = append(files, f)
		}
	}
	return files
}

func mergeFileLists(a, b []string) store.StringSlice {
	seen := make(map[string]bool, len(a)+len(b))
	var out store.StringSlice
	for _, list := range [][]string{a, b} {
		for _, f := range list {
			if f != "" && !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	return out
}
