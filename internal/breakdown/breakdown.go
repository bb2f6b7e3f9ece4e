// Package breakdown converts a free-text high-level request into a
// PRD/Story/Task hierarchy via a single structured agent call, falling back
// to tolerant free-text JSON parsing with one self-repair round. Grounded
// on spec.md §4.10 and the teacher's internal/decomposer.Decomposer, adapted
// from a YAML-file-per-PRD model to direct store persistence.
package breakdown

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ralph-labs/orchestrator/internal/agent"
	"github.com/ralph-labs/orchestrator/internal/store"
)

// AgentRunner is the subset of the agent package the breakdown procedure
// needs: a plain invocation for free-text fallback/self-repair, and a
// schema-constrained one for the primary attempt.
type AgentRunner interface {
	Run(ctx context.Context, req agent.Request) (*agent.Response, error)
	RunStructured(ctx context.Context, req agent.Request, schema []byte) (*agent.Response, error)
}

// LoopStarter lets the breakdown procedure kick off the scheduling loop
// after queuing a new PRD, without depending on the scheduler package
// directly (that wiring belongs to the manager facade).
type LoopStarter interface {
	StartIfNotRunning(ctx context.Context) error
}

// Request describes the free-text ask to decompose.
type Request struct {
	UserID  string
	Project string
	Text    string
}

// Result is the persisted hierarchy produced by one breakdown run.
type Result struct {
	PRD       *store.PRD
	Stories   []*store.Story
	TaskCount int
}

// Breakdown runs the one-shot PRD decomposition procedure.
type Breakdown struct {
	store  store.Store
	runner AgentRunner
	loop   LoopStarter
	log    *zap.Logger
}

// New builds a Breakdown procedure.
func New(st store.Store, runner AgentRunner, loop LoopStarter, log *zap.Logger) *Breakdown {
	return &Breakdown{store: st, runner: runner, loop: loop, log: log}
}

// Run converts req into a PRD with stories and tasks, queues every task,
// and starts the scheduling loop if it isn't already running.
func (b *Breakdown) Run(ctx context.Context, req Request) (*Result, error) {
	doc, err := b.obtainDocument(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("breakdown: %w", err)
	}

	result, err := b.persist(ctx, req, doc)
	if err != nil {
		return nil, fmt.Errorf("breakdown: persist: %w", err)
	}

	if b.loop != nil {
		if err := b.loop.StartIfNotRunning(ctx); err != nil {
			b.log.Warn("breakdown_loop_start_failed", zap.Error(err))
		}
	}

	return result, nil
}

// obtainDocument tries the structured call first, then falls back to a
// free-text prompt with explicit JSON instructions, then one self-repair
// round — per spec.md §4.10 and §9's JSON robustness note.
func (b *Breakdown) obtainDocument(ctx context.Context, req Request) (*document, error) {
	structResp, structErr := b.runner.RunStructured(ctx, agent.Request{
		SystemPrompt: systemPrompt,
		Prompt:       userPrompt(req.Text),
		InvocationID: "breakdown-" + req.Project,
	}, documentSchema)

	if structErr == nil {
		if doc, err := parseDocument(structResp.FinalText); err == nil {
			return doc, nil
		}
	}

	freeResp, err := b.runner.Run(ctx, agent.Request{
		SystemPrompt: systemPrompt,
		Prompt:       userPrompt(req.Text) + "\n\n" + jsonFormatReminder,
		InvocationID: "breakdown-" + req.Project + "-freetext",
	})
	if err != nil {
		return nil, fmt.Errorf("agent invocation failed: %w", err)
	}

	doc, parseErr := parseDocument(freeResp.FinalText)
	if parseErr == nil {
		return doc, nil
	}

	repaired, repairErr := b.selfRepair(ctx, req, freeResp.FinalText, parseErr.Error())
	if repairErr != nil {
		return nil, fmt.Errorf("self-repair failed: %w", repairErr)
	}
	return repaired, nil
}

// selfRepair asks the agent to fix its own malformed JSON once, mirroring
// the teacher's decomposer.askClaudeToFix retry.
func (b *Breakdown) selfRepair(ctx context.Context, req Request, badOutput, parseError string) (*document, error) {
	resp, err := b.runner.Run(ctx, agent.Request{
		SystemPrompt: systemPrompt,
		Prompt:       fixPrompt(badOutput, parseError),
		InvocationID: "breakdown-" + req.Project + "-fix",
	})
	if err != nil {
		return nil, err
	}
	return parseDocument(resp.FinalText)
}

// persist writes the parsed document as a PRD, its stories, and their
// tasks, then queues every story's tasks.
func (b *Breakdown) persist(ctx context.Context, req Request, doc *document) (*Result, error) {
	prd, err := b.store.CreatePRD(ctx, &store.PRD{
		UserID:      req.UserID,
		Project:     req.Project,
		Title:       doc.PRDTitle,
		Description: doc.PRDDescription,
		Status:      store.PRDStatusActive,
	})
	if err != nil {
		return nil, fmt.Errorf("create prd: %w", err)
	}

	result := &Result{PRD: prd}

	for storyOrder, sd := range doc.Stories {
		story, err := b.store.CreateStory(ctx, &store.Story{
			PRDID:       prd.ID,
			Order:       storyOrder,
			Title:       sd.Title,
			Description: sd.Description,
			Priority:    storyPriority(sd.Tasks),
			Status:      store.StoryStatusPending,
		})
		if err != nil {
			return nil, fmt.Errorf("create story %q: %w", sd.Title, err)
		}
		result.Stories = append(result.Stories, story)

		for taskOrder, td := range sd.Tasks {
			_, err := b.store.CreateTask(ctx, &store.Task{
				StoryID:     story.ID,
				Order:       taskOrder,
				Title:       td.Title,
				Description: td.Description,
				Priority:    td.Priority,
				MaxRetries:  store.DefaultMaxRetries,
				Status:      store.TaskStatusPending,
			})
			if err != nil {
				return nil, fmt.Errorf("create task %q: %w", td.Title, err)
			}
			result.TaskCount++
		}

		if _, err := b.store.QueueTasksForStory(ctx, story.ID); err != nil {
			return nil, fmt.Errorf("queue story %d: %w", story.ID, err)
		}
	}

	return result, nil
}
