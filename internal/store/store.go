package store

import "context"

// TaskFilter narrows ListTasks. Zero values mean "no filter" for that field.
type TaskFilter struct {
	StoryID int64
	UserID  string
	Project string
	Status  TaskStatus
	Limit   int
}

// Store is the persistence contract relied on by the scheduler and executor.
// See spec.md §4.1. Implementations must guarantee that UpdateTaskStatus and
// QueueTasksForStory are atomic (single transaction).
type Store interface {
	// PRDs
	CreatePRD(ctx context.Context, p *PRD) (*PRD, error)
	GetPRD(ctx context.Context, id int64) (*PRD, error)
	ListPRDs(ctx context.Context, userID, project string) ([]*PRD, error)
	UpdatePRDStatus(ctx context.Context, id int64, status PRDStatus) error

	// Stories
	CreateStory(ctx context.Context, s *Story) (*Story, error)
	GetStory(ctx context.Context, id int64) (*Story, error)
	ListStoriesByPRD(ctx context.Context, prdID int64) ([]*Story, error)
	UpdateStoryStatus(ctx context.Context, id int64, status StoryStatus) error

	// Tasks
	CreateTask(ctx context.Context, t *Task) (*Task, error)
	GetTask(ctx context.Context, id int64) (*Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error)
	ListTasksByStory(ctx context.Context, storyID int64) ([]*Task, error)

	// UpdateTaskStatus commits a task's status (and any accompanying fields)
	// atomically. fields may set error_message, agent_output, files_changed,
	// quality_gate_result, verification_result, retry_count, started_at,
	// completed_at as needed by the caller.
	UpdateTaskStatus(ctx context.Context, id int64, status TaskStatus, fields TaskUpdate) error

	// QueueTasksForStory transitions all PENDING tasks in a story to QUEUED,
	// as a single transaction, and returns the count. Idempotent: running it
	// twice on an already-queued story returns 0 the second time.
	QueueTasksForStory(ctx context.Context, storyID int64) (int, error)

	// GetNextQueuedTask returns the highest-priority QUEUED task ordered by
	// (priority DESC, order ASC), or nil if none. Does not remove it.
	GetNextQueuedTask(ctx context.Context) (*Task, error)

	// Learnings
	StoreLearning(ctx context.Context, l *Learning) (*Learning, error)
	GetLearnings(ctx context.Context, userID, project string) ([]*Learning, error)
	SearchLearnings(ctx context.Context, userID, query string, limit int) ([]*Learning, error)
	TouchLearning(ctx context.Context, id int64) error
	DecayLearnings(ctx context.Context, factor float64) error

	// DailyCounters
	GetDailyCounters(ctx context.Context, date string) (completed, failed int, err error)
	IncrementDailyCounter(ctx context.Context, date string, completedDelta, failedDelta int) error

	Close() error
}

// TaskUpdate carries the optional fields UpdateTaskStatus may set alongside
// a status transition. Nil/zero fields are left unchanged unless Touch* is set.
type TaskUpdate struct {
	ErrorMessage       *string
	AgentOutput        *string
	FilesChanged       *StringSlice
	QualityGateResult  *QualityGateResult
	VerificationResult *VerificationResult
	RetryCount         *int
	Type               *TaskType
	Effort             *EffortLevel
	TouchStartedAt     bool
	TouchCompletedAt   bool
}
