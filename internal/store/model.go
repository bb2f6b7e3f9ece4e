// Package store provides the persistence layer for the orchestration core:
// PRDs, Stories, Tasks, and Learnings, backed by Postgres.
package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// PRDStatus is the lifecycle status of a PRD.
type PRDStatus string

const (
	PRDStatusDraft     PRDStatus = "draft"
	PRDStatusActive    PRDStatus = "active"
	PRDStatusCompleted PRDStatus = "completed"
	PRDStatusFailed    PRDStatus = "failed"
	PRDStatusArchived  PRDStatus = "archived"
)

var validPRDStatuses = map[PRDStatus]bool{
	PRDStatusDraft: true, PRDStatusActive: true, PRDStatusCompleted: true,
	PRDStatusFailed: true, PRDStatusArchived: true,
}

// IsValid returns true if s is a recognized PRD status.
func (s PRDStatus) IsValid() bool { return validPRDStatuses[s] }

// StoryStatus is the lifecycle status of a Story.
type StoryStatus string

const (
	StoryStatusPending    StoryStatus = "pending"
	StoryStatusInProgress StoryStatus = "in_progress"
	StoryStatusCompleted  StoryStatus = "completed"
	StoryStatusBlocked    StoryStatus = "blocked"
	StoryStatusFailed     StoryStatus = "failed"
)

var validStoryStatuses = map[StoryStatus]bool{
	StoryStatusPending: true, StoryStatusInProgress: true, StoryStatusCompleted: true,
	StoryStatusBlocked: true, StoryStatusFailed: true,
}

// IsValid returns true if s is a recognized story status.
func (s StoryStatus) IsValid() bool { return validStoryStatuses[s] }

// TaskStatus is the lifecycle status of a Task. See TaskStatus transitions
// enforced by CanTransition.
type TaskStatus string

const (
	TaskStatusPending      TaskStatus = "pending"
	TaskStatusQueued       TaskStatus = "queued"
	TaskStatusInProgress   TaskStatus = "in_progress"
	TaskStatusRunningTests TaskStatus = "running_tests"
	TaskStatusVerifying    TaskStatus = "verifying"
	TaskStatusCompleted    TaskStatus = "completed"
	TaskStatusFailed       TaskStatus = "failed"
	TaskStatusBlocked      TaskStatus = "blocked"
	TaskStatusCancelled    TaskStatus = "cancelled"
)

var validTaskStatuses = map[TaskStatus]bool{
	TaskStatusPending: true, TaskStatusQueued: true, TaskStatusInProgress: true,
	TaskStatusRunningTests: true, TaskStatusVerifying: true, TaskStatusCompleted: true,
	TaskStatusFailed: true, TaskStatusBlocked: true, TaskStatusCancelled: true,
}

// IsValid returns true if s is a recognized task status.
func (s TaskStatus) IsValid() bool { return validTaskStatuses[s] }

// IsTerminal returns true for COMPLETED, FAILED, CANCELLED.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// EffortLevel hints how much reasoning the external agent should apply.
type EffortLevel string

const (
	EffortLow    EffortLevel = "low"
	EffortMedium EffortLevel = "medium"
	EffortHigh   EffortLevel = "high"
	EffortMax    EffortLevel = "max"
)

// TaskType classifies the kind of work a task performs.
type TaskType string

const (
	TaskTypePRDBreakdown TaskType = "prd_breakdown"
	TaskTypeImplement    TaskType = "implementation"
	TaskTypeBugFix       TaskType = "bug_fix"
	TaskTypeRefactor     TaskType = "refactor"
	TaskTypeTesting      TaskType = "testing"
	TaskTypeVerification TaskType = "verification"
)

// DefaultEffortForType maps a task type to its default effort level, per
// spec.md §4.6 step 2.
var DefaultEffortForType = map[TaskType]EffortLevel{
	TaskTypeImplement:    EffortHigh,
	TaskTypeBugFix:       EffortHigh,
	TaskTypeRefactor:     EffortMedium,
	TaskTypeTesting:      EffortMedium,
	TaskTypePRDBreakdown: EffortMax,
	TaskTypeVerification: EffortMax,
}

// LearningCategory classifies a distilled learning.
type LearningCategory string

const (
	LearningPattern        LearningCategory = "pattern"
	LearningPitfall        LearningCategory = "pitfall"
	LearningBestPractice   LearningCategory = "best_practice"
	LearningProjectContext LearningCategory = "project_context"
	LearningDebugging      LearningCategory = "debugging"
	LearningArchitecture   LearningCategory = "architecture"
	LearningTesting        LearningCategory = "testing"
	LearningToolUsage      LearningCategory = "tool_usage"
)

// StringSlice is a JSON-encoded []string column.
type StringSlice []string

// Value implements driver.Valuer.
func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	return string(b), err
}

// Scan implements sql.Scanner.
func (s *StringSlice) Scan(src interface{}) error {
	return scanJSON(src, s)
}

// IntSlice is a JSON-encoded []int64 column, used for depends_on.
type IntSlice []int64

// Value implements driver.Valuer.
func (s IntSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]int64(s))
	return string(b), err
}

// Scan implements sql.Scanner.
func (s *IntSlice) Scan(src interface{}) error {
	return scanJSON(src, s)
}

// StringMap is a JSON-encoded map[string]string column, used for opaque metadata.
type StringMap map[string]string

// Value implements driver.Valuer.
func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]string(m))
	return string(b), err
}

// Scan implements sql.Scanner.
func (m *StringMap) Scan(src interface{}) error {
	return scanJSON(src, m)
}

func scanJSON(src interface{}, dst interface{}) error {
	if src == nil {
		return nil
	}
	switch v := src.(type) {
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported scan type %T", src)
	}
}

// QualityGateResult summarizes a quality-gate run. See spec.md §3.
type QualityGateResult struct {
	TestsRun         int     `json:"tests_run"`
	TestsPassed      int     `json:"tests_passed"`
	TestsFailed      int     `json:"tests_failed"`
	TypecheckPassed  bool    `json:"typecheck_passed"`
	LintPassed       bool    `json:"lint_passed"`
	OutputExcerpt    string  `json:"output_excerpt,omitempty"`
	ExecutionSeconds float64 `json:"execution_seconds"`
	RegressionFound  bool    `json:"regression_detected"`
}

// Value implements driver.Valuer.
func (r QualityGateResult) Value() (driver.Value, error) {
	b, err := json.Marshal(r)
	return string(b), err
}

// Scan implements sql.Scanner.
func (r *QualityGateResult) Scan(src interface{}) error { return scanJSON(src, r) }

// VerificationResult summarizes an independent review pass. See spec.md §3.
type VerificationResult struct {
	Passed           bool        `json:"passed"`
	Issues           StringSlice `json:"issues,omitempty"`
	SecurityConcerns StringSlice `json:"security_concerns,omitempty"`
	LogicErrors      StringSlice `json:"logic_errors,omitempty"`
	Suggestions      StringSlice `json:"suggestions,omitempty"`
	OutputExcerpt    string      `json:"output_excerpt,omitempty"`
	ExecutionSeconds float64     `json:"execution_seconds"`
}

// Value implements driver.Valuer.
func (r VerificationResult) Value() (driver.Value, error) {
	b, err := json.Marshal(r)
	return string(b), err
}

// Scan implements sql.Scanner.
func (r *VerificationResult) Scan(src interface{}) error { return scanJSON(src, r) }

// PRD is a product requirements document owned by a user within one project.
type PRD struct {
	ID          int64      `db:"id"`
	UserID      string     `db:"user_id"`
	Project     string     `db:"project"`
	Title       string     `db:"title"`
	Description string     `db:"description"`
	Status      PRDStatus  `db:"status"`
	Metadata    StringMap  `db:"metadata"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
	CompletedAt *time.Time `db:"completed_at"`

	// Derived, populated by GetPRD.
	TotalStories     int `db:"total_stories"`
	CompletedStories int `db:"completed_stories"`
	FailedStories    int `db:"failed_stories"`
}

// Story is a user story under one PRD.
type Story struct {
	ID          int64       `db:"id"`
	PRDID       int64       `db:"prd_id"`
	Order       int         `db:"order_index"`
	Title       string      `db:"title"`
	Description string      `db:"description"`
	Acceptance  StringSlice `db:"acceptance_criteria"`
	Priority    int         `db:"priority"`
	Status      StoryStatus `db:"status"`
	CreatedAt   time.Time   `db:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"`

	// Derived, populated by GetStory.
	TotalTasks     int `db:"total_tasks"`
	CompletedTasks int `db:"completed_tasks"`
	FailedTasks    int `db:"failed_tasks"`
}

// Task is an atomic unit of work for one agent invocation.
type Task struct {
	ID                  int64               `db:"id"`
	StoryID             int64               `db:"story_id"`
	Order               int                 `db:"order_index"`
	Title               string              `db:"title"`
	Description         string              `db:"description"`
	Priority            int                 `db:"priority"`
	RetryCount          int                 `db:"retry_count"`
	MaxRetries          int                 `db:"max_retries"`
	Effort              EffortLevel         `db:"effort"`
	Type                TaskType            `db:"task_type"`
	DependsOn           IntSlice            `db:"depends_on"`
	Status              TaskStatus          `db:"status"`
	Labels              StringMap           `db:"labels"`
	StartedAt           *time.Time          `db:"started_at"`
	CompletedAt         *time.Time          `db:"completed_at"`
	ErrorMessage        string              `db:"error_message"`
	AgentOutput         string              `db:"agent_output"`
	FilesChanged        StringSlice         `db:"files_changed"`
	QualityGateResult   QualityGateResult   `db:"quality_gate_result"`
	VerificationResult  VerificationResult  `db:"verification_result"`
	CreatedAt           time.Time           `db:"created_at"`
	UpdatedAt           time.Time           `db:"updated_at"`
}

// DefaultMaxRetries is the default retry budget for a new task.
const DefaultMaxRetries = 2

// Learning is a persistent fact extracted from task execution.
type Learning struct {
	ID                int64            `db:"id"`
	UserID            string           `db:"user_id"`
	Project           string           `db:"project"`
	SourceTaskID      *int64           `db:"source_task_id"`
	Category          LearningCategory `db:"category"`
	Title             string           `db:"title"`
	Content           string           `db:"content"`
	RelevanceKeywords StringSlice      `db:"relevance_keywords"`
	UsageCount        int              `db:"usage_count"`
	Confidence        float64          `db:"confidence"`
	LastUsed          *time.Time       `db:"last_used"`
	IsActive          bool             `db:"is_active"`
	CreatedAt         time.Time        `db:"created_at"`
	UpdatedAt         time.Time        `db:"updated_at"`
}

// validTaskTransitions enumerates the allowed TaskStatus edges from spec.md §4.4.
// Transitions not present here are refused.
var validTaskTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskStatusPending: {
		TaskStatusQueued:    true,
		TaskStatusBlocked:   true,
		TaskStatusCancelled: true,
	},
	TaskStatusQueued: {
		TaskStatusInProgress: true,
		TaskStatusBlocked:    true, // dependency not yet satisfied
		TaskStatusFailed:     true, // circular-dep or never scheduled
		TaskStatusCancelled:  true,
	},
	TaskStatusBlocked: {
		TaskStatusQueued:    true, // dependency resolved
		TaskStatusFailed:    true,
		TaskStatusCancelled: true,
	},
	TaskStatusInProgress: {
		TaskStatusRunningTests: true,
		TaskStatusCompleted:    true, // no quality gates configured
		TaskStatusFailed:       true,
		TaskStatusQueued:       true, // retry
	},
	TaskStatusRunningTests: {
		TaskStatusVerifying: true,
		TaskStatusCompleted: true, // verification disabled
		TaskStatusFailed:    true,
		TaskStatusQueued:    true, // retry after gate failure
	},
	TaskStatusVerifying: {
		TaskStatusCompleted: true,
		TaskStatusFailed:    true,
		TaskStatusQueued:    true, // retry after verification rejection
	},
}

// CanTransition reports whether from->to is an allowed edge in the task
// state machine (spec.md §4.4). A terminal status never transitions further.
func CanTransition(from, to TaskStatus) bool {
	if from.IsTerminal() {
		return false
	}
	edges, ok := validTaskTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}
