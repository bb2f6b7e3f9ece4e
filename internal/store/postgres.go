package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store on top of Postgres via sqlx.
type PostgresStore struct {
	db *sqlx.DB
}

// Open connects to dsn, runs migrations, and returns a ready Store.
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	if err := Migrate(db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

// CreatePRD inserts a new PRD in DRAFT status.
func (s *PostgresStore) CreatePRD(ctx context.Context, p *PRD) (*PRD, error) {
	if p.Status == "" {
		p.Status = PRDStatusDraft
	}
	if !p.Status.IsValid() {
		return nil, &ValidationError{Reason: fmt.Sprintf("invalid prd status %q", p.Status)}
	}
	if p.Metadata == nil {
		p.Metadata = StringMap{}
	}

	const q = `INSERT INTO prds (user_id, project, title, description, status, metadata)
		VALUES (:user_id, :project, :title, :description, :status, :metadata)
		RETURNING id, created_at, updated_at`

	rows, err := s.db.NamedQueryContext(ctx, q, p)
	if err != nil {
		return nil, fmt.Errorf("store: create prd: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: create prd: scan: %w", err)
		}
	}
	return p, nil
}

// GetPRD fetches a PRD with its derived story counts computed in one query.
func (s *PostgresStore) GetPRD(ctx context.Context, id int64) (*PRD, error) {
	const q = `SELECT p.*,
		COALESCE(COUNT(st.id), 0) AS total_stories,
		COALESCE(COUNT(st.id) FILTER (WHERE st.status = 'completed'), 0) AS completed_stories,
		COALESCE(COUNT(st.id) FILTER (WHERE st.status = 'failed'), 0) AS failed_stories
		FROM prds p
		LEFT JOIN stories st ON st.prd_id = p.id
		WHERE p.id = $1
		GROUP BY p.id`

	var p PRD
	if err := s.db.GetContext(ctx, &p, q, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Kind: "prd", ID: id}
		}
		return nil, fmt.Errorf("store: get prd: %w", err)
	}
	return &p, nil
}

// ListPRDs lists PRDs for a (user, project) owner pair.
func (s *PostgresStore) ListPRDs(ctx context.Context, userID, project string) ([]*PRD, error) {
	const q = `SELECT * FROM prds WHERE user_id = $1 AND project = $2 ORDER BY created_at DESC`
	var out []*PRD
	if err := s.db.SelectContext(ctx, &out, q, userID, project); err != nil {
		return nil, fmt.Errorf("store: list prds: %w", err)
	}
	return out, nil
}

// UpdatePRDStatus transitions a PRD's status, stamping completed_at when
// moving to COMPLETED.
func (s *PostgresStore) UpdatePRDStatus(ctx context.Context, id int64, status PRDStatus) error {
	if !status.IsValid() {
		return &ValidationError{Reason: fmt.Sprintf("invalid prd status %q", status)}
	}
	q := `UPDATE prds SET status = $1, updated_at = now()`
	args := []interface{}{status}
	if status == PRDStatusCompleted {
		q += `, completed_at = now()`
	}
	q += ` WHERE id = $2`
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("store: update prd status: %w", err)
	}
	return requireRowsAffected(res, "prd", id)
}

// CreateStory inserts a new Story under a PRD.
func (s *PostgresStore) CreateStory(ctx context.Context, st *Story) (*Story, error) {
	if st.Status == "" {
		st.Status = StoryStatusPending
	}
	if !st.Status.IsValid() {
		return nil, &ValidationError{Reason: fmt.Sprintf("invalid story status %q", st.Status)}
	}
	if st.Acceptance == nil {
		st.Acceptance = StringSlice{}
	}

	const q = `INSERT INTO stories (prd_id, order_index, title, description, acceptance_criteria, priority, status)
		VALUES (:prd_id, :order_index, :title, :description, :acceptance_criteria, :priority, :status)
		RETURNING id, created_at, updated_at`

	rows, err := s.db.NamedQueryContext(ctx, q, st)
	if err != nil {
		return nil, fmt.Errorf("store: create story: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&st.ID, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: create story: scan: %w", err)
		}
	}
	return st, nil
}

// GetStory fetches a Story with its derived task counts computed in one query.
func (s *PostgresStore) GetStory(ctx context.Context, id int64) (*Story, error) {
	const q = `SELECT s.*,
		COALESCE(COUNT(t.id), 0) AS total_tasks,
		COALESCE(COUNT(t.id) FILTER (WHERE t.status = 'completed'), 0) AS completed_tasks,
		COALESCE(COUNT(t.id) FILTER (WHERE t.status = 'failed'), 0) AS failed_tasks
		FROM stories s
		LEFT JOIN tasks t ON t.story_id = s.id
		WHERE s.id = $1
		GROUP BY s.id`

	var st Story
	if err := s.db.GetContext(ctx, &st, q, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Kind: "story", ID: id}
		}
		return nil, fmt.Errorf("store: get story: %w", err)
	}
	return &st, nil
}

// ListStoriesByPRD lists stories under a PRD ordered by order_index.
func (s *PostgresStore) ListStoriesByPRD(ctx context.Context, prdID int64) ([]*Story, error) {
	const q = `SELECT * FROM stories WHERE prd_id = $1 ORDER BY order_index ASC`
	var out []*Story
	if err := s.db.SelectContext(ctx, &out, q, prdID); err != nil {
		return nil, fmt.Errorf("store: list stories: %w", err)
	}
	return out, nil
}

// UpdateStoryStatus transitions a Story's status.
func (s *PostgresStore) UpdateStoryStatus(ctx context.Context, id int64, status StoryStatus) error {
	if !status.IsValid() {
		return &ValidationError{Reason: fmt.Sprintf("invalid story status %q", status)}
	}
	const q = `UPDATE stories SET status = $1, updated_at = now() WHERE id = $2`
	res, err := s.db.ExecContext(ctx, q, status, id)
	if err != nil {
		return fmt.Errorf("store: update story status: %w", err)
	}
	return requireRowsAffected(res, "story", id)
}

// CreateTask inserts a new Task in PENDING status.
func (s *PostgresStore) CreateTask(ctx context.Context, t *Task) (*Task, error) {
	if t.Status == "" {
		t.Status = TaskStatusPending
	}
	if !t.Status.IsValid() {
		return nil, &ValidationError{Reason: fmt.Sprintf("invalid task status %q", t.Status)}
	}
	if t.MaxRetries == 0 {
		t.MaxRetries = DefaultMaxRetries
	}
	if t.DependsOn == nil {
		t.DependsOn = IntSlice{}
	}
	if t.Labels == nil {
		t.Labels = StringMap{}
	}
	if t.FilesChanged == nil {
		t.FilesChanged = StringSlice{}
	}

	const q = `INSERT INTO tasks (story_id, order_index, title, description, priority, retry_count,
		max_retries, effort, task_type, depends_on, status, labels, files_changed,
		quality_gate_result, verification_result)
		VALUES (:story_id, :order_index, :title, :description, :priority, :retry_count,
		:max_retries, :effort, :task_type, :depends_on, :status, :labels, :files_changed,
		:quality_gate_result, :verification_result)
		RETURNING id, created_at, updated_at`

	rows, err := s.db.NamedQueryContext(ctx, q, t)
	if err != nil {
		return nil, fmt.Errorf("store: create task: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: create task: scan: %w", err)
		}
	}
	return t, nil
}

// GetTask fetches a single task by ID.
func (s *PostgresStore) GetTask(ctx context.Context, id int64) (*Task, error) {
	const q = `SELECT * FROM tasks WHERE id = $1`
	var t Task
	if err := s.db.GetContext(ctx, &t, q, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, &NotFoundError{Kind: "task", ID: id}
		}
		return nil, fmt.Errorf("store: get task: %w", err)
	}
	return &t, nil
}

// ListTasks returns tasks ordered by (priority DESC, order ASC) matching filter.
func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	var (
		clauses []string
		args    []interface{}
		idx     = 1
	)

	q := `SELECT t.* FROM tasks t`
	if filter.UserID != "" || filter.Project != "" {
		q += ` JOIN stories s ON s.id = t.story_id JOIN prds p ON p.id = s.prd_id`
	}

	if filter.StoryID != 0 {
		clauses = append(clauses, fmt.Sprintf("t.story_id = $%d", idx))
		args = append(args, filter.StoryID)
		idx++
	}
	if filter.UserID != "" {
		clauses = append(clauses, fmt.Sprintf("p.user_id = $%d", idx))
		args = append(args, filter.UserID)
		idx++
	}
	if filter.Project != "" {
		clauses = append(clauses, fmt.Sprintf("p.project = $%d", idx))
		args = append(args, filter.Project)
		idx++
	}
	if filter.Status != "" {
		clauses = append(clauses, fmt.Sprintf("t.status = $%d", idx))
		args = append(args, filter.Status)
		idx++
	}

	if len(clauses) > 0 {
		q += " WHERE " + strings.Join(clauses, " AND ")
	}
	q += " ORDER BY t.priority DESC, t.order_index ASC"
	if filter.Limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, filter.Limit)
	}

	var out []*Task
	if err := s.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	return out, nil
}

// ListTasksByStory returns all tasks in a story ordered by (priority DESC, order ASC).
func (s *PostgresStore) ListTasksByStory(ctx context.Context, storyID int64) ([]*Task, error) {
	return s.ListTasks(ctx, TaskFilter{StoryID: storyID})
}

// UpdateTaskStatus commits a status transition and any accompanying fields in
// a single transaction, enforcing the state machine from spec.md §4.4.
func (s *PostgresStore) UpdateTaskStatus(ctx context.Context, id int64, status TaskStatus, fields TaskUpdate) error {
	if !status.IsValid() {
		return &ValidationError{Reason: fmt.Sprintf("invalid task status %q", status)}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: update task status: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current TaskStatus
	if err := tx.GetContext(ctx, &current, `SELECT status FROM tasks WHERE id = $1 FOR UPDATE`, id); err != nil {
		if err == sql.ErrNoRows {
			return &NotFoundError{Kind: "task", ID: id}
		}
		return fmt.Errorf("store: update task status: lock: %w", err)
	}

	if !CanTransition(current, status) {
		return &TransitionError{TaskID: id, From: current, To: status}
	}

	sets := []string{"status = :status", "updated_at = now()"}
	args := map[string]interface{}{"id": id, "status": status}

	if fields.ErrorMessage != nil {
		sets = append(sets, "error_message = :error_message")
		args["error_message"] = *fields.ErrorMessage
	}
	if fields.AgentOutput != nil {
		sets = append(sets, "agent_output = :agent_output")
		args["agent_output"] = *fields.AgentOutput
	}
	if fields.FilesChanged != nil {
		sets = append(sets, "files_changed = :files_changed")
		args["files_changed"] = *fields.FilesChanged
	}
	if fields.QualityGateResult != nil {
		sets = append(sets, "quality_gate_result = :quality_gate_result")
		args["quality_gate_result"] = *fields.QualityGateResult
	}
	if fields.VerificationResult != nil {
		sets = append(sets, "verification_result = :verification_result")
		args["verification_result"] = *fields.VerificationResult
	}
	if fields.RetryCount != nil {
		sets = append(sets, "retry_count = :retry_count")
		args["retry_count"] = *fields.RetryCount
	}
	if fields.Type != nil {
		sets = append(sets, "task_type = :task_type")
		args["task_type"] = *fields.Type
	}
	if fields.Effort != nil {
		sets = append(sets, "effort = :effort")
		args["effort"] = *fields.Effort
	}
	if fields.TouchStartedAt {
		sets = append(sets, "started_at = now()")
	}
	if fields.TouchCompletedAt {
		sets = append(sets, "completed_at = now()")
	}

	q := fmt.Sprintf("UPDATE tasks SET %s WHERE id = :id", strings.Join(sets, ", "))
	if _, err := tx.NamedExecContext(ctx, q, args); err != nil {
		return fmt.Errorf("store: update task status: %w", err)
	}

	return tx.Commit()
}

// QueueTasksForStory transitions all PENDING tasks in a story to QUEUED in
// one transaction and returns the count affected.
func (s *PostgresStore) QueueTasksForStory(ctx context.Context, storyID int64) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: queue tasks: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = $1, updated_at = now() WHERE story_id = $2 AND status = $3`,
		TaskStatusQueued, storyID, TaskStatusPending)
	if err != nil {
		return 0, fmt.Errorf("store: queue tasks: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: queue tasks: rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: queue tasks: commit: %w", err)
	}
	return int(n), nil
}

// GetNextQueuedTask returns the highest-priority QUEUED task without removing it.
func (s *PostgresStore) GetNextQueuedTask(ctx context.Context) (*Task, error) {
	const q = `SELECT * FROM tasks WHERE status = $1 ORDER BY priority DESC, order_index ASC LIMIT 1`
	var t Task
	if err := s.db.GetContext(ctx, &t, q, TaskStatusQueued); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get next queued task: %w", err)
	}
	return &t, nil
}

// StoreLearning inserts a new learning.
func (s *PostgresStore) StoreLearning(ctx context.Context, l *Learning) (*Learning, error) {
	if l.RelevanceKeywords == nil {
		l.RelevanceKeywords = StringSlice{}
	}
	if l.Confidence == 0 {
		l.Confidence = 0.5
	}
	l.IsActive = true

	const q = `INSERT INTO learnings (user_id, project, source_task_id, category, title, content,
		relevance_keywords, usage_count, confidence, is_active)
		VALUES (:user_id, :project, :source_task_id, :category, :title, :content,
		:relevance_keywords, :usage_count, :confidence, :is_active)
		RETURNING id, created_at, updated_at`

	rows, err := s.db.NamedQueryContext(ctx, q, l)
	if err != nil {
		return nil, fmt.Errorf("store: store learning: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: store learning: scan: %w", err)
		}
	}
	return l, nil
}

// GetLearnings returns all active learnings for a (user, project) scope.
func (s *PostgresStore) GetLearnings(ctx context.Context, userID, project string) ([]*Learning, error) {
	const q = `SELECT * FROM learnings WHERE user_id = $1 AND (project = $2 OR project = '') AND is_active
		ORDER BY confidence DESC`
	var out []*Learning
	if err := s.db.SelectContext(ctx, &out, q, userID, project); err != nil {
		return nil, fmt.Errorf("store: get learnings: %w", err)
	}
	return out, nil
}

// SearchLearnings does a simple case-insensitive substring search over
// title/content, used by the `/learnings search` command.
func (s *PostgresStore) SearchLearnings(ctx context.Context, userID, query string, limit int) ([]*Learning, error) {
	const q = `SELECT * FROM learnings WHERE user_id = $1 AND is_active
		AND (title ILIKE '%' || $2 || '%' OR content ILIKE '%' || $2 || '%')
		ORDER BY confidence DESC LIMIT $3`
	if limit <= 0 {
		limit = 20
	}
	var out []*Learning
	if err := s.db.SelectContext(ctx, &out, q, userID, query, limit); err != nil {
		return nil, fmt.Errorf("store: search learnings: %w", err)
	}
	return out, nil
}

// TouchLearning increments usage_count and stamps last_used.
func (s *PostgresStore) TouchLearning(ctx context.Context, id int64) error {
	const q = `UPDATE learnings SET usage_count = usage_count + 1, last_used = now(), updated_at = now()
		WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("store: touch learning: %w", err)
	}
	return requireRowsAffected(res, "learning", id)
}

// DecayLearnings multiplies every active learning's confidence by factor
// (spec.md §3 lifecycle: "confidence decays over inactivity"). Cadence is an
// external-action trigger, not scheduled internally — see DESIGN.md.
func (s *PostgresStore) DecayLearnings(ctx context.Context, factor float64) error {
	const q = `UPDATE learnings SET confidence = confidence * $1, updated_at = now() WHERE is_active`
	if _, err := s.db.ExecContext(ctx, q, factor); err != nil {
		return fmt.Errorf("store: decay learnings: %w", err)
	}
	return nil
}

// GetDailyCounters returns the completed/failed counters for a local date.
func (s *PostgresStore) GetDailyCounters(ctx context.Context, date string) (int, int, error) {
	var completed, failed int
	const q = `SELECT completed, failed FROM scheduler_counters WHERE date = $1`
	err := s.db.QueryRowContext(ctx, q, date).Scan(&completed, &failed)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("store: get daily counters: %w", err)
	}
	return completed, failed, nil
}

// IncrementDailyCounter upserts the counters for a local date.
func (s *PostgresStore) IncrementDailyCounter(ctx context.Context, date string, completedDelta, failedDelta int) error {
	const q = `INSERT INTO scheduler_counters (date, completed, failed) VALUES ($1, $2, $3)
		ON CONFLICT (date) DO UPDATE SET completed = scheduler_counters.completed + $2,
		failed = scheduler_counters.failed + $3`
	if _, err := s.db.ExecContext(ctx, q, date, completedDelta, failedDelta); err != nil {
		return fmt.Errorf("store: increment daily counter: %w", err)
	}
	return nil
}

func requireRowsAffected(res sql.Result, kind string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}
	if n == 0 {
		return &NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)

// LocalDateKey formats t as the local-date key used for daily counter rollover
// (spec.md invariant 8).
func LocalDateKey(t time.Time) string {
	return t.Local().Format("2006-01-02")
}
