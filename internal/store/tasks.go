package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/basket/boss/internal/bus"
	"github.com/basket/boss/internal/taxonomy"
)

// TaskStatus is the closed 14-value set from SPEC §3.3.
type TaskStatus string

const (
	StatusPending            TaskStatus = "pending"
	StatusInProgress         TaskStatus = "in_progress"
	StatusInReview           TaskStatus = "in_review"
	StatusAwaitingValidation TaskStatus = "awaiting_validation"
	StatusNeedsRevision      TaskStatus = "needs_revision"
	StatusCompleted          TaskStatus = "completed"
	StatusCancelled          TaskStatus = "cancelled"
	StatusBlocked            TaskStatus = "blocked"
	StatusDelayed            TaskStatus = "delayed"
	StatusUndone             TaskStatus = "undone"
	StatusOnHold             TaskStatus = "on_hold"
	StatusWaiting            TaskStatus = "waiting"
	StatusNeedsInfo          TaskStatus = "needs_info"
	StatusOverdue            TaskStatus = "overdue"
)

// ClosedStatusSet is the full 14-member set, used to validate input and to
// reject any status value outside it (SPEC §3.3, invariant 4 in §8).
var ClosedStatusSet = map[TaskStatus]struct{}{
	StatusPending: {}, StatusInProgress: {}, StatusInReview: {}, StatusAwaitingValidation: {},
	StatusNeedsRevision: {}, StatusCompleted: {}, StatusCancelled: {}, StatusBlocked: {},
	StatusDelayed: {}, StatusUndone: {}, StatusOnHold: {}, StatusWaiting: {}, StatusNeedsInfo: {}, StatusOverdue: {},
}

func (s TaskStatus) Valid() bool { _, ok := ClosedStatusSet[s]; return ok }

// Priority is the closed priority set (SPEC §3.1).
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// allowedTaskTransitions enforces SPEC §4.8's partial transition graph.
// overdue is system-set only and never appears as a transition target
// here; see Store.ApplyOverdue.
var allowedTaskTransitions = map[TaskStatus]map[TaskStatus]struct{}{
	StatusPending: {
		StatusInProgress: {}, StatusCancelled: {}, StatusBlocked: {}, StatusOnHold: {}, StatusNeedsInfo: {},
	},
	StatusInProgress: {
		StatusInReview: {}, StatusCancelled: {}, StatusBlocked: {}, StatusDelayed: {},
		StatusOnHold: {}, StatusWaiting: {}, StatusNeedsInfo: {}, StatusNeedsRevision: {},
	},
	StatusInReview: {
		StatusAwaitingValidation: {}, StatusInProgress: {}, StatusNeedsRevision: {}, StatusCancelled: {},
	},
	StatusAwaitingValidation: {
		StatusCompleted: {}, StatusNeedsRevision: {}, StatusCancelled: {},
	},
	StatusNeedsRevision: {
		StatusInProgress: {}, StatusInReview: {}, StatusCancelled: {},
	},
	StatusBlocked:   {StatusInProgress: {}, StatusCancelled: {}, StatusPending: {}},
	StatusDelayed:   {StatusInProgress: {}, StatusCancelled: {}},
	StatusOnHold:    {StatusInProgress: {}, StatusCancelled: {}, StatusPending: {}},
	StatusWaiting:   {StatusInProgress: {}, StatusCancelled: {}},
	StatusNeedsInfo: {StatusInProgress: {}, StatusPending: {}, StatusCancelled: {}},
	StatusUndone:    {StatusInProgress: {}, StatusCancelled: {}},
	StatusOverdue:   {StatusInProgress: {}, StatusCompleted: {}, StatusCancelled: {}},
}

// CanTransition reports whether from->to is a legal direct jump. completed
// is reachable from pending only through the approval path, which callers
// enforce by routing through ApproveValidation rather than UpdateStatus.
func CanTransition(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	next, ok := allowedTaskTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Task mirrors SPEC §3.1.
type Task struct {
	TaskID               string     `json:"task_id"`
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	AssigneeName         string     `json:"assignee_name"`
	AssigneeTransportID  string     `json:"assignee_transport_id"`
	Priority             Priority   `json:"priority"`
	Status               TaskStatus `json:"status"`
	Type                 string     `json:"type"`
	Deadline             *time.Time `json:"deadline,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	CreatedBy            string     `json:"created_by"`
	EstimatedMinutes     *int       `json:"estimated_minutes,omitempty"`
	ActualMinutes        *int       `json:"actual_minutes,omitempty"`
	Progress             int        `json:"progress"`
	Tags                 []string   `json:"tags"`
	AcceptanceCriteria   []string   `json:"acceptance_criteria"`
	ExternalThreadID     string     `json:"external_thread_id,omitempty"`
	SoftDeleted          bool       `json:"soft_deleted"`

	// Eager-loaded relations (SPEC §4.2: get_task_by_id loads these).
	Subtasks     []Subtask `json:"subtasks,omitempty"`
	BlockedBy    []string  `json:"blocked_by,omitempty"`
	AuditLog     []AuditEvent `json:"audit_log,omitempty"`
}

// NewTask seeds a Task with defaults matching the invariants in §3.1.
func NewTask(title string) *Task {
	return &Task{
		Title:    title,
		Priority: PriorityMedium,
		Status:   StatusPending,
		Progress: 0,
		Tags:     []string{},
		AcceptanceCriteria: []string{},
	}
}

// Validate checks the invariants a caller must satisfy before Create
// (SPEC §3.1, §4.8 step 3). Deadline-in-the-past is a warning, not an
// error, per spec — callers surface it separately; Validate does not fail
// on it.
func (t *Task) Validate() *taxonomy.ValidationError {
	var issues []taxonomy.ValidationIssue
	if strings.TrimSpace(t.Title) == "" {
		issues = append(issues, taxonomy.ValidationIssue{Field: "title", Message: "title must not be empty", Type: "required"})
	}
	if len(t.Title) > 500 {
		issues = append(issues, taxonomy.ValidationIssue{Field: "title", Message: "title must be at most 500 characters", Type: "max_length"})
	}
	if !t.Status.Valid() {
		issues = append(issues, taxonomy.ValidationIssue{Field: "status", Message: fmt.Sprintf("status %q is not a recognized status", t.Status), Type: "enum"})
	}
	if !t.Priority.Valid() {
		issues = append(issues, taxonomy.ValidationIssue{Field: "priority", Message: fmt.Sprintf("priority %q is not a recognized priority", t.Priority), Type: "enum"})
	}
	if t.Deadline != nil && t.Deadline.Before(t.CreatedAt) && !t.CreatedAt.IsZero() {
		issues = append(issues, taxonomy.ValidationIssue{Field: "deadline", Message: "deadline must not precede created_at", Type: "range"})
	}
	if t.Progress < 0 || t.Progress > 100 {
		issues = append(issues, taxonomy.ValidationIssue{Field: "progress", Message: "progress must be between 0 and 100", Type: "range"})
	}
	if (t.Progress == 100) != (t.Status == StatusCompleted || t.Status == StatusCancelled) {
		issues = append(issues, taxonomy.ValidationIssue{Field: "progress", Message: "progress=100 iff status is completed or cancelled", Type: "invariant"})
	}
	if len(issues) == 0 {
		return nil
	}
	return &taxonomy.ValidationError{Issues: issues, Help: "see SPEC §3.1 for task invariants"}
}

// AllocateTaskID computes "TASK-YYYYMMDD-NNN" for `now`, zero-padded to 3
// digits, taking the next unused sequence for that day (SPEC §4.8 step 4).
func (s *Store) AllocateTaskID(ctx context.Context, tx *sql.Tx, now time.Time) (string, error) {
	prefix := "TASK-" + now.UTC().Format("20060102") + "-"
	var maxSeq int
	row := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(CAST(substr(task_id, length(?)+1) AS INTEGER)), 0)
		FROM tasks WHERE task_id LIKE ? || '%';
	`, prefix, prefix)
	if err := row.Scan(&maxSeq); err != nil {
		return "", fmt.Errorf("allocate task id: %w", err)
	}
	return fmt.Sprintf("%s%03d", prefix, maxSeq+1), nil
}

// CreateTask inserts a Task and an "created" AuditEvent in one transaction
// (SPEC §4.8 step 4). The caller is expected to have already validated t
// and resolved t.TaskID via AllocateTaskID within the same tx sequence, or
// to leave TaskID empty to have CreateTask allocate it.
func (s *Store) CreateTask(ctx context.Context, t *Task, actor string) (*Task, error) {
	return s.createTask(ctx, t, actor, nil)
}

// CreateTaskWithOutbox is CreateTask plus buildOutbox's resulting side-effect
// rows, all inside the same transaction (SPEC §4.4/§5, outbox invariant 2 in
// §8): buildOutbox runs after the task row gets its allocated task_id, so a
// crash between the task commit and the enqueues can never happen — they
// commit or roll back together. buildOutbox may be nil.
func (s *Store) CreateTaskWithOutbox(ctx context.Context, t *Task, actor string, buildOutbox func(t *Task) ([]PendingOutbox, error)) (*Task, error) {
	return s.createTask(ctx, t, actor, buildOutbox)
}

func (s *Store) createTask(ctx context.Context, t *Task, actor string, buildOutbox func(t *Task) ([]PendingOutbox, error)) (*Task, error) {
	if v := t.Validate(); v != nil {
		return nil, v
	}
	now := time.Now().UTC()
	out := *t
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		taskID := t.TaskID
		var err error
		if taskID == "" {
			taskID, err = s.AllocateTaskID(ctx, tx, now)
			if err != nil {
				return err
			}
		}
		out.TaskID = taskID
		out.CreatedAt = now
		out.UpdatedAt = now

		tagsJSON, _ := json.Marshal(nonNil(t.Tags))
		acJSON, _ := json.Marshal(nonNil(t.AcceptanceCriteria))

		_, err = tx.ExecContext(ctx, `
			INSERT INTO tasks (
				task_id, title, description, assignee_name, assignee_transport_id,
				priority, status, type, deadline, created_at, updated_at, created_by,
				estimated_minutes, actual_minutes, progress, tags, acceptance_criteria,
				external_thread_id, soft_deleted
			) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?);
		`, taskID, t.Title, t.Description, t.AssigneeName, t.AssigneeTransportID,
			string(t.Priority), string(t.Status), t.Type, nullableTime(t.Deadline), now, now, t.CreatedBy,
			t.EstimatedMinutes, t.ActualMinutes, t.Progress, string(tagsJSON), string(acJSON),
			nullIfEmpty(t.ExternalThreadID), boolToInt(t.SoftDeleted))
		if err != nil {
			if isUniqueViolation(err) {
				return &taxonomy.DuplicateKeyError{Constraint: "tasks.task_id", Key: taskID}
			}
			return &taxonomy.PersistenceError{Op: "CreateTask", Err: err}
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO tasks_fts (task_id, title, description) VALUES (?,?,?)`,
			taskID, t.Title, t.Description); err != nil {
			return &taxonomy.PersistenceError{Op: "CreateTask.fts", Err: err}
		}

		afterJSON, _ := json.Marshal(&out)
		if err := insertAuditTx(ctx, tx, "task", taskID, actor, "created", nil, afterJSON); err != nil {
			return err
		}

		if buildOutbox != nil {
			items, err := buildOutbox(&out)
			if err != nil {
				return err
			}
			for _, item := range items {
				if err := enqueueOutboxTx(ctx, tx, item); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.bus != nil {
		s.bus.Publish(bus.TopicTaskCreated, bus.TaskCreatedEvent{TaskID: out.TaskID, AssigneeName: out.AssigneeName})
	}
	return &out, nil
}

// GetTask eagerly loads subtasks, dependencies, and audit log (SPEC §4.2).
// Returns (nil, nil) if absent — get() is the one repository method where
// null means "absent, not error".
func (s *Store) GetTask(ctx context.Context, taskID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, title, description, assignee_name, assignee_transport_id,
			priority, status, type, deadline, created_at, updated_at, created_by,
			estimated_minutes, actual_minutes, progress, tags, acceptance_criteria,
			external_thread_id, soft_deleted
		FROM tasks WHERE task_id = ?;
	`, taskID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &taxonomy.PersistenceError{Op: "GetTask", Err: err}
	}

	if t.Subtasks, err = s.ListSubtasks(ctx, taskID); err != nil {
		return nil, err
	}
	if t.BlockedBy, err = s.ListDependencies(ctx, taskID); err != nil {
		return nil, err
	}
	if t.AuditLog, err = s.ListAuditEvents(ctx, "task", taskID); err != nil {
		return nil, err
	}
	return t, nil
}

// TaskPatch names the fields UpdateTask may change; zero-value fields
// (nil pointers / empty maps) are left untouched.
type TaskPatch struct {
	Title               *string
	Description         *string
	AssigneeName         *string
	AssigneeTransportID  *string
	Priority             *Priority
	Status               *TaskStatus
	Type                 *string
	Deadline             **time.Time
	EstimatedMinutes     **int
	ActualMinutes        **int
	Progress             *int
	Tags                 *[]string
	AcceptanceCriteria   *[]string
	ExternalThreadID     *string
}

// UpdateTask applies patch to taskID, enforcing the status-transition
// graph when Status changes, and appends an AuditEvent. Fails with
// NotFound if the id is absent, ValidationFailed if a §3 invariant would
// be violated.
func (s *Store) UpdateTask(ctx context.Context, taskID string, patch TaskPatch, actor string) (*Task, error) {
	var result *Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT task_id, title, description, assignee_name, assignee_transport_id,
				priority, status, type, deadline, created_at, updated_at, created_by,
				estimated_minutes, actual_minutes, progress, tags, acceptance_criteria,
				external_thread_id, soft_deleted
			FROM tasks WHERE task_id = ?;
		`, taskID)
		before, err := scanTask(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("task %s: %w", taskID, taxonomy.ErrNotFound)
		}
		if err != nil {
			return &taxonomy.PersistenceError{Op: "UpdateTask.select", Err: err}
		}
		beforeJSON, _ := json.Marshal(before)

		after := *before
		if patch.Title != nil {
			after.Title = *patch.Title
		}
		if patch.Description != nil {
			after.Description = *patch.Description
		}
		if patch.AssigneeName != nil {
			after.AssigneeName = *patch.AssigneeName
		}
		if patch.AssigneeTransportID != nil {
			after.AssigneeTransportID = *patch.AssigneeTransportID
		}
		if patch.Priority != nil {
			after.Priority = *patch.Priority
		}
		if patch.Status != nil {
			if !CanTransition(before.Status, *patch.Status) {
				return taxonomy.NewValidation("status", fmt.Sprintf("illegal transition %s -> %s", before.Status, *patch.Status), "transition")
			}
			after.Status = *patch.Status
			if after.Status == StatusCompleted || after.Status == StatusCancelled {
				after.Progress = 100
			}
		}
		if patch.Type != nil {
			after.Type = *patch.Type
		}
		if patch.Deadline != nil {
			after.Deadline = *patch.Deadline
		}
		if patch.EstimatedMinutes != nil {
			after.EstimatedMinutes = *patch.EstimatedMinutes
		}
		if patch.ActualMinutes != nil {
			after.ActualMinutes = *patch.ActualMinutes
		}
		if patch.Progress != nil {
			after.Progress = *patch.Progress
		}
		if patch.Tags != nil {
			after.Tags = dedupeCaseInsensitive(*patch.Tags)
		}
		if patch.AcceptanceCriteria != nil {
			after.AcceptanceCriteria = *patch.AcceptanceCriteria
		}
		if patch.ExternalThreadID != nil {
			after.ExternalThreadID = *patch.ExternalThreadID
		}
		after.UpdatedAt = time.Now().UTC()

		if v := after.Validate(); v != nil {
			return v
		}

		tagsJSON, _ := json.Marshal(nonNil(after.Tags))
		acJSON, _ := json.Marshal(nonNil(after.AcceptanceCriteria))
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET title=?, description=?, assignee_name=?, assignee_transport_id=?,
				priority=?, status=?, type=?, deadline=?, updated_at=?, estimated_minutes=?,
				actual_minutes=?, progress=?, tags=?, acceptance_criteria=?, external_thread_id=?
			WHERE task_id=?;
		`, after.Title, after.Description, after.AssigneeName, after.AssigneeTransportID,
			string(after.Priority), string(after.Status), after.Type, nullableTime(after.Deadline),
			after.UpdatedAt, after.EstimatedMinutes, after.ActualMinutes, after.Progress,
			string(tagsJSON), string(acJSON), nullIfEmpty(after.ExternalThreadID), taskID)
		if err != nil {
			return &taxonomy.PersistenceError{Op: "UpdateTask.update", Err: err}
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("task %s: %w", taskID, taxonomy.ErrNotFound)
		}

		if patch.Title != nil || patch.Description != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE tasks_fts SET title=?, description=? WHERE task_id=?`,
				after.Title, after.Description, taskID); err != nil {
				return &taxonomy.PersistenceError{Op: "UpdateTask.fts", Err: err}
			}
		}

		afterJSON, _ := json.Marshal(&after)
		if err := insertAuditTx(ctx, tx, "task", taskID, actor, "updated", beforeJSON, afterJSON); err != nil {
			return err
		}
		result = &after
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.bus != nil && patch.Status != nil {
		s.bus.Publish(bus.TopicTaskStatusChanged, bus.TaskStatusChangedEvent{TaskID: taskID, NewStatus: string(*patch.Status)})
	}
	return result, nil
}

// ListFilter is the common filter/pagination envelope for list() calls
// (SPEC §4.2). Cursor pagination kicks in once the caller requests beyond
// the 1,000-row offset window.
type ListFilter struct {
	Status      TaskStatus
	Assignee    string
	Limit       int
	Offset      int
	AfterCursor string // opaque cursor: "<created_at>|<task_id>"
}

// ListTasksByStatus lists non-soft-deleted tasks in a status, ordered by
// created_at, with offset pagination below 1,000 rows and cursor
// pagination above it (SPEC §4.2).
func (s *Store) ListTasksByStatus(ctx context.Context, status TaskStatus, f ListFilter) ([]Task, error) {
	return s.listTasks(ctx, "status = ?", []any{string(status)}, f)
}

// ListTasksByAssignee lists tasks assigned to name.
func (s *Store) ListTasksByAssignee(ctx context.Context, name string, f ListFilter) ([]Task, error) {
	return s.listTasks(ctx, "assignee_name = ?", []any{name}, f)
}

// ListOverdue lists tasks whose deadline has passed and that are not in a
// terminal state (SPEC §3.3: the overdue condition, prior to the
// scheduler actually flipping status to "overdue").
func (s *Store) ListOverdue(ctx context.Context, now time.Time, f ListFilter) ([]Task, error) {
	return s.listTasks(ctx, "deadline IS NOT NULL AND deadline < ? AND status NOT IN ('completed','cancelled')", []any{now.UTC()}, f)
}

// ListDueSoon lists tasks whose deadline falls within the next `within`
// duration (used by the scheduler's deadline-reminder job, SPEC §4.9).
func (s *Store) ListDueSoon(ctx context.Context, now time.Time, within time.Duration, f ListFilter) ([]Task, error) {
	return s.listTasks(ctx, "deadline IS NOT NULL AND deadline >= ? AND deadline <= ? AND status NOT IN ('completed','cancelled')",
		[]any{now.UTC(), now.Add(within).UTC()}, f)
}

func (s *Store) listTasks(ctx context.Context, where string, args []any, f ListFilter) ([]Task, error) {
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	q := fmt.Sprintf(`
		SELECT task_id, title, description, assignee_name, assignee_transport_id,
			priority, status, type, deadline, created_at, updated_at, created_by,
			estimated_minutes, actual_minutes, progress, tags, acceptance_criteria,
			external_thread_id, soft_deleted
		FROM tasks WHERE soft_deleted = 0 AND (%s)`, where)
	if f.AfterCursor != "" {
		createdAt, taskID, ok := splitCursor(f.AfterCursor)
		if ok {
			q += " AND (created_at, task_id) > (?, ?)"
			args = append(args, createdAt, taskID)
		}
	}
	q += " ORDER BY created_at, task_id LIMIT ?"
	args = append(args, limit)
	if f.AfterCursor == "" {
		q += " OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &taxonomy.PersistenceError{Op: "listTasks", Err: err}
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, &taxonomy.PersistenceError{Op: "listTasks.scan", Err: err}
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func splitCursor(cursor string) (string, string, bool) {
	idx := strings.LastIndex(cursor, "|")
	if idx < 0 {
		return "", "", false
	}
	return cursor[:idx], cursor[idx+1:], true
}

// Cursor builds the opaque pagination cursor for the last row of a page.
func Cursor(t Task) string {
	return t.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + t.TaskID
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*Task, error) {
	var t Task
	var deadline, createdAt, updatedAt sql.NullString
	var assignee, assigneeTransport, taskType, createdBy, externalThread sql.NullString
	var estMin, actMin sql.NullInt64
	var tagsJSON, acJSON string
	var softDeleted int
	var priority, status string

	if err := row.Scan(&t.TaskID, &t.Title, &t.Description, &assignee, &assigneeTransport,
		&priority, &status, &taskType, &deadline, &createdAt, &updatedAt, &createdBy,
		&estMin, &actMin, &t.Progress, &tagsJSON, &acJSON, &externalThread, &softDeleted); err != nil {
		return nil, err
	}
	t.Priority = Priority(priority)
	t.Status = TaskStatus(status)
	t.Type = taskType.String
	t.AssigneeName = assignee.String
	t.AssigneeTransportID = assigneeTransport.String
	t.CreatedBy = createdBy.String
	t.ExternalThreadID = externalThread.String
	t.SoftDeleted = softDeleted != 0
	t.CreatedAt = parseTimeLenient(createdAt.String)
	t.UpdatedAt = parseTimeLenient(updatedAt.String)
	if deadline.Valid && deadline.String != "" {
		dl := parseTimeLenient(deadline.String)
		t.Deadline = &dl
	}
	if estMin.Valid {
		v := int(estMin.Int64)
		t.EstimatedMinutes = &v
	}
	if actMin.Valid {
		v := int(actMin.Int64)
		t.ActualMinutes = &v
	}
	_ = json.Unmarshal([]byte(tagsJSON), &t.Tags)
	_ = json.Unmarshal([]byte(acJSON), &t.AcceptanceCriteria)
	return &t, nil
}

func parseTimeLenient(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	layouts := []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999999Z07:00", "2006-01-02 15:04:05"}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// ApplyOverdue sets status="overdue" on every eligible task (SPEC §3.3:
// "overdue is a system-set status applied by the scheduler"). Only tasks
// whose current status permits the transition are touched.
func (s *Store) ApplyOverdue(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status='overdue', updated_at=?
		WHERE deadline IS NOT NULL AND deadline < ?
		AND status NOT IN ('completed','cancelled','overdue')
		AND soft_deleted = 0;
	`, now.UTC(), now.UTC())
	if err != nil {
		return 0, &taxonomy.PersistenceError{Op: "ApplyOverdue", Err: err}
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SoftDeleteNonCompleted soft-deletes every task not already completed or
// cancelled, used by the "clear all tasks" dangerous action (SPEC S6).
func (s *Store) SoftDeleteNonCompleted(ctx context.Context, actor string) ([]string, error) {
	var ids []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT task_id FROM tasks WHERE soft_deleted = 0 AND status NOT IN ('completed','cancelled')`)
		if err != nil {
			return &taxonomy.PersistenceError{Op: "SoftDeleteNonCompleted.select", Err: err}
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `UPDATE tasks SET soft_deleted = 1, updated_at = ? WHERE task_id = ?`, time.Now().UTC(), id); err != nil {
				return &taxonomy.PersistenceError{Op: "SoftDeleteNonCompleted.update", Err: err}
			}
			if err := insertAuditTx(ctx, tx, "task", id, actor, "soft_deleted", nil, nil); err != nil {
				return err
			}
		}
		return nil
	})
	return ids, err
}

// DeleteTask soft-deletes a single task (the DELETE /api/tasks/{task_id}
// handler, spec.md §6.1). Returns taxonomy.ErrNotFound if the task is
// absent or already soft-deleted.
func (s *Store) DeleteTask(ctx context.Context, taskID, actor string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET soft_deleted = 1, updated_at = ? WHERE task_id = ? AND soft_deleted = 0;
		`, time.Now().UTC(), taskID)
		if err != nil {
			return &taxonomy.PersistenceError{Op: "DeleteTask", Err: err}
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("task %s: %w", taskID, taxonomy.ErrNotFound)
		}
		return insertAuditTx(ctx, tx, "task", taskID, actor, "soft_deleted", nil, nil)
	})
}

// ArchiveCompletedOlderThan soft-deletes completed or cancelled tasks
// whose updated_at falls before the cutoff, used by the scheduler's
// weekly archive-old-completed job (spec.md §4.9). Soft-deleted rows
// stay queryable by task_id but drop out of list/search results.
func (s *Store) ArchiveCompletedOlderThan(ctx context.Context, cutoff time.Time, actor string) ([]string, error) {
	var ids []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT task_id FROM tasks
			WHERE soft_deleted = 0 AND status IN ('completed','cancelled') AND updated_at < ?;
		`, cutoff.UTC())
		if err != nil {
			return &taxonomy.PersistenceError{Op: "ArchiveCompletedOlderThan.select", Err: err}
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `UPDATE tasks SET soft_deleted = 1, updated_at = ? WHERE task_id = ?`, time.Now().UTC(), id); err != nil {
				return &taxonomy.PersistenceError{Op: "ArchiveCompletedOlderThan.update", Err: err}
			}
			if err := insertAuditTx(ctx, tx, "task", id, actor, "archived", nil, nil); err != nil {
				return err
			}
		}
		return nil
	})
	return ids, err
}

// SearchTasks does a ranked full-text search over title+description
// (SPEC §4.2: "ranked by term-frequency score").
func (s *Store) SearchTasks(ctx context.Context, text string, limit int) ([]Task, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.task_id, t.title, t.description, t.assignee_name, t.assignee_transport_id,
			t.priority, t.status, t.type, t.deadline, t.created_at, t.updated_at, t.created_by,
			t.estimated_minutes, t.actual_minutes, t.progress, t.tags, t.acceptance_criteria,
			t.external_thread_id, t.soft_deleted
		FROM tasks_fts f
		JOIN tasks t ON t.task_id = f.task_id
		WHERE tasks_fts MATCH ? AND t.soft_deleted = 0
		ORDER BY matchinfo(tasks_fts) DESC
		LIMIT ?;
	`, text, limit)
	if err != nil {
		return nil, &taxonomy.PersistenceError{Op: "SearchTasks", Err: err}
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, &taxonomy.PersistenceError{Op: "SearchTasks.scan", Err: err}
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func dedupeCaseInsensitive(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
