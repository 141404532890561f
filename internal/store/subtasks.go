package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/basket/boss/internal/taxonomy"
)

// Subtask mirrors SPEC §3.1. Order is 1-based, dense, unique per task.
type Subtask struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	Order     int       `json:"order"`
	Title     string    `json:"title"`
	Done      bool      `json:"done"`
	CreatedAt time.Time `json:"created_at"`
}

// ListSubtasks returns a task's subtasks ordered by their `order` field.
func (s *Store) ListSubtasks(ctx context.Context, taskID string) ([]Subtask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, "order", title, done, created_at FROM subtasks
		WHERE task_id = ? ORDER BY "order";
	`, taskID)
	if err != nil {
		return nil, &taxonomy.PersistenceError{Op: "ListSubtasks", Err: err}
	}
	defer rows.Close()
	var out []Subtask
	for rows.Next() {
		var st Subtask
		var done int
		var createdAt string
		if err := rows.Scan(&st.ID, &st.TaskID, &st.Order, &st.Title, &done, &createdAt); err != nil {
			return nil, err
		}
		st.Done = done != 0
		st.CreatedAt = parseTimeLenient(createdAt)
		out = append(out, st)
	}
	return out, rows.Err()
}

// AddSubtask appends a subtask at the next dense order position.
func (s *Store) AddSubtask(ctx context.Context, taskID, title string) (*Subtask, error) {
	var out Subtask
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE task_id = ?`, taskID).Scan(&exists); err != nil {
			return &taxonomy.PersistenceError{Op: "AddSubtask.check", Err: err}
		}
		if exists == 0 {
			return fmt.Errorf("task %s: %w", taskID, taxonomy.ErrNotFound)
		}
		var nextOrder int
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX("order"),0)+1 FROM subtasks WHERE task_id = ?`, taskID).Scan(&nextOrder); err != nil {
			return &taxonomy.PersistenceError{Op: "AddSubtask.order", Err: err}
		}
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `INSERT INTO subtasks (task_id, "order", title, done, created_at) VALUES (?,?,?,0,?);`,
			taskID, nextOrder, title, now)
		if err != nil {
			return &taxonomy.PersistenceError{Op: "AddSubtask.insert", Err: err}
		}
		id, _ := res.LastInsertId()
		out = Subtask{ID: id, TaskID: taskID, Order: nextOrder, Title: title, CreatedAt: now}
		return nil
	})
	return &out, err
}

// CompleteSubtask marks a subtask done and recomputes the parent task's
// progress as floor(100 * done/total) (SPEC §3.1).
func (s *Store) CompleteSubtask(ctx context.Context, taskID string, order int) (progress int, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, execErr := tx.ExecContext(ctx, `UPDATE subtasks SET done = 1 WHERE task_id = ? AND "order" = ?;`, taskID, order)
		if execErr != nil {
			return &taxonomy.PersistenceError{Op: "CompleteSubtask.update", Err: execErr}
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("subtask %s/%d: %w", taskID, order, taxonomy.ErrNotFound)
		}

		var total, done int
		if scanErr := tx.QueryRowContext(ctx, `SELECT COUNT(*), SUM(done) FROM subtasks WHERE task_id = ?`, taskID).Scan(&total, &done); scanErr != nil {
			return &taxonomy.PersistenceError{Op: "CompleteSubtask.count", Err: scanErr}
		}
		if total == 0 {
			return nil
		}
		progress = int(math.Floor(100 * float64(done) / float64(total)))
		if _, execErr := tx.ExecContext(ctx, `UPDATE tasks SET progress = ?, updated_at = ? WHERE task_id = ?`, progress, time.Now().UTC(), taskID); execErr != nil {
			return &taxonomy.PersistenceError{Op: "CompleteSubtask.progress", Err: execErr}
		}
		return nil
	})
	return progress, err
}
