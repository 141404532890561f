package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/basket/boss/internal/taxonomy"
)

// ListDependencies returns the task_ids that taskID is blocked_by.
func (s *Store) ListDependencies(ctx context.Context, taskID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT depends_on_id FROM task_dependencies WHERE task_id = ? ORDER BY depends_on_id;`, taskID)
	if err != nil {
		return nil, &taxonomy.PersistenceError{Op: "ListDependencies", Err: err}
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AddDependency adds the edge task_id -> depends_on_id, rejecting it with
// ValidationFailed if it would close a cycle or reference a non-existent
// task (SPEC §3.1: "Graph must remain acyclic").
func (s *Store) AddDependency(ctx context.Context, taskID, dependsOnID, actor string) error {
	if taskID == dependsOnID {
		return taxonomy.NewValidation("depends_on_id", "a task cannot depend on itself", "cycle")
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range []string{taskID, dependsOnID} {
			var exists int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE task_id = ?`, id).Scan(&exists); err != nil {
				return &taxonomy.PersistenceError{Op: "AddDependency.check", Err: err}
			}
			if exists == 0 {
				return fmt.Errorf("task %s: %w", id, taxonomy.ErrNotFound)
			}
		}

		cycle, err := wouldCycle(ctx, tx, taskID, dependsOnID)
		if err != nil {
			return err
		}
		if cycle {
			return taxonomy.NewValidation("depends_on_id", fmt.Sprintf("adding %s -> %s would close a dependency cycle", taskID, dependsOnID), "cycle")
		}

		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_dependencies (task_id, depends_on_id) VALUES (?,?);`, taskID, dependsOnID); err != nil {
			return &taxonomy.PersistenceError{Op: "AddDependency.insert", Err: err}
		}
		return insertAuditTx(ctx, tx, "task", taskID, actor, "dependency_added", nil, []byte(fmt.Sprintf(`{"depends_on_id":%q}`, dependsOnID)))
	})
}

// wouldCycle reports whether adding task_id -> depends_on_id creates a
// cycle: true iff depends_on_id can already (transitively) reach task_id.
func wouldCycle(ctx context.Context, tx *sql.Tx, taskID, dependsOnID string) (bool, error) {
	visited := map[string]struct{}{}
	stack := []string{dependsOnID}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == taskID {
			return true, nil
		}
		if _, ok := visited[cur]; ok {
			continue
		}
		visited[cur] = struct{}{}

		rows, err := tx.QueryContext(ctx, `SELECT depends_on_id FROM task_dependencies WHERE task_id = ?;`, cur)
		if err != nil {
			return false, &taxonomy.PersistenceError{Op: "wouldCycle", Err: err}
		}
		var next []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return false, err
			}
			next = append(next, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return false, err
		}
		stack = append(stack, next...)
	}
	return false, nil
}

// RemoveDependency deletes the edge task_id -> depends_on_id.
func (s *Store) RemoveDependency(ctx context.Context, taskID, dependsOnID, actor string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id = ? AND depends_on_id = ?;`, taskID, dependsOnID)
		if err != nil {
			return &taxonomy.PersistenceError{Op: "RemoveDependency", Err: err}
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("dependency %s->%s: %w", taskID, dependsOnID, taxonomy.ErrNotFound)
		}
		return insertAuditTx(ctx, tx, "task", taskID, actor, "dependency_removed", nil, []byte(fmt.Sprintf(`{"depends_on_id":%q}`, dependsOnID)))
	})
}
