package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/basket/boss/internal/taxonomy"
)

// RecurringTask is a template expanded into a concrete Task by the
// scheduler's recurring-task-expansion job (SPEC §7), driven by a cron
// expression evaluated through robfig/cron.
type RecurringTask struct {
	ID         int64
	CronExpr   string
	Template   []byte // JSON-encoded partial Task
	LastRunAt  *time.Time
	NextRunAt  time.Time
	Active     bool
}

// ListDueRecurringTasks returns active templates whose next_run_at has
// passed.
func (s *Store) ListDueRecurringTasks(ctx context.Context, now time.Time) ([]RecurringTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cron_expr, template, last_run_at, next_run_at, active
		FROM recurring_tasks WHERE active = 1 AND next_run_at <= ?;
	`, now)
	if err != nil {
		return nil, &taxonomy.PersistenceError{Op: "ListDueRecurringTasks", Err: err}
	}
	defer rows.Close()
	var out []RecurringTask
	for rows.Next() {
		var rt RecurringTask
		var template string
		var lastRunAt sql.NullString
		var nextRunAt string
		var active int
		if err := rows.Scan(&rt.ID, &rt.CronExpr, &template, &lastRunAt, &nextRunAt, &active); err != nil {
			return nil, err
		}
		rt.Template = []byte(template)
		rt.NextRunAt = parseTimeLenient(nextRunAt)
		rt.Active = active != 0
		if lastRunAt.Valid && lastRunAt.String != "" {
			t := parseTimeLenient(lastRunAt.String)
			rt.LastRunAt = &t
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

// MarkRecurringTaskRun advances a template's schedule after expansion.
func (s *Store) MarkRecurringTaskRun(ctx context.Context, id int64, ranAt, nextRunAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE recurring_tasks SET last_run_at = ?, next_run_at = ? WHERE id = ?;
	`, ranAt, nextRunAt, id)
	if err != nil {
		return &taxonomy.PersistenceError{Op: "MarkRecurringTaskRun", Err: err}
	}
	return nil
}

// CreateRecurringTask registers a new recurring template.
func (s *Store) CreateRecurringTask(ctx context.Context, cronExpr string, template []byte, nextRunAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO recurring_tasks (cron_expr, template, next_run_at, active) VALUES (?,?,?,1);
	`, cronExpr, string(template), nextRunAt)
	if err != nil {
		return 0, &taxonomy.PersistenceError{Op: "CreateRecurringTask", Err: err}
	}
	return res.LastInsertId()
}
