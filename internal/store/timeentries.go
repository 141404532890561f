package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/basket/boss/internal/taxonomy"
)

// TimeEntry mirrors SPEC §3.1, one clock-in/clock-out span per task per
// user. Ended/Minutes are nil while the entry is open.
type TimeEntry struct {
	ID        int64
	TaskID    string
	UserID    string
	StartedAt time.Time
	EndedAt   *time.Time
	Minutes   *int
}

// ClockIn opens a new time entry for a task.
func (s *Store) ClockIn(ctx context.Context, taskID, userID string, now time.Time) (*TimeEntry, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO time_entries (task_id, user_id, started_at) VALUES (?,?,?);
	`, taskID, userID, now)
	if err != nil {
		return nil, &taxonomy.PersistenceError{Op: "ClockIn", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &TimeEntry{ID: id, TaskID: taskID, UserID: userID, StartedAt: now}, nil
}

// ClockOut closes the most recent open entry for a task/user pair and
// records the elapsed minutes, feeding the task's actual_minutes rollup.
func (s *Store) ClockOut(ctx context.Context, taskID, userID string, now time.Time) (*TimeEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at FROM time_entries
		WHERE task_id = ? AND user_id = ? AND ended_at IS NULL
		ORDER BY started_at DESC LIMIT 1;
	`, taskID, userID)
	var id int64
	var startedAtStr string
	if err := row.Scan(&id, &startedAtStr); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, &taxonomy.PersistenceError{Op: "ClockOut.select", Err: err}
	}
	startedAt := parseTimeLenient(startedAtStr)
	minutes := int(now.Sub(startedAt).Minutes())
	if _, err := s.db.ExecContext(ctx, `UPDATE time_entries SET ended_at = ?, minutes = ? WHERE id = ?;`, now, minutes, id); err != nil {
		return nil, &taxonomy.PersistenceError{Op: "ClockOut.update", Err: err}
	}
	return &TimeEntry{ID: id, TaskID: taskID, UserID: userID, StartedAt: startedAt, EndedAt: &now, Minutes: &minutes}, nil
}

// UserTimesheet returns a user's time entries within a window, eager-joined
// with the task title for display (SPEC §4.2 user_timesheet query).
type TimesheetRow struct {
	TimeEntry
	TaskTitle string
}

func (s *Store) UserTimesheet(ctx context.Context, userID string, from, to time.Time) ([]TimesheetRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT te.id, te.task_id, te.user_id, te.started_at, te.ended_at, te.minutes, t.title
		FROM time_entries te JOIN tasks t ON t.task_id = te.task_id
		WHERE te.user_id = ? AND te.started_at >= ? AND te.started_at < ?
		ORDER BY te.started_at ASC;
	`, userID, from, to)
	if err != nil {
		return nil, &taxonomy.PersistenceError{Op: "UserTimesheet", Err: err}
	}
	defer rows.Close()
	var out []TimesheetRow
	for rows.Next() {
		var r TimesheetRow
		var startedAtStr string
		var endedAt sql.NullString
		var minutes sql.NullInt64
		if err := rows.Scan(&r.ID, &r.TaskID, &r.UserID, &startedAtStr, &endedAt, &minutes, &r.TaskTitle); err != nil {
			return nil, err
		}
		r.StartedAt = parseTimeLenient(startedAtStr)
		if endedAt.Valid && endedAt.String != "" {
			t := parseTimeLenient(endedAt.String)
			r.EndedAt = &t
		}
		if minutes.Valid {
			m := int(minutes.Int64)
			r.Minutes = &m
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
