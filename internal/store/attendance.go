package store

import (
	"context"
	"database/sql"

	"github.com/basket/boss/internal/taxonomy"
)

// AttendanceStatus is the closed set from SPEC §3.1.
type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "present"
	AttendanceRemote  AttendanceStatus = "remote"
	AttendanceOff     AttendanceStatus = "off"
	AttendanceSick    AttendanceStatus = "sick"
)

// AttendanceRecord mirrors SPEC §3.1, one row per (date, user).
type AttendanceRecord struct {
	Date   string // YYYY-MM-DD, local to the boss's configured timezone
	User   string
	Status AttendanceStatus
	Note   string
}

// RecordAttendance upserts today's attendance for a user.
func (s *Store) RecordAttendance(ctx context.Context, r AttendanceRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance_records ("date", user, status, note) VALUES (?,?,?,?)
		ON CONFLICT("date", user) DO UPDATE SET status=excluded.status, note=excluded.note;
	`, r.Date, r.User, string(r.Status), r.Note)
	if err != nil {
		return &taxonomy.PersistenceError{Op: "RecordAttendance", Err: err}
	}
	return nil
}

// ListAttendanceForDate returns every recorded attendance row for a date.
func (s *Store) ListAttendanceForDate(ctx context.Context, date string) ([]AttendanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT "date", user, status, note FROM attendance_records WHERE "date" = ? ORDER BY user;
	`, date)
	if err != nil {
		return nil, &taxonomy.PersistenceError{Op: "ListAttendanceForDate", Err: err}
	}
	defer rows.Close()
	var out []AttendanceRecord
	for rows.Next() {
		var r AttendanceRecord
		var status string
		var note sql.NullString
		if err := rows.Scan(&r.Date, &r.User, &status, &note); err != nil {
			return nil, err
		}
		r.Status = AttendanceStatus(status)
		r.Note = note.String
		out = append(out, r)
	}
	return out, rows.Err()
}
