package store

import (
	"context"

	"github.com/basket/boss/internal/taxonomy"
)

// IntervalBucket names the deadline-reminder windows from SPEC §7 (the
// deadline-reminder job fires at most once per task per bucket).
type IntervalBucket string

const (
	Bucket2Hour  IntervalBucket = "2h"
	Bucket1Hour  IntervalBucket = "1h"
	Bucket30Min  IntervalBucket = "30m"
)

// ClaimReminder atomically records that a reminder has been sent for a
// task/bucket pair, returning false if one was already recorded (dedup
// across scheduler ticks that re-scan the same due window).
func (s *Store) ClaimReminder(ctx context.Context, taskID string, bucket IntervalBucket) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO reminder_ledger (task_id, interval_bucket) VALUES (?, ?);
	`, taskID, string(bucket))
	if err != nil {
		return false, &taxonomy.PersistenceError{Op: "ClaimReminder", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClearRemindersForTask removes ledger rows for a task, used when a task's
// deadline changes and prior reminder claims no longer apply.
func (s *Store) ClearRemindersForTask(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM reminder_ledger WHERE task_id = ?;`, taskID)
	if err != nil {
		return &taxonomy.PersistenceError{Op: "ClearRemindersForTask", Err: err}
	}
	return nil
}
