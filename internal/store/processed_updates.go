package store

import (
	"context"
	"time"

	"github.com/basket/boss/internal/taxonomy"
)

// MarkProcessed records a transport update id, returning false if it was
// already seen (idempotent webhook delivery, SPEC §5.2). Retains rows for
// 24h; PurgeProcessedUpdates trims older rows.
func (s *Store) MarkProcessed(ctx context.Context, transportUpdateID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO processed_updates (transport_update_id) VALUES (?);
	`, transportUpdateID)
	if err != nil {
		return false, &taxonomy.PersistenceError{Op: "MarkProcessed", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &taxonomy.PersistenceError{Op: "MarkProcessed.rows_affected", Err: err}
	}
	return n > 0, nil
}

// PurgeProcessedUpdates deletes dedup rows older than the retention window.
func (s *Store) PurgeProcessedUpdates(ctx context.Context, retention time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-retention).UTC()
	res, err := s.db.ExecContext(ctx, `DELETE FROM processed_updates WHERE first_seen_at < ?;`, cutoff)
	if err != nil {
		return 0, &taxonomy.PersistenceError{Op: "PurgeProcessedUpdates", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
