package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/basket/boss/internal/taxonomy"
)

// OutboxItem is a queued at-least-once delivery (SPEC §5.3 outbox pattern).
// Idempotency is enforced per target via idempotency_key, unique among
// non-dead-lettered rows.
type OutboxItem struct {
	ID             string
	TargetAdapter  string
	Payload        []byte
	IdempotencyKey string
	AttemptCount   int
	NextAttemptAt  time.Time
	MaxAttempts    int
	DeadLetter     bool
	CreatedAt      time.Time
}

// EnqueueOutbox inserts a new delivery. A duplicate idempotency key among
// live (non-dead-lettered) rows is reported as taxonomy.ErrDuplicateKey so
// callers can treat re-enqueue as a no-op.
func (s *Store) EnqueueOutbox(ctx context.Context, targetAdapter string, payload []byte, idempotencyKey string, maxAttempts int) (*OutboxItem, error) {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outbox (id, target_adapter, payload, idempotency_key, attempt_count, next_attempt_at, max_attempts, dead_letter, created_at)
		VALUES (?,?,?,?,0,?,?,0,?);
	`, id, targetAdapter, string(payload), idempotencyKey, now, maxAttempts, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &taxonomy.DuplicateKeyError{Constraint: "idx_outbox_idem_live", Key: idempotencyKey}
		}
		return nil, &taxonomy.PersistenceError{Op: "EnqueueOutbox", Err: err}
	}
	return &OutboxItem{
		ID: id, TargetAdapter: targetAdapter, Payload: payload, IdempotencyKey: idempotencyKey,
		NextAttemptAt: now, MaxAttempts: maxAttempts, CreatedAt: now,
	}, nil
}

// PendingOutbox is one side-effect delivery to enqueue as part of a larger
// domain-write transaction, via CreateTaskWithOutbox. Unlike EnqueueOutbox,
// a duplicate idempotency key is silently treated as already-enqueued
// rather than reported, since callers batch several of these per write and
// a retried write must not fail the whole transaction over one repeat.
type PendingOutbox struct {
	TargetAdapter  string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
}

func enqueueOutboxTx(ctx context.Context, tx *sql.Tx, item PendingOutbox) error {
	maxAttempts := item.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO outbox (id, target_adapter, payload, idempotency_key, attempt_count, next_attempt_at, max_attempts, dead_letter, created_at)
		VALUES (?,?,?,?,0,?,?,0,?);
	`, id, item.TargetAdapter, string(item.Payload), item.IdempotencyKey, now, maxAttempts, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return &taxonomy.PersistenceError{Op: "enqueueOutboxTx", Err: err}
	}
	return nil
}

// claimLease is how long a claimed item is hidden from other ClaimDueOutbox
// callers while its delivery is in flight — longer than outbox.Queue's 30s
// per-item delivery timeout so a worker mid-delivery never loses its claim
// to another poll.
const claimLease = 45 * time.Second

// ClaimDueOutbox selects up to `limit` live, due items ordered oldest-first,
// for a worker to attempt delivery, and pushes their next_attempt_at out by
// claimLease in the same transaction so a concurrent worker's poll can't
// select the same row before this one finishes it (the worker pool in
// internal/outbox runs several goroutines against one poll loop). Callers
// must call either MarkOutboxDelivered or MarkOutboxFailed for each claimed
// item to resolve the claim; MarkOutboxFailed's own backoff computation
// then takes over next_attempt_at.
func (s *Store) ClaimDueOutbox(ctx context.Context, now time.Time, limit int) ([]OutboxItem, error) {
	var out []OutboxItem
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, target_adapter, payload, idempotency_key, attempt_count, next_attempt_at, max_attempts, dead_letter, created_at
			FROM outbox WHERE dead_letter = 0 AND next_attempt_at <= ?
			ORDER BY created_at ASC LIMIT ?;
		`, now, limit)
		if err != nil {
			return err
		}
		var ids []string
		for rows.Next() {
			var item OutboxItem
			var payload string
			var nextAttemptAt, createdAt string
			var deadLetter int
			if err := rows.Scan(&item.ID, &item.TargetAdapter, &payload, &item.IdempotencyKey, &item.AttemptCount,
				&nextAttemptAt, &item.MaxAttempts, &deadLetter, &createdAt); err != nil {
				rows.Close()
				return err
			}
			item.Payload = []byte(payload)
			item.NextAttemptAt = parseTimeLenient(nextAttemptAt)
			item.CreatedAt = parseTimeLenient(createdAt)
			item.DeadLetter = deadLetter != 0
			out = append(out, item)
			ids = append(ids, item.ID)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		leaseUntil := now.Add(claimLease).UTC()
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `UPDATE outbox SET next_attempt_at = ? WHERE id = ?;`, leaseUntil, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, &taxonomy.PersistenceError{Op: "ClaimDueOutbox", Err: err}
	}
	return out, nil
}

// MarkOutboxDelivered removes a successfully delivered item.
func (s *Store) MarkOutboxDelivered(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?;`, id)
	if err != nil {
		return &taxonomy.PersistenceError{Op: "MarkOutboxDelivered", Err: err}
	}
	return nil
}

// outboxBackoff implements the retry schedule from SPEC §5.3:
// min(60s * 2^attempt, 15min).
func outboxBackoff(attempt int) time.Duration {
	base := 60 * time.Second
	ceiling := 15 * time.Minute
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		d = ceiling
	}
	return d
}

// MarkOutboxFailed records a failed delivery attempt, scheduling the next
// retry with exponential backoff or dead-lettering once max_attempts is
// exhausted. Returns the updated attempt count and whether it is now
// dead-lettered.
func (s *Store) MarkOutboxFailed(ctx context.Context, id string, now time.Time) (attempts int, deadLettered bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT attempt_count, max_attempts FROM outbox WHERE id = ?;`, id)
	var attemptCount, maxAttempts int
	if scanErr := row.Scan(&attemptCount, &maxAttempts); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, &taxonomy.PersistenceError{Op: "MarkOutboxFailed.select", Err: scanErr}
	}
	attemptCount++
	deadLettered = attemptCount >= maxAttempts
	// attemptCount is 1 on the first failure; outboxBackoff's attempt
	// argument is zero-indexed from the first retry, so the exponent is
	// attemptCount-1 (SPEC §5.3 scenario S5: first retry waits 60s, not 120s).
	nextAttempt := now.Add(outboxBackoff(attemptCount - 1)).UTC()
	_, execErr := s.db.ExecContext(ctx, `
		UPDATE outbox SET attempt_count = ?, next_attempt_at = ?, dead_letter = ? WHERE id = ?;
	`, attemptCount, nextAttempt, boolToInt(deadLettered), id)
	if execErr != nil {
		return 0, false, &taxonomy.PersistenceError{Op: "MarkOutboxFailed.update", Err: execErr}
	}
	return attemptCount, deadLettered, nil
}

// DeadLetterOutbox immediately marks an item dead-lettered without waiting
// out the backoff schedule, for delivery errors MarkOutboxFailed's caller
// has identified as permanent (SPEC §4.4/§4.5: a 4xx other than 429 is not
// going to succeed on retry).
func (s *Store) DeadLetterOutbox(ctx context.Context, id string) (attempts int, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT attempt_count FROM outbox WHERE id = ?;`, id)
	var attemptCount int
	if scanErr := row.Scan(&attemptCount); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, &taxonomy.PersistenceError{Op: "DeadLetterOutbox.select", Err: scanErr}
	}
	attemptCount++
	_, execErr := s.db.ExecContext(ctx, `
		UPDATE outbox SET attempt_count = ?, dead_letter = 1 WHERE id = ?;
	`, attemptCount, id)
	if execErr != nil {
		return 0, &taxonomy.PersistenceError{Op: "DeadLetterOutbox.update", Err: execErr}
	}
	return attemptCount, nil
}

// ListDeadLettered returns dead-lettered items for operator inspection.
func (s *Store) ListDeadLettered(ctx context.Context) ([]OutboxItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, target_adapter, payload, idempotency_key, attempt_count, next_attempt_at, max_attempts, dead_letter, created_at
		FROM outbox WHERE dead_letter = 1 ORDER BY created_at DESC;
	`)
	if err != nil {
		return nil, &taxonomy.PersistenceError{Op: "ListDeadLettered", Err: err}
	}
	defer rows.Close()
	var out []OutboxItem
	for rows.Next() {
		var item OutboxItem
		var payload string
		var nextAttemptAt, createdAt string
		var deadLetter int
		if err := rows.Scan(&item.ID, &item.TargetAdapter, &payload, &item.IdempotencyKey, &item.AttemptCount,
			&nextAttemptAt, &item.MaxAttempts, &deadLetter, &createdAt); err != nil {
			return nil, err
		}
		item.Payload = []byte(payload)
		item.NextAttemptAt = parseTimeLenient(nextAttemptAt)
		item.CreatedAt = parseTimeLenient(createdAt)
		item.DeadLetter = deadLetter != 0
		out = append(out, item)
	}
	return out, rows.Err()
}
