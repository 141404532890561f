package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/basket/boss/internal/taxonomy"
)

// AuditEvent mirrors SPEC §3.1: immutable, append-only, used for
// reconstruction and user-visible history.
type AuditEvent struct {
	ID         int64           `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Actor      string          `json:"actor"`
	Action     string          `json:"action"`
	Before     []byte          `json:"before,omitempty"`
	After      []byte          `json:"after,omitempty"`
}

func insertAuditTx(ctx context.Context, tx *sql.Tx, entityType, entityID, actor, action string, before, after []byte) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_log (timestamp, entity_type, entity_id, actor, action, before, after)
		VALUES (?,?,?,?,?,?,?);
	`, time.Now().UTC(), entityType, entityID, actor, action, nullBytes(before), nullBytes(after))
	if err != nil {
		return &taxonomy.PersistenceError{Op: "insertAuditTx", Err: err}
	}
	return nil
}

// RecordAudit appends a standalone audit event outside of any existing
// transaction (used by components that mutate state through a side
// channel, e.g. the scheduler applying overdue status in bulk).
func (s *Store) RecordAudit(ctx context.Context, entityType, entityID, actor, action string, before, after []byte) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertAuditTx(ctx, tx, entityType, entityID, actor, action, before, after)
	})
}

// ListAuditEvents returns a entity's audit trail, most recent first.
func (s *Store) ListAuditEvents(ctx context.Context, entityType, entityID string) ([]AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, entity_type, entity_id, actor, action, before, after
		FROM audit_log WHERE entity_type = ? AND entity_id = ?
		ORDER BY timestamp DESC;
	`, entityType, entityID)
	if err != nil {
		return nil, &taxonomy.PersistenceError{Op: "ListAuditEvents", Err: err}
	}
	defer rows.Close()
	var out []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var ts string
		var before, after sql.NullString
		if err := rows.Scan(&e.ID, &ts, &e.EntityType, &e.EntityID, &e.Actor, &e.Action, &before, &after); err != nil {
			return nil, err
		}
		e.Timestamp = parseTimeLenient(ts)
		if before.Valid {
			e.Before = []byte(before.String)
		}
		if after.Valid {
			e.After = []byte(after.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
