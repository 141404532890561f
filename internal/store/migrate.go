package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migrate creates the schema if absent and records the ledger row,
// mirroring the teacher's schema_migrations gate (store checks
// schemaVersionLatest/schemaChecksumLatest before trusting an existing DB).
func (s *Store) migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version   INTEGER PRIMARY KEY,
			checksum  TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		return fmt.Errorf("count schema_migrations: %w", err)
	}
	if count > 0 {
		var checksum string
		if err := tx.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&checksum); err != nil {
			return fmt.Errorf("read schema checksum: %w", err)
		}
		if checksum != schemaChecksumLatest {
			return fmt.Errorf("store: schema checksum mismatch: db has %q, binary expects %q", checksum, schemaChecksumLatest)
		}
		return tx.Commit()
	}

	for _, stmt := range schemaDDL {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, checksum) VALUES (?, ?)`,
		schemaVersionLatest, schemaChecksumLatest); err != nil {
		return fmt.Errorf("record schema migration: %w", err)
	}

	return tx.Commit()
}

// schemaDDL is applied in order on first open. Table layout follows SPEC
// §6.2. task_id uses the external TASK-YYYYMMDD-NNN format as its natural
// key; an internal surrogate rowid (SQLite's implicit `rowid`) backs it.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS team_members (
		name                 TEXT PRIMARY KEY,
		role                 TEXT NOT NULL,
		transport_id         TEXT,
		secondary_channel_id TEXT,
		email                TEXT,
		timezone             TEXT,
		work_start           TEXT,
		active               INTEGER NOT NULL DEFAULT 1,
		skills               TEXT NOT NULL DEFAULT '[]',
		created_at           TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		updated_at           TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	);`,

	`CREATE TABLE IF NOT EXISTS tasks (
		task_id                TEXT PRIMARY KEY,
		title                  TEXT NOT NULL,
		description            TEXT NOT NULL DEFAULT '',
		assignee_name          TEXT,
		assignee_transport_id  TEXT,
		priority               TEXT NOT NULL DEFAULT 'medium',
		status                 TEXT NOT NULL DEFAULT 'pending',
		type                   TEXT NOT NULL DEFAULT '',
		deadline               TEXT,
		created_at             TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		updated_at             TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		created_by             TEXT,
		estimated_minutes      INTEGER,
		actual_minutes         INTEGER,
		progress               INTEGER NOT NULL DEFAULT 0,
		tags                   TEXT NOT NULL DEFAULT '[]',
		acceptance_criteria    TEXT NOT NULL DEFAULT '[]',
		external_thread_id     TEXT,
		soft_deleted           INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status_assignee ON tasks(status, assignee_name);`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status_deadline ON tasks(status, deadline);`,

	`CREATE VIRTUAL TABLE IF NOT EXISTS tasks_fts USING fts4(task_id, title, description, tokenize=porter);`,

	`CREATE TABLE IF NOT EXISTS subtasks (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id     TEXT NOT NULL REFERENCES tasks(task_id),
		"order"     INTEGER NOT NULL,
		title       TEXT NOT NULL,
		done        INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		UNIQUE(task_id, "order")
	);`,

	`CREATE TABLE IF NOT EXISTS task_dependencies (
		task_id        TEXT NOT NULL REFERENCES tasks(task_id),
		depends_on_id  TEXT NOT NULL REFERENCES tasks(task_id),
		created_at     TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		PRIMARY KEY (task_id, depends_on_id)
	);`,

	`CREATE TABLE IF NOT EXISTS conversations (
		conversation_id   TEXT PRIMARY KEY,
		user_id           TEXT NOT NULL,
		stage             TEXT NOT NULL DEFAULT 'idle',
		created_at        TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		last_activity_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		scratch           TEXT NOT NULL DEFAULT '{}',
		closed_at         TEXT
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_open_user ON conversations(user_id) WHERE closed_at IS NULL;`,

	`CREATE TABLE IF NOT EXISTS messages (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id  TEXT NOT NULL REFERENCES conversations(conversation_id),
		role             TEXT NOT NULL,
		content          TEXT NOT NULL,
		created_at       TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	);`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages(conversation_id, created_at);`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		entity_type  TEXT NOT NULL,
		entity_id    TEXT NOT NULL,
		actor        TEXT NOT NULL,
		action       TEXT NOT NULL,
		before       TEXT,
		after        TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_audit_ts_entity ON audit_log(timestamp DESC, entity_type);`,

	`CREATE TABLE IF NOT EXISTS oauth_tokens (
		email                TEXT NOT NULL,
		service              TEXT NOT NULL,
		refresh_token_ct     TEXT NOT NULL,
		access_token_ct      TEXT NOT NULL,
		expires_at           TEXT,
		PRIMARY KEY (email, service)
	);`,

	`CREATE TABLE IF NOT EXISTS attendance_records (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		"date"    TEXT NOT NULL,
		user      TEXT NOT NULL,
		status    TEXT NOT NULL,
		note      TEXT,
		UNIQUE("date", user)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_attendance_date_user ON attendance_records("date", user);`,

	`CREATE TABLE IF NOT EXISTS recurring_tasks (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		cron_expr     TEXT NOT NULL,
		template      TEXT NOT NULL,
		last_run_at   TEXT,
		next_run_at   TEXT NOT NULL,
		active        INTEGER NOT NULL DEFAULT 1
	);`,

	`CREATE TABLE IF NOT EXISTS time_entries (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id      TEXT NOT NULL REFERENCES tasks(task_id),
		user_id      TEXT NOT NULL,
		started_at   TEXT NOT NULL,
		ended_at     TEXT,
		minutes      INTEGER
	);`,
	`CREATE INDEX IF NOT EXISTS idx_time_entries_user_started ON time_entries(user_id, started_at);`,

	`CREATE TABLE IF NOT EXISTS processed_updates (
		transport_update_id TEXT PRIMARY KEY,
		first_seen_at        TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	);`,

	`CREATE TABLE IF NOT EXISTS reminder_ledger (
		task_id          TEXT NOT NULL REFERENCES tasks(task_id),
		interval_bucket  TEXT NOT NULL,
		sent_at          TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		PRIMARY KEY (task_id, interval_bucket)
	);`,

	`CREATE TABLE IF NOT EXISTS outbox (
		id                TEXT PRIMARY KEY,
		target_adapter    TEXT NOT NULL,
		payload           TEXT NOT NULL,
		idempotency_key   TEXT NOT NULL,
		attempt_count     INTEGER NOT NULL DEFAULT 0,
		next_attempt_at   TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		max_attempts      INTEGER NOT NULL DEFAULT 5,
		dead_letter       INTEGER NOT NULL DEFAULT 0,
		created_at        TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_outbox_idem_live ON outbox(idempotency_key) WHERE dead_letter = 0;`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_due ON outbox(dead_letter, next_attempt_at);`,
}

// tableExists is a small helper used by tests to assert migration ran.
func tableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
