package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/basket/boss/internal/taxonomy"
	"github.com/google/uuid"
)

// Conversation mirrors SPEC §3.1. A user has at most one open
// (ClosedAt == nil) conversation at a time (§8 invariant 6), enforced here
// by the partial unique index on conversations(user_id) WHERE closed_at
// IS NULL.
type Conversation struct {
	ConversationID string          `json:"conversation_id"`
	UserID         string          `json:"user_id"`
	Stage          string          `json:"stage"`
	CreatedAt      time.Time       `json:"created_at"`
	LastActivityAt time.Time       `json:"last_activity_at"`
	Scratch        json.RawMessage `json:"scratch"`
	ClosedAt       *time.Time      `json:"closed_at,omitempty"`
}

// OpenConversation returns the user's open conversation, or nil if none.
func (s *Store) OpenConversation(ctx context.Context, userID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT conversation_id, user_id, stage, created_at, last_activity_at, scratch, closed_at
		FROM conversations WHERE user_id = ? AND closed_at IS NULL;
	`, userID)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &taxonomy.PersistenceError{Op: "OpenConversation", Err: err}
	}
	return c, nil
}

// StartConversation closes any existing open conversation for the user
// (cancel semantics, SPEC §4.7: slash-command preemption) and opens a
// fresh one in the given stage.
func (s *Store) StartConversation(ctx context.Context, userID, stage string) (*Conversation, error) {
	var out Conversation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := closeOpenConversationTx(ctx, tx, userID); err != nil {
			return err
		}
		now := time.Now().UTC()
		id := uuid.NewString()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (conversation_id, user_id, stage, created_at, last_activity_at, scratch)
			VALUES (?,?,?,?,?,'{}');
		`, id, userID, stage, now, now); err != nil {
			return &taxonomy.PersistenceError{Op: "StartConversation.insert", Err: err}
		}
		out = Conversation{ConversationID: id, UserID: userID, Stage: stage, CreatedAt: now, LastActivityAt: now, Scratch: json.RawMessage("{}")}
		return nil
	})
	return &out, err
}

func closeOpenConversationTx(ctx context.Context, tx *sql.Tx, userID string) error {
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET closed_at = ? WHERE user_id = ? AND closed_at IS NULL;`, now, userID); err != nil {
		return &taxonomy.PersistenceError{Op: "closeOpenConversationTx", Err: err}
	}
	return nil
}

// CloseConversation closes the given conversation if still open.
func (s *Store) CloseConversation(ctx context.Context, conversationID string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET closed_at = ? WHERE conversation_id = ? AND closed_at IS NULL;`, now, conversationID)
	if err != nil {
		return &taxonomy.PersistenceError{Op: "CloseConversation", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, taxonomy.ErrNotFound)
	}
	return nil
}

// CloseStaleConversations closes every open conversation whose
// last_activity_at is older than `idle`, applying the 2h inactivity
// timeout from SPEC §4.7.
func (s *Store) CloseStaleConversations(ctx context.Context, idle time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-idle).UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET closed_at = ? WHERE closed_at IS NULL AND last_activity_at < ?;`, now.UTC(), cutoff)
	if err != nil {
		return 0, &taxonomy.PersistenceError{Op: "CloseStaleConversations", Err: err}
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// UpdateConversationState sets stage and scratch and bumps last_activity_at.
func (s *Store) UpdateConversationState(ctx context.Context, conversationID, stage string, scratch json.RawMessage) error {
	if len(scratch) == 0 {
		scratch = json.RawMessage("{}")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET stage = ?, scratch = ?, last_activity_at = ?
		WHERE conversation_id = ? AND closed_at IS NULL;
	`, stage, string(scratch), now, conversationID)
	if err != nil {
		return &taxonomy.PersistenceError{Op: "UpdateConversationState", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", conversationID, taxonomy.ErrNotFound)
	}
	return nil
}

func scanConversation(row scanner) (*Conversation, error) {
	var c Conversation
	var createdAt, lastActivity string
	var scratch string
	var closedAt sql.NullString
	if err := row.Scan(&c.ConversationID, &c.UserID, &c.Stage, &createdAt, &lastActivity, &scratch, &closedAt); err != nil {
		return nil, err
	}
	c.CreatedAt = parseTimeLenient(createdAt)
	c.LastActivityAt = parseTimeLenient(lastActivity)
	c.Scratch = json.RawMessage(scratch)
	if closedAt.Valid && closedAt.String != "" {
		t := parseTimeLenient(closedAt.String)
		c.ClosedAt = &t
	}
	return &c, nil
}

// Message mirrors SPEC §3.1 — immutable, append-only within a Conversation.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"` // user | bot | system
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// AppendMessage inserts an immutable message row.
func (s *Store) AppendMessage(ctx context.Context, conversationID, role, content string) (*Message, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?,?,?,?);`,
		conversationID, role, content, now)
	if err != nil {
		return nil, &taxonomy.PersistenceError{Op: "AppendMessage", Err: err}
	}
	id, _ := res.LastInsertId()
	return &Message{ID: id, ConversationID: conversationID, Role: role, Content: content, CreatedAt: now}, nil
}

// ListMessages returns messages ordered by created_at, most recent last.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, created_at FROM messages
		WHERE conversation_id = ? ORDER BY created_at DESC LIMIT ?;
	`, conversationID, limit)
	if err != nil {
		return nil, &taxonomy.PersistenceError{Op: "ListMessages", Err: err}
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTimeLenient(createdAt)
		out = append(out, m)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}
