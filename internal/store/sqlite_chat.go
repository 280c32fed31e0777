package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const chatSessionColumns = "id, title, created_at_ms, updated_at_ms, related_conversation_id"

func scanChatSession(sc interface{ Scan(...any) error }) (*ChatSession, error) {
	var cs ChatSession
	var created, updated int64
	var related sql.NullInt64
	if err := sc.Scan(&cs.ID, &cs.Title, &created, &updated, &related); err != nil {
		return nil, err
	}
	cs.CreatedAt = time.UnixMilli(created)
	cs.UpdatedAt = time.UnixMilli(updated)
	if related.Valid {
		id := related.Int64
		cs.RelatedConversationID = &id
	}
	return &cs, nil
}

// CreateChatSession starts a new chat thread.
func (s *SQLiteStore) CreateChatSession(ctx context.Context, title string, relatedConversationID *int64) (*ChatSession, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New chat"
	}
	now := time.Now()
	var related sql.NullInt64
	if relatedConversationID != nil {
		related = sql.NullInt64{Int64: *relatedConversationID, Valid: true}
	}

	result, err := s.db.ExecContext(ctx,
		"INSERT INTO chat_sessions (title, created_at_ms, updated_at_ms, related_conversation_id) VALUES (?, ?, ?, ?)",
		title, now.UnixMilli(), now.UnixMilli(), related,
	)
	if err != nil {
		return nil, storageErr("create chat session", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, storageErr("create chat session", err)
	}

	return &ChatSession{
		ID:                    id,
		Title:                 title,
		CreatedAt:             time.UnixMilli(now.UnixMilli()),
		UpdatedAt:             time.UnixMilli(now.UnixMilli()),
		RelatedConversationID: relatedConversationID,
	}, nil
}

// GetChatSession returns a chat session or ErrNotFound.
func (s *SQLiteStore) GetChatSession(ctx context.Context, id int64) (*ChatSession, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+chatSessionColumns+" FROM chat_sessions WHERE id = ?", id)
	cs, err := scanChatSession(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "chat session %d", id)
	}
	if err != nil {
		return nil, storageErr("get chat session", err)
	}
	return cs, nil
}

// ListChatSessions returns sessions, most recently updated first.
func (s *SQLiteStore) ListChatSessions(ctx context.Context) ([]*ChatSession, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+chatSessionColumns+" FROM chat_sessions ORDER BY updated_at_ms DESC, id DESC")
	if err != nil {
		return nil, storageErr("list chat sessions", err)
	}
	defer rows.Close()

	var out []*ChatSession
	for rows.Next() {
		cs, err := scanChatSession(rows)
		if err != nil {
			return nil, storageErr("list chat sessions", err)
		}
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list chat sessions", err)
	}
	return out, nil
}

// AppendChatMessage stores msg in the session and bumps the session's
// UpdatedAt in the same transaction. Missing ID and Timestamp are filled in.
func (s *SQLiteStore) AppendChatMessage(ctx context.Context, sessionID int64, msg *ChatMessage) error {
	if msg == nil {
		return errors.Wrap(ErrInvalidRecord, "nil chat message")
	}
	if msg.Role != ChatRoleUser && msg.Role != ChatRoleAssistant {
		return errors.Wrapf(ErrInvalidRecord, "chat role %q", msg.Role)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("append chat message", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		"UPDATE chat_sessions SET updated_at_ms = ? WHERE id = ?", time.Now().UnixMilli(), sessionID)
	if err != nil {
		return storageErr("append chat message", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return storageErr("append chat message", err)
	} else if n == 0 {
		return errors.Wrapf(ErrNotFound, "chat session %d", sessionID)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO chat_messages (id, session_id, role, content, timestamp_ms) VALUES (?, ?, ?, ?, ?)",
		msg.ID, sessionID, string(msg.Role), msg.Content, msg.Timestamp,
	); err != nil {
		return storageErr("append chat message", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("append chat message", err)
	}
	msg.SessionID = sessionID
	return nil
}

// GetChatMessages returns a session's messages ordered by timestamp.
func (s *SQLiteStore) GetChatMessages(ctx context.Context, sessionID int64) ([]*ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, timestamp_ms
		 FROM chat_messages
		 WHERE session_id = ?
		 ORDER BY timestamp_ms, rowid`,
		sessionID,
	)
	if err != nil {
		return nil, storageErr("get chat messages", err)
	}
	defer rows.Close()

	var out []*ChatMessage
	for rows.Next() {
		var m ChatMessage
		var role string
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &m.Timestamp); err != nil {
			return nil, storageErr("get chat messages", err)
		}
		m.Role = ChatRole(role)
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get chat messages", err)
	}
	return out, nil
}

// ClearChatData removes every chat session and chat message.
func (s *SQLiteStore) ClearChatData(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("clear chat data", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{"DELETE FROM chat_messages", "DELETE FROM chat_sessions"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return storageErr("clear chat data", err)
		}
	}
	return storageErr("clear chat data", tx.Commit())
}
