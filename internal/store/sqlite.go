package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SQLiteStore SQLite record store implementation
type SQLiteStore struct {
	db               *sql.DB
	clearChatOnReset bool
}

var _ Store = &SQLiteStore{}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClearChatOnReset makes ResetAll also drop chat sessions and messages.
func WithClearChatOnReset(clear bool) Option {
	return func(s *SQLiteStore) {
		s.clearChatOnReset = clear
	}
}

// migrations are applied in order; the index+1 of the last applied entry is
// stored in PRAGMA user_version.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_id TEXT,
			title TEXT NOT NULL,
			created_at_ms INTEGER,
			updated_at_ms INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at_ms INTEGER,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS conversations_by_created ON conversations(created_at_ms)`,
		`CREATE INDEX IF NOT EXISTS conversations_by_source ON conversations(source_id)`,
		`CREATE INDEX IF NOT EXISTS messages_by_conversation ON messages(conversation_id, created_at_ms)`,
		`CREATE INDEX IF NOT EXISTS messages_by_role ON messages(role)`,
	},
	{
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			related_conversation_id INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			session_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp_ms INTEGER NOT NULL,
			FOREIGN KEY (session_id) REFERENCES chat_sessions(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS chat_messages_by_session ON chat_messages(session_id, timestamp_ms)`,
		`CREATE INDEX IF NOT EXISTS chat_sessions_by_updated ON chat_sessions(updated_at_ms DESC)`,
	},
}

// SchemaVersion is the user_version of a fully migrated database.
var SchemaVersion = len(migrations)

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, storageErr("open", errors.New("empty database path"))
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, storageErr("open", errors.Wrap(err, "failed to create database directory"))
	}

	db, err := sql.Open("sqlite3", dsnForFile(dbPath))
	if err != nil {
		return nil, storageErr("open", errors.Wrap(err, "failed to open database"))
	}

	s := &SQLiteStore{db: db}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func dsnForFile(path string) string {
	return "file:" + path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return storageErr("migrate", errors.Wrap(err, "read schema version"))
	}
	if version > len(migrations) {
		return storageErr("migrate", errors.Wrapf(ErrSchemaTooNew, "found version %d, supported %d", version, len(migrations)))
	}

	for v := version; v < len(migrations); v++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return storageErr("migrate", err)
		}
		for _, stmt := range migrations[v] {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return storageErr("migrate", errors.Wrapf(err, "schema v%d", v+1))
			}
		}
		// PRAGMA does not accept bound parameters.
		if _, err := tx.ExecContext(ctx, "PRAGMA user_version = "+strconv.Itoa(v+1)); err != nil {
			_ = tx.Rollback()
			return storageErr("migrate", err)
		}
		if err := tx.Commit(); err != nil {
			return storageErr("migrate", err)
		}
		log.Debug().Int("version", v+1).Msg("applied store schema migration")
	}
	return nil
}

// ResetAll clears the imported corpus, and chat data when configured to.
func (s *SQLiteStore) ResetAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("reset", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{"DELETE FROM messages", "DELETE FROM conversations"}
	if s.clearChatOnReset {
		stmts = append(stmts, "DELETE FROM chat_messages", "DELETE FROM chat_sessions")
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return storageErr("reset", errors.Wrap(err, stmt))
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr("reset", err)
	}

	log.Info().Bool("clear_chat", s.clearChatOnReset).Msg("record store reset")
	return nil
}

// AddConversation inserts a conversation and returns its assigned id.
func (s *SQLiteStore) AddConversation(ctx context.Context, c *Conversation) (int64, error) {
	if c == nil {
		return 0, errors.Wrap(ErrInvalidRecord, "nil conversation")
	}
	id, err := insertConversation(ctx, s.db, c)
	if err != nil {
		return 0, storageErr("add conversation", err)
	}
	c.ID = id
	return id, nil
}

// AddMessages bulk-inserts messages in one transaction. Any failure rolls
// back the whole batch.
func (s *SQLiteStore) AddMessages(ctx context.Context, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if err := validateMessages(msgs, true); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("add messages", err)
	}
	defer func() { _ = tx.Rollback() }()

	ids, err := insertMessages(ctx, tx, msgs)
	if err != nil {
		return storageErr("add messages", err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("add messages", err)
	}
	assignMessageIDs(msgs, ids)
	return nil
}

// ImportConversation inserts c together with its messages in one
// transaction, so a failed batch never leaves an empty conversation behind.
// msgs must not be empty; their ConversationID is set to the new id.
func (s *SQLiteStore) ImportConversation(ctx context.Context, c *Conversation, msgs []*Message) (int64, error) {
	if c == nil {
		return 0, errors.Wrap(ErrInvalidRecord, "nil conversation")
	}
	if len(msgs) == 0 {
		return 0, errors.Wrap(ErrInvalidRecord, "conversation has no messages")
	}
	if err := validateMessages(msgs, false); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("import conversation", err)
	}
	defer func() { _ = tx.Rollback() }()

	id, err := insertConversation(ctx, tx, c)
	if err != nil {
		return 0, storageErr("import conversation", err)
	}
	for _, m := range msgs {
		m.ConversationID = id
	}
	ids, err := insertMessages(ctx, tx, msgs)
	if err != nil {
		return 0, storageErr("import conversation", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, storageErr("import conversation", err)
	}
	c.ID = id
	assignMessageIDs(msgs, ids)
	return id, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertConversation(ctx context.Context, db execer, c *Conversation) (int64, error) {
	result, err := db.ExecContext(ctx,
		"INSERT INTO conversations (source_id, title, created_at_ms, updated_at_ms) VALUES (?, ?, ?, ?)",
		nullString(c.SourceID), c.Title, toMillis(c.CreatedAt), toMillis(c.UpdatedAt),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func validateMessages(msgs []*Message, needConversation bool) error {
	for i, m := range msgs {
		if m == nil || strings.TrimSpace(m.Text) == "" {
			return errors.Wrapf(ErrInvalidRecord, "message %d has empty text", i)
		}
		if needConversation && m.ConversationID <= 0 {
			return errors.Wrapf(ErrInvalidRecord, "message %d has no conversation", i)
		}
	}
	return nil
}

func insertMessages(ctx context.Context, tx *sql.Tx, msgs []*Message) ([]int64, error) {
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO messages (conversation_id, role, text, created_at_ms) VALUES (?, ?, ?, ?)")
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		role := NormalizeRole(string(m.Role))
		result, err := stmt.ExecContext(ctx, m.ConversationID, string(role), m.Text, toMillis(m.CreatedAt))
		if err != nil {
			return nil, errors.Wrapf(err, "message %d", i)
		}
		if ids[i], err = result.LastInsertId(); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func assignMessageIDs(msgs []*Message, ids []int64) {
	for i, m := range msgs {
		m.ID = ids[i]
		m.Role = NormalizeRole(string(m.Role))
	}
}

const conversationColumns = "id, source_id, title, created_at_ms, updated_at_ms"

func scanConversation(sc interface{ Scan(...any) error }) (*Conversation, error) {
	var c Conversation
	var sourceID sql.NullString
	var created, updated sql.NullInt64
	if err := sc.Scan(&c.ID, &sourceID, &c.Title, &created, &updated); err != nil {
		return nil, err
	}
	c.SourceID = sourceID.String
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return &c, nil
}

// GetConversation returns the conversation with the given id or ErrNotFound.
func (s *SQLiteStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+conversationColumns+" FROM conversations WHERE id = ?", id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrNotFound, "conversation %d", id)
	}
	if err != nil {
		return nil, storageErr("get conversation", err)
	}
	return c, nil
}

// ListConversations returns every conversation in storage order (by id).
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+conversationColumns+" FROM conversations ORDER BY id")
	if err != nil {
		return nil, storageErr("list conversations", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, storageErr("list conversations", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list conversations", err)
	}
	return out, nil
}

const messageColumns = "id, conversation_id, role, text, created_at_ms"

func scanMessage(sc interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	var role string
	var created sql.NullInt64
	if err := sc.Scan(&m.ID, &m.ConversationID, &role, &m.Text, &created); err != nil {
		return nil, err
	}
	m.Role = Role(role)
	m.CreatedAt = fromMillis(created)
	return &m, nil
}

// GetMessagesForConversation returns a conversation's messages in storage
// order. Callers that need chronological order use SortByCreatedAt.
func (s *SQLiteStore) GetMessagesForConversation(ctx context.Context, conversationID int64) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = ? ORDER BY id", conversationID)
	if err != nil {
		return nil, storageErr("get messages", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, storageErr("get messages", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("get messages", err)
	}
	return out, nil
}

// EachMessage streams every message in storage order. fn must not call back
// into the store; returning an error stops the scan and is returned as-is.
func (s *SQLiteStore) EachMessage(ctx context.Context, fn func(*Message) error) error {
	rows, err := s.db.QueryContext(ctx, "SELECT "+messageColumns+" FROM messages ORDER BY id")
	if err != nil {
		return storageErr("scan messages", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return storageErr("scan messages", err)
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return storageErr("scan messages", err)
	}
	return nil
}

func (s *SQLiteStore) count(ctx context.Context, op, query string, args ...any) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, storageErr(op, err)
	}
	return n, nil
}

// CountConversations returns the number of conversations.
func (s *SQLiteStore) CountConversations(ctx context.Context) (int, error) {
	return s.count(ctx, "count conversations", "SELECT COUNT(1) FROM conversations")
}

// CountMessages returns the number of messages.
func (s *SQLiteStore) CountMessages(ctx context.Context) (int, error) {
	return s.count(ctx, "count messages", "SELECT COUNT(1) FROM messages")
}

// CountMessagesByRole returns the number of messages authored by role.
func (s *SQLiteStore) CountMessagesByRole(ctx context.Context, role Role) (int, error) {
	return s.count(ctx, "count messages by role", "SELECT COUNT(1) FROM messages WHERE role = ?", string(role))
}

// MessageCountsByConversation returns per-conversation message counts
// ordered by conversation id.
func (s *SQLiteStore) MessageCountsByConversation(ctx context.Context) ([]ConversationCount, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT conversation_id, COUNT(1) FROM messages GROUP BY conversation_id ORDER BY conversation_id")
	if err != nil {
		return nil, storageErr("message counts", err)
	}
	defer rows.Close()

	var out []ConversationCount
	for rows.Next() {
		var cc ConversationCount
		if err := rows.Scan(&cc.ConversationID, &cc.Count); err != nil {
			return nil, storageErr("message counts", err)
		}
		out = append(out, cc)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("message counts", err)
	}
	return out, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func toMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
