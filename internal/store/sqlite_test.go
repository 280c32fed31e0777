package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func tp(t time.Time) *time.Time { return &t }

func addConversation(t *testing.T, s *SQLiteStore, title string, created *time.Time, texts ...string) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := s.AddConversation(ctx, &Conversation{Title: title, CreatedAt: created, UpdatedAt: created})
	require.NoError(t, err)

	var msgs []*Message
	for i, text := range texts {
		role := RoleHuman
		if i%2 == 1 {
			role = RoleAssistant
		}
		msgs = append(msgs, &Message{ConversationID: id, Role: role, Text: text, CreatedAt: created})
	}
	require.NoError(t, s.AddMessages(ctx, msgs))
	return id
}

func TestNewSQLiteStore_EmptyPath(t *testing.T) {
	_, err := NewSQLiteStore("  ")
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
}

func TestNewSQLiteStore_SetsSchemaVersion(t *testing.T) {
	s := setupTestDB(t)

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, SchemaVersion, version)
}

func TestNewSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	addConversation(t, s, "Kept", nil, "hello")
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	n, err := s.CountConversations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewSQLiteStore_SchemaTooNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = NewSQLiteStore(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchemaTooNew))
	assert.True(t, IsStorageError(err))
}

func TestAddConversation_AssignsIncreasingIDs(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	c1 := &Conversation{Title: "First"}
	c2 := &Conversation{Title: "Second"}
	id1, err := s.AddConversation(ctx, c1)
	require.NoError(t, err)
	id2, err := s.AddConversation(ctx, c2)
	require.NoError(t, err)

	assert.Equal(t, id1, c1.ID)
	assert.Greater(t, id2, id1)

	_, err = s.AddConversation(ctx, nil)
	assert.True(t, errors.Is(err, ErrInvalidRecord))
}

func TestGetConversation(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	created := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	id, err := s.AddConversation(ctx, &Conversation{SourceID: "abc", Title: "Trip Planning", CreatedAt: &created})
	require.NoError(t, err)

	c, err := s.GetConversation(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Trip Planning", c.Title)
	assert.Equal(t, "abc", c.SourceID)
	require.NotNil(t, c.CreatedAt)
	assert.True(t, created.Equal(*c.CreatedAt))
	assert.Nil(t, c.UpdatedAt)

	_, err = s.GetConversation(ctx, id+100)
	assert.True(t, IsNotFound(err))
}

func TestAddMessages(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	id, err := s.AddConversation(ctx, &Conversation{Title: "Chat"})
	require.NoError(t, err)

	msgs := []*Message{
		{ConversationID: id, Role: "HUMAN", Text: "hi"},
		{ConversationID: id, Role: RoleAssistant, Text: "hello"},
		{ConversationID: id, Role: "system", Text: "odd"},
	}
	require.NoError(t, s.AddMessages(ctx, msgs))
	for _, m := range msgs {
		assert.NotZero(t, m.ID)
	}
	assert.Equal(t, RoleHuman, msgs[0].Role)
	assert.Equal(t, RoleUnknown, msgs[2].Role)

	got, err := s.GetMessagesForConversation(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "hi", got[0].Text)
	assert.Equal(t, RoleUnknown, got[2].Role)
}

func TestAddMessages_RejectsInvalidBatch(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	id, err := s.AddConversation(ctx, &Conversation{Title: "Chat"})
	require.NoError(t, err)

	err = s.AddMessages(ctx, []*Message{
		{ConversationID: id, Role: RoleHuman, Text: "fine"},
		{ConversationID: id, Role: RoleHuman, Text: "   "},
	})
	assert.True(t, errors.Is(err, ErrInvalidRecord))

	err = s.AddMessages(ctx, []*Message{{Role: RoleHuman, Text: "orphan"}})
	assert.True(t, errors.Is(err, ErrInvalidRecord))

	n, err := s.CountMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAddMessages_ForeignKeyRollsBackBatch(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	id, err := s.AddConversation(ctx, &Conversation{Title: "Chat"})
	require.NoError(t, err)

	err = s.AddMessages(ctx, []*Message{
		{ConversationID: id, Role: RoleHuman, Text: "ok"},
		{ConversationID: id + 999, Role: RoleHuman, Text: "dangling"},
	})
	require.Error(t, err)
	assert.True(t, IsStorageError(err))

	n, err := s.CountMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestImportConversation(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	c := &Conversation{Title: "Imported"}
	msgs := []*Message{
		{Role: RoleHuman, Text: "question"},
		{Role: "bot", Text: "answer"},
	}
	id, err := s.ImportConversation(ctx, c, msgs)
	require.NoError(t, err)
	assert.Equal(t, id, c.ID)
	for _, m := range msgs {
		assert.Equal(t, id, m.ConversationID)
		assert.NotZero(t, m.ID)
	}

	stored, err := s.GetMessagesForConversation(ctx, id)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, RoleHuman, stored[0].Role)
	assert.Equal(t, RoleUnknown, stored[1].Role)
}

func TestImportConversation_RejectsEmpty(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	_, err := s.ImportConversation(ctx, &Conversation{Title: "Nothing"}, nil)
	assert.True(t, errors.Is(err, ErrInvalidRecord))
	_, err = s.ImportConversation(ctx, &Conversation{Title: "Blank"}, []*Message{{Role: RoleHuman, Text: "  "}})
	assert.True(t, errors.Is(err, ErrInvalidRecord))

	n, err := s.CountConversations(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestImportConversation_FailedMessagesLeaveNoConversation(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, `CREATE TRIGGER reject_poison BEFORE INSERT ON messages
		WHEN NEW.text = 'poison' BEGIN SELECT RAISE(ABORT, 'rejected'); END`)
	require.NoError(t, err)

	_, err = s.ImportConversation(ctx, &Conversation{Title: "Half"}, []*Message{
		{Role: RoleHuman, Text: "fine"},
		{Role: RoleAssistant, Text: "poison"},
	})
	require.Error(t, err)
	assert.True(t, IsStorageError(err))

	convs, err := s.CountConversations(ctx)
	require.NoError(t, err)
	assert.Zero(t, convs)
	msgs, err := s.CountMessages(ctx)
	require.NoError(t, err)
	assert.Zero(t, msgs)
}

func TestCounts(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	a := addConversation(t, s, "A", nil, "q1", "a1", "q2")
	b := addConversation(t, s, "B", nil, "q1")

	convs, err := s.CountConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, convs)

	msgs, err := s.CountMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, msgs)

	human, err := s.CountMessagesByRole(ctx, RoleHuman)
	require.NoError(t, err)
	assert.Equal(t, 3, human)

	assistant, err := s.CountMessagesByRole(ctx, RoleAssistant)
	require.NoError(t, err)
	assert.Equal(t, 1, assistant)

	counts, err := s.MessageCountsByConversation(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ConversationCount{{ConversationID: a, Count: 3}, {ConversationID: b, Count: 1}}, counts)
}

func TestEachMessage(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	addConversation(t, s, "A", nil, "one", "two")
	addConversation(t, s, "B", nil, "three")

	var texts []string
	require.NoError(t, s.EachMessage(ctx, func(m *Message) error {
		texts = append(texts, m.Text)
		return nil
	}))
	assert.Equal(t, []string{"one", "two", "three"}, texts)

	stop := errors.New("stop")
	var seen int
	err := s.EachMessage(ctx, func(m *Message) error {
		seen++
		return stop
	})
	assert.Equal(t, stop, err)
	assert.Equal(t, 1, seen)
}

func TestListConversations_StorageOrder(t *testing.T) {
	s := setupTestDB(t)
	addConversation(t, s, "Newer", tp(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)), "x")
	addConversation(t, s, "Older", tp(time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)), "y")

	convs, err := s.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "Newer", convs[0].Title)
	assert.Equal(t, "Older", convs[1].Title)
}

func TestResetAll(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	addConversation(t, s, "A", nil, "one", "two")
	sess, err := s.CreateChatSession(ctx, "chat", nil)
	require.NoError(t, err)
	require.NoError(t, s.AppendChatMessage(ctx, sess.ID, &ChatMessage{Role: ChatRoleUser, Content: "hi"}))

	require.NoError(t, s.ResetAll(ctx))

	convs, err := s.CountConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, convs)
	msgs, err := s.CountMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, msgs)

	sessions, err := s.ListChatSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 1, "chat data survives a default reset")
}

func TestResetAll_ClearChat(t *testing.T) {
	s := setupTestDB(t, WithClearChatOnReset(true))
	ctx := context.Background()
	addConversation(t, s, "A", nil, "one")
	_, err := s.CreateChatSession(ctx, "chat", nil)
	require.NoError(t, err)

	require.NoError(t, s.ResetAll(ctx))

	sessions, err := s.ListChatSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestResetAll_EmptyStore(t *testing.T) {
	s := setupTestDB(t)
	assert.NoError(t, s.ResetAll(context.Background()))
}

func TestSortByCreatedAt(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	msgs := []*Message{
		{ID: 1, CreatedAt: &t2},
		{ID: 2, CreatedAt: nil},
		{ID: 3, CreatedAt: &t1},
		{ID: 4, CreatedAt: &t1},
	}
	SortByCreatedAt(msgs)

	var ids []int64
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []int64{2, 3, 4, 1}, ids)
}

func TestNormalizeRole(t *testing.T) {
	assert.Equal(t, RoleHuman, NormalizeRole(" Human "))
	assert.Equal(t, RoleAssistant, NormalizeRole("assistant"))
	assert.Equal(t, RoleUnknown, NormalizeRole(""))
	assert.Equal(t, RoleUnknown, NormalizeRole("system"))
}

func TestConversation_FormattedDate(t *testing.T) {
	var c *Conversation
	assert.Equal(t, "Unknown date", c.FormattedDate())
	assert.Equal(t, int64(0), c.CreatedMillis())

	created := time.Date(2024, 1, 15, 10, 30, 0, 0, time.Local)
	c = &Conversation{CreatedAt: &created}
	assert.Equal(t, "2024-01-15 10:30:00", c.FormattedDate())
	assert.Equal(t, created.UnixMilli(), c.CreatedMillis())
}
