package store

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGetChatSession(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	related := int64(7)

	sess, err := s.CreateChatSession(ctx, "  Follow-up  ", &related)
	require.NoError(t, err)
	assert.NotZero(t, sess.ID)
	assert.Equal(t, "Follow-up", sess.Title)

	got, err := s.GetChatSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.Title, got.Title)
	require.NotNil(t, got.RelatedConversationID)
	assert.Equal(t, int64(7), *got.RelatedConversationID)

	_, err = s.GetChatSession(ctx, sess.ID+1)
	assert.True(t, IsNotFound(err))
}

func TestCreateChatSession_DefaultTitle(t *testing.T) {
	s := setupTestDB(t)
	sess, err := s.CreateChatSession(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "New chat", sess.Title)
	assert.Nil(t, sess.RelatedConversationID)
}

func TestAppendChatMessage(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	sess, err := s.CreateChatSession(ctx, "chat", nil)
	require.NoError(t, err)

	msg := &ChatMessage{Role: ChatRoleUser, Content: "hello"}
	require.NoError(t, s.AppendChatMessage(ctx, sess.ID, msg))
	assert.NotEmpty(t, msg.ID)
	assert.NotZero(t, msg.Timestamp)
	assert.Equal(t, sess.ID, msg.SessionID)

	msgs, err := s.GetChatMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, *msg, *msgs[0])
}

func TestAppendChatMessage_Errors(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	err := s.AppendChatMessage(ctx, 42, &ChatMessage{Role: ChatRoleUser, Content: "x"})
	assert.True(t, IsNotFound(err))

	sess, err := s.CreateChatSession(ctx, "chat", nil)
	require.NoError(t, err)
	err = s.AppendChatMessage(ctx, sess.ID, &ChatMessage{Role: "system", Content: "x"})
	assert.True(t, errors.Is(err, ErrInvalidRecord))

	err = s.AppendChatMessage(ctx, sess.ID, nil)
	assert.True(t, errors.Is(err, ErrInvalidRecord))
}

func TestGetChatMessages_OrderedByTimestamp(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	sess, err := s.CreateChatSession(ctx, "chat", nil)
	require.NoError(t, err)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	require.NoError(t, s.AppendChatMessage(ctx, sess.ID, &ChatMessage{Role: ChatRoleAssistant, Content: "second", Timestamp: base + 10}))
	require.NoError(t, s.AppendChatMessage(ctx, sess.ID, &ChatMessage{Role: ChatRoleUser, Content: "first", Timestamp: base}))
	require.NoError(t, s.AppendChatMessage(ctx, sess.ID, &ChatMessage{Role: ChatRoleUser, Content: "third", Timestamp: base + 10}))

	msgs, err := s.GetChatMessages(ctx, sess.ID)
	require.NoError(t, err)
	var contents []string
	for _, m := range msgs {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"first", "second", "third"}, contents)
}

func TestListChatSessions_MostRecentlyUpdatedFirst(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	older, err := s.CreateChatSession(ctx, "older", nil)
	require.NoError(t, err)
	newer, err := s.CreateChatSession(ctx, "newer", nil)
	require.NoError(t, err)

	sessions, err := s.ListChatSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, newer.ID, sessions[0].ID)

	// Appending to the older session moves it to the front.
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.AppendChatMessage(ctx, older.ID, &ChatMessage{Role: ChatRoleUser, Content: "bump"}))

	sessions, err = s.ListChatSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, older.ID, sessions[0].ID)
}

func TestClearChatData(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	addConversation(t, s, "Imported", nil, "kept")
	sess, err := s.CreateChatSession(ctx, "chat", nil)
	require.NoError(t, err)
	require.NoError(t, s.AppendChatMessage(ctx, sess.ID, &ChatMessage{Role: ChatRoleUser, Content: "gone"}))

	require.NoError(t, s.ClearChatData(ctx))

	sessions, err := s.ListChatSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
	msgs, err := s.GetChatMessages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	n, err := s.CountConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
