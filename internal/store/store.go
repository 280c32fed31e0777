package store

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Store is the record store for imported conversations and local chat sessions.
type Store interface {
	// Imported corpus
	ResetAll(ctx context.Context) error
	AddConversation(ctx context.Context, c *Conversation) (int64, error)
	AddMessages(ctx context.Context, msgs []*Message) error
	ImportConversation(ctx context.Context, c *Conversation, msgs []*Message) (int64, error)
	GetConversation(ctx context.Context, id int64) (*Conversation, error)
	ListConversations(ctx context.Context) ([]*Conversation, error)
	GetMessagesForConversation(ctx context.Context, conversationID int64) ([]*Message, error)
	EachMessage(ctx context.Context, fn func(*Message) error) error

	// Aggregates
	CountConversations(ctx context.Context) (int, error)
	CountMessages(ctx context.Context) (int, error)
	CountMessagesByRole(ctx context.Context, role Role) (int, error)
	MessageCountsByConversation(ctx context.Context) ([]ConversationCount, error)

	// Chat sessions
	CreateChatSession(ctx context.Context, title string, relatedConversationID *int64) (*ChatSession, error)
	GetChatSession(ctx context.Context, id int64) (*ChatSession, error)
	ListChatSessions(ctx context.Context) ([]*ChatSession, error)
	AppendChatMessage(ctx context.Context, sessionID int64, msg *ChatMessage) error
	GetChatMessages(ctx context.Context, sessionID int64) ([]*ChatMessage, error)
	ClearChatData(ctx context.Context) error

	Close() error
}

// Role is the author of an imported message.
type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
	RoleUnknown   Role = "unknown"
)

// NormalizeRole maps export sender values onto the known roles.
func NormalizeRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleHuman:
		return RoleHuman
	case RoleAssistant:
		return RoleAssistant
	default:
		return RoleUnknown
	}
}

// ChatRole is the author of a chat session message.
type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// Conversation is one imported chat thread.
type Conversation struct {
	ID        int64      `json:"id"`
	SourceID  string     `json:"sourceId,omitempty"`
	Title     string     `json:"title"`
	CreatedAt *time.Time `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt"`
}

// FormattedDate renders CreatedAt in local time for display and prompts.
func (c *Conversation) FormattedDate() string {
	if c == nil || c.CreatedAt == nil {
		return "Unknown date"
	}
	return c.CreatedAt.Local().Format("2006-01-02 15:04:05")
}

// CreatedMillis returns CreatedAt as epoch milliseconds, 0 when unknown.
func (c *Conversation) CreatedMillis() int64 {
	if c == nil || c.CreatedAt == nil {
		return 0
	}
	return c.CreatedAt.UnixMilli()
}

// Message is one turn of an imported conversation.
type Message struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversationId"`
	Role           Role       `json:"role"`
	Text           string     `json:"text"`
	CreatedAt      *time.Time `json:"createdAt"`
}

// ConversationCount pairs a conversation id with its message count.
type ConversationCount struct {
	ConversationID int64
	Count          int
}

// ChatSession is a locally originated chat thread.
type ChatSession struct {
	ID                    int64     `json:"id"`
	Title                 string    `json:"title"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
	RelatedConversationID *int64    `json:"relatedConversationId,omitempty"`
}

// ChatMessage is one message in a chat session. Timestamp is epoch millis.
type ChatMessage struct {
	ID        string   `json:"id"`
	SessionID int64    `json:"sessionId"`
	Role      ChatRole `json:"role"`
	Content   string   `json:"content"`
	Timestamp int64    `json:"timestamp"`
}

// SortByCreatedAt orders messages chronologically in place. Messages without
// a timestamp sort first; ties keep their current order.
func SortByCreatedAt(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return millis(msgs[i].CreatedAt) < millis(msgs[j].CreatedAt)
	})
}

func millis(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMilli()
}
