// Package chat runs chat sessions against the configured LLM endpoint and
// records every turn in the record store.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/hession/convscope/internal/llm"
	"github.com/hession/convscope/internal/store"
)

// ErrNothingSelected is returned when a summary is requested for no conversations.
var ErrNothingSelected = errors.New("no conversations selected")

// Completer sends a message list to an endpoint and returns the reply.
type Completer interface {
	Chat(ctx context.Context, ep llm.Endpoint, messages []llm.Message) (string, error)
}

// EndpointSource resolves the endpoint to use at call time.
type EndpointSource func() (llm.Endpoint, error)

// Service chat service
type Service struct {
	store         store.Store
	completer     Completer
	endpoint      EndpointSource
	systemPrompt  string
	contextHeader string
	errorPrefix   string
}

// Option configures a Service
type Option func(*Service)

// WithSystemPrompt sets the system message sent before the session history.
func WithSystemPrompt(p string) Option {
	return func(s *Service) { s.systemPrompt = p }
}

// WithContextHeader sets the header placed before summarized transcripts.
func WithContextHeader(h string) Option {
	return func(s *Service) {
		if h != "" {
			s.contextHeader = h
		}
	}
}

// WithErrorPrefix sets the prefix of failure messages recorded in a session.
func WithErrorPrefix(p string) Option {
	return func(s *Service) {
		if p != "" {
			s.errorPrefix = p
		}
	}
}

// NewService creates a chat service
func NewService(st store.Store, c Completer, endpoint EndpointSource, opts ...Option) *Service {
	s := &Service{
		store:         st,
		completer:     c,
		endpoint:      endpoint,
		contextHeader: llm.DefaultContextHeader,
		errorPrefix:   "Error",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartSession creates an empty session.
func (s *Service) StartSession(ctx context.Context, title string, related *int64) (*store.ChatSession, error) {
	return s.store.CreateChatSession(ctx, title, related)
}

// IsFailure reports whether m is an assistant message recorded for a failed
// request.
func (s *Service) IsFailure(m *store.ChatMessage) bool {
	return m != nil && m.Role == store.ChatRoleAssistant && strings.HasPrefix(m.Content, s.errorPrefix+": ")
}

// Sessions lists sessions, most recently updated first.
func (s *Service) Sessions(ctx context.Context) ([]*store.ChatSession, error) {
	return s.store.ListChatSessions(ctx)
}

// History returns a session's messages in order.
func (s *Service) History(ctx context.Context, sessionID int64) ([]*store.ChatMessage, error) {
	if _, err := s.store.GetChatSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.GetChatMessages(ctx, sessionID)
}

// Clear drops every session.
func (s *Service) Clear(ctx context.Context) error {
	return s.store.ClearChatData(ctx)
}

// Send appends content as a user message, asks the endpoint with the whole
// session history and appends the reply. When the call fails an assistant
// message carrying the error is appended and returned together with the
// error.
func (s *Service) Send(ctx context.Context, sessionID int64, content string) (*store.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.Wrap(store.ErrInvalidRecord, "empty message")
	}
	if err := s.store.AppendChatMessage(ctx, sessionID, &store.ChatMessage{Role: store.ChatRoleUser, Content: content}); err != nil {
		return nil, err
	}
	history, err := s.store.GetChatMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.complete(ctx, sessionID, history)
}

// SummaryRequest asks for a summary of the given conversations.
type SummaryRequest struct {
	ConversationIDs []int64 `json:"conversationIds"`
	Prompt          string  `json:"prompt"`
	// SessionID continues an existing session; 0 starts a new one.
	SessionID int64 `json:"sessionId,omitempty"`
}

// SummaryResult is the session holding a summary and its reply.
type SummaryResult struct {
	Session *store.ChatSession `json:"session"`
	Reply   *store.ChatMessage `json:"reply"`
}

// Summarize renders the selected conversations under prompt, records the
// rendered request as a user message and the endpoint's answer as the reply.
// Follow-up Sends in the same session carry the transcripts as history.
func (s *Service) Summarize(ctx context.Context, req SummaryRequest) (*SummaryResult, error) {
	if len(req.ConversationIDs) == 0 {
		return nil, ErrNothingSelected
	}
	transcripts, err := LoadTranscripts(ctx, s.store, req.ConversationIDs)
	if err != nil {
		return nil, err
	}

	var session *store.ChatSession
	if req.SessionID != 0 {
		session, err = s.store.GetChatSession(ctx, req.SessionID)
	} else {
		session, err = s.store.CreateChatSession(ctx, summaryTitle(transcripts), relatedID(req.ConversationIDs))
	}
	if err != nil {
		return nil, err
	}

	full := llm.BuildSummaryPrompt(req.Prompt, s.contextHeader, transcripts)
	if err := s.store.AppendChatMessage(ctx, session.ID, &store.ChatMessage{Role: store.ChatRoleUser, Content: full}); err != nil {
		return nil, err
	}
	history, err := s.store.GetChatMessages(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	log.Info().Int64("session", session.ID).Int("conversations", len(transcripts)).Msg("summarizing conversations")
	reply, err := s.complete(ctx, session.ID, history)
	if reply == nil {
		return nil, err
	}
	if updated, gerr := s.store.GetChatSession(ctx, session.ID); gerr == nil {
		session = updated
	}
	return &SummaryResult{Session: session, Reply: reply}, err
}

func (s *Service) complete(ctx context.Context, sessionID int64, history []*store.ChatMessage) (*store.ChatMessage, error) {
	reply := &store.ChatMessage{Role: store.ChatRoleAssistant}

	text, callErr := s.call(ctx, history)
	if callErr != nil {
		log.Warn().Err(callErr).Int64("session", sessionID).Msg("chat completion failed")
		reply.Content = fmt.Sprintf("%s: %s", s.errorPrefix, callErr.Error())
	} else {
		reply.Content = text
	}

	if err := s.store.AppendChatMessage(ctx, sessionID, reply); err != nil {
		if callErr != nil {
			return nil, callErr
		}
		return nil, err
	}
	return reply, callErr
}

func (s *Service) call(ctx context.Context, history []*store.ChatMessage) (string, error) {
	ep, err := s.endpoint()
	if err != nil {
		return "", err
	}
	messages := make([]llm.Message, 0, len(history)+1)
	if s.systemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: s.systemPrompt})
	}
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == store.ChatRoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: m.Content})
	}
	return s.completer.Chat(ctx, ep, messages)
}

// LoadTranscripts loads the conversations with ids and their messages in
// chronological order.
func LoadTranscripts(ctx context.Context, st store.Store, ids []int64) ([]llm.Transcript, error) {
	out := make([]llm.Transcript, 0, len(ids))
	for _, id := range ids {
		c, err := st.GetConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		msgs, err := st.GetMessagesForConversation(ctx, id)
		if err != nil {
			return nil, err
		}
		store.SortByCreatedAt(msgs)
		out = append(out, llm.Transcript{Conversation: c, Messages: msgs})
	}
	return out, nil
}

func summaryTitle(transcripts []llm.Transcript) string {
	if len(transcripts) == 1 {
		return "Summary: " + transcripts[0].Conversation.Title
	}
	return fmt.Sprintf("Summary of %d conversations", len(transcripts))
}

func relatedID(ids []int64) *int64 {
	if len(ids) != 1 {
		return nil
	}
	id := ids[0]
	return &id
}
