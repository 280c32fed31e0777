package importer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// FormatError means the input is not an array of conversations. It is
// returned before anything is written.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid export format: %s", e.Reason)
}

// RawMessage is one message as found in an export file. Both the plain
// format and the raw assistant export keys are accepted.
type RawMessage struct {
	ID        json.RawMessage `json:"id,omitempty"`
	UUID      string          `json:"uuid,omitempty"`
	Text      string          `json:"text"`
	Sender    string          `json:"sender,omitempty"`
	Role      string          `json:"role,omitempty"`
	CreatedAt json.RawMessage `json:"createdAt,omitempty"`
	Created   json.RawMessage `json:"created_at,omitempty"`
}

// RawConversation is one conversation as found in an export file.
type RawConversation struct {
	ID           json.RawMessage `json:"id,omitempty"`
	UUID         string          `json:"uuid,omitempty"`
	SourceID     string          `json:"sourceId,omitempty"`
	Name         string          `json:"name,omitempty"`
	Title        string          `json:"title,omitempty"`
	CreatedAt    json.RawMessage `json:"createdAt,omitempty"`
	Created      json.RawMessage `json:"created_at,omitempty"`
	UpdatedAt    json.RawMessage `json:"updatedAt,omitempty"`
	Updated      json.RawMessage `json:"updated_at,omitempty"`
	Messages     []RawMessage    `json:"messages,omitempty"`
	ChatMessages []RawMessage    `json:"chat_messages,omitempty"`
}

// Parse decodes an export. Anything other than a JSON array of objects is a
// *FormatError.
func Parse(r io.Reader) ([]RawConversation, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &FormatError{Reason: err.Error()}
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, &FormatError{Reason: "empty input"}
	}
	if !json.Valid(data) {
		return nil, &FormatError{Reason: "input is not valid JSON"}
	}
	if data[0] != '[' {
		return nil, &FormatError{Reason: "expected an array of conversations"}
	}

	var convs []RawConversation
	if err := json.Unmarshal(data, &convs); err != nil {
		return nil, &FormatError{Reason: err.Error()}
	}
	return convs, nil
}

// AllMessages returns the messages under whichever key the export used.
func (c *RawConversation) AllMessages() []RawMessage {
	if len(c.Messages) > 0 {
		return c.Messages
	}
	return c.ChatMessages
}

// ValidMessages returns the messages whose trimmed text is not empty.
func (c *RawConversation) ValidMessages() []RawMessage {
	var out []RawMessage
	for _, m := range c.AllMessages() {
		if strings.TrimSpace(m.Text) != "" {
			out = append(out, m)
		}
	}
	return out
}

// ExternalID is the identifier the source system gave the conversation.
func (c *RawConversation) ExternalID() string {
	switch {
	case c.SourceID != "":
		return c.SourceID
	case c.UUID != "":
		return c.UUID
	}
	return rawString(c.ID)
}

// DisplayTitle returns name or title, else the first valid message truncated
// to TitleMaxRunes, else UntitledConversation.
func (c *RawConversation) DisplayTitle() string {
	if name := strings.TrimSpace(c.Name); name != "" {
		return name
	}
	if title := strings.TrimSpace(c.Title); title != "" {
		return title
	}
	if valid := c.ValidMessages(); len(valid) > 0 {
		return truncate(strings.TrimSpace(valid[0].Text), TitleMaxRunes)
	}
	return UntitledConversation
}

// CreatedTime returns the parsed creation time or nil.
func (c *RawConversation) CreatedTime() *time.Time {
	return firstTime(c.CreatedAt, c.Created)
}

// UpdatedTime returns the parsed update time or nil.
func (c *RawConversation) UpdatedTime() *time.Time {
	return firstTime(c.UpdatedAt, c.Updated)
}

// Author returns sender, falling back to role.
func (m *RawMessage) Author() string {
	if m.Sender != "" {
		return m.Sender
	}
	return m.Role
}

// CreatedTime returns the parsed creation time or nil.
func (m *RawMessage) CreatedTime() *time.Time {
	return firstTime(m.CreatedAt, m.Created)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTime accepts an RFC 3339 style string or a number of epoch
// milliseconds. Unparseable values yield nil.
func parseTime(raw json.RawMessage) *time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		ms, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return nil
		}
		t := time.UnixMilli(ms)
		return &t
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func firstTime(candidates ...json.RawMessage) *time.Time {
	for _, raw := range candidates {
		if t := parseTime(raw); t != nil {
			return t
		}
	}
	return nil
}
