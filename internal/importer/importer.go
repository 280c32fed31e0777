// Package importer loads conversation exports into the record store and
// writes selected conversations back out in the same format.
package importer

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/hession/convscope/internal/store"
)

const (
	// TitleMaxRunes bounds a title derived from the first message.
	TitleMaxRunes = 50
	// UntitledConversation is used when no title can be derived.
	UntitledConversation = "Untitled Conversation"
)

// ProgressFunc reports that done of total conversations have been written.
type ProgressFunc func(done, total int)

// Options controls an import run
type Options struct {
	// Replace clears the store before importing.
	Replace  bool
	Progress ProgressFunc
}

// Summary describes a finished import
type Summary struct {
	Conversations int `json:"conversations"`
	Messages      int `json:"messages"`
	Skipped       int `json:"skipped"`
}

// Importer moves conversations between export files and the record store
type Importer struct {
	store store.Store
}

// New creates an importer over s
func New(s store.Store) *Importer {
	return &Importer{store: s}
}

// Import parses r and persists every conversation that has at least one
// non-blank message. Each conversation's messages are written in one batch;
// conversations already written stay written if a later one fails.
func (im *Importer) Import(ctx context.Context, r io.Reader, opts Options) (*Summary, error) {
	raw, err := Parse(r)
	if err != nil {
		return nil, err
	}

	valid := make([]RawConversation, 0, len(raw))
	for _, c := range raw {
		if len(c.ValidMessages()) > 0 {
			valid = append(valid, c)
		}
	}
	summary := &Summary{Skipped: len(raw) - len(valid)}

	if opts.Replace {
		if err := im.store.ResetAll(ctx); err != nil {
			return nil, err
		}
	}

	total := len(valid)
	log.Info().Int("total", total).Int("skipped", summary.Skipped).Bool("replace", opts.Replace).Msg("import started")

	for i := range valid {
		if opts.Progress != nil {
			opts.Progress(i, total)
		}
		n, err := im.importOne(ctx, &valid[i])
		if err != nil {
			return summary, errors.Wrapf(err, "conversation %d of %d", i+1, total)
		}
		summary.Conversations++
		summary.Messages += n
	}
	if opts.Progress != nil {
		opts.Progress(total, total)
	}

	log.Info().
		Int("conversations", summary.Conversations).
		Int("messages", summary.Messages).
		Msg("import complete")
	return summary, nil
}

func (im *Importer) importOne(ctx context.Context, rc *RawConversation) (int, error) {
	conv := &store.Conversation{
		SourceID:  rc.ExternalID(),
		Title:     rc.DisplayTitle(),
		CreatedAt: rc.CreatedTime(),
		UpdatedAt: rc.UpdatedTime(),
	}
	valid := rc.ValidMessages()
	msgs := make([]*store.Message, 0, len(valid))
	for i := range valid {
		m := &valid[i]
		msgs = append(msgs, &store.Message{
			Role:      store.NormalizeRole(m.Author()),
			Text:      strings.TrimSpace(m.Text),
			CreatedAt: m.CreatedTime(),
		})
	}
	if _, err := im.store.ImportConversation(ctx, conv, msgs); err != nil {
		return 0, err
	}
	return len(msgs), nil
}

// ExportedMessage is a message in an export file
type ExportedMessage struct {
	ID        int64      `json:"id"`
	Role      store.Role `json:"role"`
	Text      string     `json:"text"`
	CreatedAt *time.Time `json:"createdAt"`
}

// ExportedConversation is a conversation in an export file
type ExportedConversation struct {
	ID        int64             `json:"id"`
	SourceID  string            `json:"sourceId,omitempty"`
	Title     string            `json:"title"`
	CreatedAt *time.Time        `json:"createdAt"`
	UpdatedAt *time.Time        `json:"updatedAt"`
	Messages  []ExportedMessage `json:"messages"`
}

// Collect loads the conversations with the given ids, messages sorted by
// creation time. No ids means every conversation.
func (im *Importer) Collect(ctx context.Context, ids []int64) ([]ExportedConversation, error) {
	var convs []*store.Conversation
	if len(ids) == 0 {
		all, err := im.store.ListConversations(ctx)
		if err != nil {
			return nil, err
		}
		convs = all
	} else {
		for _, id := range ids {
			c, err := im.store.GetConversation(ctx, id)
			if err != nil {
				return nil, err
			}
			convs = append(convs, c)
		}
	}

	out := make([]ExportedConversation, 0, len(convs))
	for _, c := range convs {
		msgs, err := im.store.GetMessagesForConversation(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		store.SortByCreatedAt(msgs)

		ec := ExportedConversation{
			ID:        c.ID,
			SourceID:  c.SourceID,
			Title:     c.Title,
			CreatedAt: c.CreatedAt,
			UpdatedAt: c.UpdatedAt,
			Messages:  make([]ExportedMessage, 0, len(msgs)),
		}
		for _, m := range msgs {
			ec.Messages = append(ec.Messages, ExportedMessage{ID: m.ID, Role: m.Role, Text: m.Text, CreatedAt: m.CreatedAt})
		}
		out = append(out, ec)
	}
	return out, nil
}

// Export writes the selected conversations to w as indented JSON.
func (im *Importer) Export(ctx context.Context, ids []int64, w io.Writer) (int, error) {
	convs, err := im.Collect(ctx, ids)
	if err != nil {
		return 0, err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(convs); err != nil {
		return 0, errors.Wrap(err, "failed to encode export")
	}
	log.Info().Int("conversations", len(convs)).Msg("export complete")
	return len(convs), nil
}
