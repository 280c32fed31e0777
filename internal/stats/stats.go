// Package stats derives corpus-wide and per-conversation counts from the
// record store.
package stats

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hession/convscope/internal/store"
)

// MonthLayout formats histogram keys, e.g. "Jan 2024".
const MonthLayout = "Jan 2006"

// DefaultMostActiveLimit applies when MostActive is called with limit <= 0.
const DefaultMostActiveLimit = 10

// UnknownTitle labels conversations whose title could not be resolved.
const UnknownTitle = "Unknown"

// Corpus holds the four corpus-wide counts
type Corpus struct {
	TotalConversations    int `json:"totalConversations"`
	TotalMessages         int `json:"totalMessages"`
	HumanMessageCount     int `json:"humanMessageCount"`
	AssistantMessageCount int `json:"assistantMessageCount"`
}

// Conversation holds the counts for a single conversation
type Conversation struct {
	MessageCount int `json:"messageCount"`
	WordCount    int `json:"wordCount"`
}

// Selection summarises a set of conversations picked for summarization.
type Selection struct {
	Conversations int `json:"conversations"`
	Messages      int `json:"messages"`
	Words         int `json:"words"`
}

// ActiveConversation is one entry of the most-active ranking
type ActiveConversation struct {
	ConversationID int64  `json:"conversationId"`
	Title          string `json:"title"`
	MessageCount   int    `json:"messageCount"`
}

// Histogram maps a MonthLayout key to the number of conversations created
// in that month.
type Histogram map[string]int

// Keys returns the histogram keys in chronological order.
func (h Histogram) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	SortMonthKeys(keys)
	return keys
}

// SortMonthKeys sorts MonthLayout keys by the month they name. Keys that do
// not parse sort after every valid key, lexically among themselves.
func SortMonthKeys(keys []string) {
	sort.SliceStable(keys, func(i, j int) bool {
		ti, erri := time.Parse(MonthLayout, keys[i])
		tj, errj := time.Parse(MonthLayout, keys[j])
		switch {
		case erri != nil && errj != nil:
			return keys[i] < keys[j]
		case erri != nil:
			return false
		case errj != nil:
			return true
		}
		return ti.Before(tj)
	})
}

// WordCount counts whitespace-separated tokens. Blank text counts 0.
func WordCount(text string) int {
	return len(strings.Fields(strings.TrimSpace(text)))
}

// Aggregator computes statistics over a record store
type Aggregator struct {
	store store.Store
}

// NewAggregator creates an aggregator over s
func NewAggregator(s store.Store) *Aggregator {
	return &Aggregator{store: s}
}

// CorpusStats returns the corpus-wide counts. The four counts are read
// concurrently.
func (a *Aggregator) CorpusStats(ctx context.Context) (*Corpus, error) {
	var c Corpus
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		c.TotalConversations, err = a.store.CountConversations(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		c.TotalMessages, err = a.store.CountMessages(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		c.HumanMessageCount, err = a.store.CountMessagesByRole(gctx, store.RoleHuman)
		return err
	})
	g.Go(func() error {
		var err error
		c.AssistantMessageCount, err = a.store.CountMessagesByRole(gctx, store.RoleAssistant)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "corpus stats")
	}
	return &c, nil
}

// ConversationStats returns message and word counts for one conversation.
func (a *Aggregator) ConversationStats(ctx context.Context, conversationID int64) (*Conversation, error) {
	msgs, err := a.store.GetMessagesForConversation(ctx, conversationID)
	if err != nil {
		return nil, errors.Wrapf(err, "conversation %d stats", conversationID)
	}
	return countMessages(msgs), nil
}

func countMessages(msgs []*store.Message) *Conversation {
	c := &Conversation{MessageCount: len(msgs)}
	for _, m := range msgs {
		c.WordCount += WordCount(m.Text)
	}
	return c
}

// SelectionStats totals conversations, messages and words over ids.
// Unknown ids count as empty conversations.
func (a *Aggregator) SelectionStats(ctx context.Context, ids []int64) (*Selection, error) {
	sel := &Selection{Conversations: len(ids)}
	for _, id := range ids {
		c, err := a.ConversationStats(ctx, id)
		if err != nil {
			return nil, err
		}
		sel.Messages += c.MessageCount
		sel.Words += c.WordCount
	}
	return sel, nil
}

// MonthlyHistogram buckets conversations by the local calendar month of
// their creation date. Undated conversations are skipped.
func (a *Aggregator) MonthlyHistogram(ctx context.Context) (Histogram, error) {
	convs, err := a.store.ListConversations(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "monthly histogram")
	}
	h := Histogram{}
	for _, c := range convs {
		if c.CreatedAt == nil {
			continue
		}
		h[c.CreatedAt.Local().Format(MonthLayout)]++
	}
	return h, nil
}

// MostActive ranks conversations by message count, highest first. Ties keep
// conversation id order. limit <= 0 means DefaultMostActiveLimit.
func (a *Aggregator) MostActive(ctx context.Context, limit int) ([]ActiveConversation, error) {
	if limit <= 0 {
		limit = DefaultMostActiveLimit
	}

	counts, err := a.store.MessageCountsByConversation(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "most active")
	}
	convs, err := a.store.ListConversations(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "most active")
	}
	titles := make(map[int64]string, len(convs))
	for _, c := range convs {
		titles[c.ID] = c.Title
	}

	ranked := make([]ActiveConversation, 0, len(counts))
	for _, cc := range counts {
		title, ok := titles[cc.ConversationID]
		if !ok {
			title = UnknownTitle
		}
		ranked = append(ranked, ActiveConversation{
			ConversationID: cc.ConversationID,
			Title:          title,
			MessageCount:   cc.Count,
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].MessageCount > ranked[j].MessageCount
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}
