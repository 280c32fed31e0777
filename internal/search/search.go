// Package search implements case-insensitive substring search over the
// record store with an optional calendar-day date range.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hession/convscope/internal/store"
)

// MaxExcerpts is the number of matching messages carried per result.
const MaxExcerpts = 3

// DateLayout is the layout accepted by ParseDate.
const DateLayout = "2006-01-02"

// MatchType tells where a conversation matched.
type MatchType string

const (
	MatchTitle   MatchType = "title"
	MatchContent MatchType = "content"
	MatchBoth    MatchType = "both"
)

// Result search result
type Result struct {
	Conversation   *store.Conversation `json:"conversation"`
	MatchType      MatchType           `json:"matchType"`
	MessageMatches []*store.Message    `json:"messageMatches"`
}

// SearchError wraps any failure during a scan. No partial results accompany it.
type SearchError struct {
	Err error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search failed: %v", e.Err)
}

func (e *SearchError) Unwrap() error {
	return e.Err
}

// DateFilter bounds results by conversation creation day. Start counts from
// 00:00 of its day and End through 23:59:59.999 of its day, both in the
// location carried by the value. Nil bounds are open.
type DateFilter struct {
	Start *time.Time
	End   *time.Time
}

// IsZero reports whether neither bound is set.
func (f DateFilter) IsZero() bool {
	return f.Start == nil && f.End == nil
}

// Contains reports whether t lies within the filter. Undated conversations
// are never excluded.
func (f DateFilter) Contains(t *time.Time) bool {
	if t == nil {
		return true
	}
	if f.Start != nil {
		y, m, d := f.Start.Date()
		if t.Before(time.Date(y, m, d, 0, 0, 0, 0, f.Start.Location())) {
			return false
		}
	}
	if f.End != nil {
		y, m, d := f.End.Date()
		if t.After(time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), f.End.Location())) {
			return false
		}
	}
	return true
}

// ParseDate parses a YYYY-MM-DD bound in local time. An empty string is an
// open bound.
func ParseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(DateLayout, s, time.Local)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid date %q, want %s", s, DateLayout)
	}
	return &t, nil
}

// Engine runs searches against a record store. It holds no state of its own.
type Engine struct {
	store store.Store
}

// NewEngine creates a search engine over s
func NewEngine(s store.Store) *Engine {
	return &Engine{store: s}
}

// ListAll returns every conversation, most recent first, as title matches.
func (e *Engine) ListAll(ctx context.Context) ([]Result, error) {
	convs, err := e.store.ListConversations(ctx)
	if err != nil {
		return nil, &SearchError{Err: err}
	}
	results := make([]Result, 0, len(convs))
	for _, c := range convs {
		results = append(results, Result{Conversation: c, MatchType: MatchTitle, MessageMatches: []*store.Message{}})
	}
	sortResults(results)
	return results, nil
}

// Search finds conversations whose title or message text contains term,
// restricted to filter. With an empty term and no bounds it is ListAll. An
// empty term with a bound matches every title and every message, so in-range
// conversations with messages come back as MatchBoth.
func (e *Engine) Search(ctx context.Context, term string, filter DateFilter) ([]Result, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" && filter.IsZero() {
		return e.ListAll(ctx)
	}

	var (
		convs   []*store.Conversation
		order   []int64
		matches = map[int64][]*store.Message{}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		convs, err = e.store.ListConversations(gctx)
		return err
	})
	g.Go(func() error {
		return e.store.EachMessage(gctx, func(m *store.Message) error {
			if !strings.Contains(strings.ToLower(m.Text), term) {
				return nil
			}
			hits, seen := matches[m.ConversationID]
			if !seen {
				order = append(order, m.ConversationID)
			}
			if len(hits) < MaxExcerpts {
				matches[m.ConversationID] = append(hits, m)
			}
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		return nil, &SearchError{Err: err}
	}

	results := make([]Result, 0)
	inRange := make(map[int64]bool, len(convs))
	for _, c := range convs {
		if !filter.Contains(c.CreatedAt) {
			continue
		}
		inRange[c.ID] = true

		titleHit := strings.Contains(strings.ToLower(c.Title), term)
		hits, contentHit := matches[c.ID]
		switch {
		case titleHit && contentHit:
			results = append(results, Result{Conversation: c, MatchType: MatchBoth, MessageMatches: hits})
		case titleHit:
			results = append(results, Result{Conversation: c, MatchType: MatchTitle, MessageMatches: []*store.Message{}})
		case contentHit:
			results = append(results, Result{Conversation: c, MatchType: MatchContent, MessageMatches: hits})
		}
	}

	dropped := 0
	for _, id := range order {
		if !inRange[id] {
			dropped++
		}
	}
	sortResults(results)

	log.Debug().
		Str("term", term).
		Int("results", len(results)).
		Int("content_dropped", dropped).
		Msg("search completed")
	return results, nil
}

// sortResults orders by CreatedAt descending with undated conversations last.
// Ties keep their incoming (conversation id) order.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Conversation.CreatedMillis() > results[j].Conversation.CreatedMillis()
	})
}
