package cli

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/hession/convscope/internal/llm"
	"github.com/hession/convscope/internal/search"
	"github.com/hession/convscope/internal/stats"
	"github.com/hession/convscope/internal/store"
)

// excerptWidth bounds excerpts in result listings.
const excerptWidth = 100

// RenderResults writes one block per search result with its excerpts.
// Occurrences of term are highlighted.
func RenderResults(w io.Writer, results []search.Result, term string) {
	if len(results) == 0 {
		fmt.Fprintln(w, Muted("No conversations found."))
		return
	}
	for _, r := range results {
		c := r.Conversation
		fmt.Fprintf(w, "%s %s %s\n",
			keyStyle.Render(fmt.Sprintf("#%-5d", c.ID)),
			highlight(c.Title, term),
			Muted(fmt.Sprintf("(%s, %s)", c.FormattedDate(), r.MatchType)))
		for _, m := range r.MessageMatches {
			fmt.Fprintf(w, "       %s %s\n",
				Muted(speaker(m.Role)+":"),
				highlight(truncateForDisplay(m.Text, excerptWidth), term))
		}
	}
	fmt.Fprintln(w, Muted(fmt.Sprintf("\n%d conversation(s)", len(results))))
}

// RenderConversation writes a conversation header and its messages.
func RenderConversation(w io.Writer, c *store.Conversation, msgs []*store.Message, term string) {
	fmt.Fprintln(w, Title(c.Title))
	fmt.Fprintln(w, Muted(fmt.Sprintf("#%d · %s · %d messages", c.ID, c.FormattedDate(), len(msgs))))
	fmt.Fprintln(w)
	for _, m := range msgs {
		label := assistantStyle.Render("Assistant")
		if m.Role == store.RoleHuman {
			label = userStyle.Render("User")
		}
		fmt.Fprintf(w, "%s\n%s\n\n", label, highlight(m.Text, term))
	}
}

// RenderCorpusStats writes the four corpus counts.
func RenderCorpusStats(w io.Writer, c *stats.Corpus) {
	fmt.Fprintln(w, headingStyle.Render("Overview"))
	rows := [][2]string{
		{"Conversations", fmt.Sprint(c.TotalConversations)},
		{"Messages", fmt.Sprint(c.TotalMessages)},
		{"Human messages", fmt.Sprint(c.HumanMessageCount)},
		{"Assistant messages", fmt.Sprint(c.AssistantMessageCount)},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "  %s %s\n", keyStyle.Render(fmt.Sprintf("%-20s", r[0])), r[1])
	}
}

// RenderHistogram writes one line per month in chronological order.
func RenderHistogram(w io.Writer, h stats.Histogram) {
	fmt.Fprintln(w, headingStyle.Render("Conversations per month"))
	if len(h) == 0 {
		fmt.Fprintln(w, Muted("  (no dated conversations)"))
		return
	}
	for _, k := range h.Keys() {
		fmt.Fprintf(w, "  %s %d\n", keyStyle.Render(fmt.Sprintf("%-10s", k)), h[k])
	}
}

// RenderMostActive writes the most-active ranking.
func RenderMostActive(w io.Writer, ranked []stats.ActiveConversation) {
	fmt.Fprintln(w, headingStyle.Render("Most active conversations"))
	for i, r := range ranked {
		fmt.Fprintf(w, "  %2d. %s %s\n", i+1,
			truncateForDisplay(r.Title, 60),
			Muted(fmt.Sprintf("(#%d, %d messages)", r.ConversationID, r.MessageCount)))
	}
}

// RenderEndpoints lists endpoints with keys redacted.
func RenderEndpoints(w io.Writer, endpoints []llm.Endpoint) {
	for _, ep := range endpoints {
		ep = ep.Redacted()
		marker := "  "
		if ep.IsActive {
			marker = successStyle.Render("* ")
		}
		key := ep.APIKey
		if key == "" {
			key = Muted("(no key)")
		}
		fmt.Fprintf(w, "%s%s %s\n", marker, titleStyle.Render(fmt.Sprintf("%-10s", ep.ID)), ep.Name)
		fmt.Fprintf(w, "    %s %s\n", keyStyle.Render("provider"), ep.Provider)
		fmt.Fprintf(w, "    %s %s\n", keyStyle.Render("url     "), ep.URL)
		fmt.Fprintf(w, "    %s %s\n", keyStyle.Render("model   "), ep.Model)
		fmt.Fprintf(w, "    %s %s\n", keyStyle.Render("api key "), key)
	}
}

// RenderChatMessage writes one chat turn. Failed turns are drawn in the
// error style.
func RenderChatMessage(w io.Writer, m *store.ChatMessage, failed bool) {
	label := assistantStyle.Render("Assistant:")
	if m.Role == store.ChatRoleUser {
		label = userStyle.Render("You:")
	}
	content := m.Content
	if failed {
		content = errorStyle.Render(content)
	}
	fmt.Fprintf(w, "%s %s\n\n", label, content)
}

func speaker(r store.Role) string {
	if r == store.RoleHuman {
		return "User"
	}
	return "Assistant"
}

// highlight marks case-insensitive occurrences of term in text.
func highlight(text, term string) string {
	term = strings.TrimSpace(term)
	if term == "" {
		return text
	}
	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(term))
	if err != nil {
		return text
	}
	return re.ReplaceAllStringFunc(text, func(s string) string { return matchStyle.Render(s) })
}

// truncateForDisplay flattens text to one line and cuts it to maxLen runes.
func truncateForDisplay(text string, maxLen int) string {
	text = strings.ReplaceAll(text, "\r", "")
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.TrimSpace(text)

	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "..."
}
