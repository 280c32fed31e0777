package llm

import (
	"strings"

	"github.com/hession/convscope/internal/store"
)

// DefaultContextHeader separates the instruction prompt from the transcripts.
const DefaultContextHeader = "Here are the conversations to summarize:"

// TranscriptDelimiter closes every rendered conversation.
const TranscriptDelimiter = "-------------------"

// Transcript is a conversation with the messages to render for it
type Transcript struct {
	Conversation *store.Conversation
	Messages     []*store.Message
}

// BuildSummaryPrompt renders the summarization request text:
//
//	<prompt>
//
//	<header>
//
//	### Conversation: <title>
//	Date: <formatted date>
//
//	User: ...
//
//	Assistant: ...
//
//	-------------------
func BuildSummaryPrompt(prompt, header string, transcripts []Transcript) string {
	blocks := make([]string, 0, len(transcripts))
	for _, t := range transcripts {
		blocks = append(blocks, renderTranscript(t))
	}

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\n")
	b.WriteString(header)
	b.WriteString("\n\n")
	b.WriteString(strings.Join(blocks, "\n\n"))
	return b.String()
}

func renderTranscript(t Transcript) string {
	var b strings.Builder
	b.WriteString("### Conversation: ")
	if t.Conversation != nil {
		b.WriteString(t.Conversation.Title)
	}
	b.WriteString("\nDate: ")
	b.WriteString(t.Conversation.FormattedDate())
	b.WriteString("\n\n")

	lines := make([]string, 0, len(t.Messages))
	for _, m := range t.Messages {
		lines = append(lines, speaker(m.Role)+": "+m.Text)
	}
	b.WriteString(strings.Join(lines, "\n\n"))
	b.WriteString("\n\n")
	b.WriteString(TranscriptDelimiter)
	return b.String()
}

func speaker(r store.Role) string {
	if r == store.RoleHuman {
		return "User"
	}
	return "Assistant"
}
