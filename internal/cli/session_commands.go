package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hession/convscope/internal/chat"
)

// CommandSuggestion is a slash command with its help text
type CommandSuggestion struct {
	Text        string
	Description string
}

// CommandSuggestions lists the REPL commands (also used for completion).
func CommandSuggestions() []CommandSuggestion {
	return []CommandSuggestion{
		{Text: "/help", Description: "Show this help message"},
		{Text: "/new", Description: "Start a new session, optionally titled"},
		{Text: "/sessions", Description: "List recent sessions"},
		{Text: "/switch", Description: "Switch to session <id>"},
		{Text: "/show", Description: "Print the current session"},
		{Text: "/summarize", Description: "Summarize conversations <id>[,<id>...] [prompt]"},
		{Text: "/clear", Description: "Delete every chat session"},
		{Text: "/history", Description: "Input history tips; /history clear empties it"},
		{Text: "/exit", Description: "Exit"},
	}
}

// HandleCommand runs a slash command. It returns false when the REPL should
// exit.
func (r *REPL) HandleCommand(ctx context.Context, input string) bool {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return true
	}

	switch strings.ToLower(parts[0]) {
	case "/help":
		r.printHelp()
	case "/exit", "/quit", "/q":
		fmt.Fprintln(r.out, Title("Goodbye! 👋"))
		return false
	case "/new":
		r.newSession(ctx, strings.Join(parts[1:], " "))
	case "/sessions":
		r.listSessions(ctx)
	case "/switch":
		r.switchSession(ctx, parts[1:])
	case "/show":
		if err := r.showHistory(ctx); err != nil {
			fmt.Fprintln(r.out, Failure(err.Error()))
		}
	case "/summarize":
		r.summarize(ctx, parts[1:])
	case "/clear":
		r.clear(ctx)
	case "/history":
		r.history(parts[1:])
	default:
		fmt.Fprintln(r.out, Warning("Unknown command: "+input))
		fmt.Fprintln(r.out, "Type /help for available commands")
	}
	return true
}

func (r *REPL) newSession(ctx context.Context, title string) {
	sess, err := r.svc.StartSession(ctx, title, nil)
	if err != nil {
		fmt.Fprintln(r.out, Failure("Failed to create session: "+err.Error()))
		return
	}
	r.sessionID = sess.ID
	fmt.Fprintln(r.out, Success(fmt.Sprintf("New session #%d: %s", sess.ID, sess.Title)))
}

func (r *REPL) listSessions(ctx context.Context) {
	sessions, err := r.svc.Sessions(ctx)
	if err != nil {
		fmt.Fprintln(r.out, Failure("Failed to list sessions: "+err.Error()))
		return
	}
	if len(sessions) == 0 {
		fmt.Fprintln(r.out, Muted("No sessions yet"))
		return
	}
	fmt.Fprintln(r.out, headingStyle.Render("Recent sessions"))
	for _, s := range sessions {
		marker := "  "
		if s.ID == r.sessionID {
			marker = successStyle.Render("* ")
		}
		fmt.Fprintf(r.out, "%s#%-4d %s %s\n", marker, s.ID,
			truncateForDisplay(s.Title, 60),
			Muted("updated "+FormatDuration(time.Since(s.UpdatedAt))+" ago"))
	}
	fmt.Fprintln(r.out, Muted("Use /switch <id> to resume a session"))
}

func (r *REPL) switchSession(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(r.out, Failure("Please give a session id: /switch <id>"))
		return
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Fprintln(r.out, Failure("Invalid session id: "+args[0]))
		return
	}
	prev := r.sessionID
	r.sessionID = id
	if err := r.showHistory(ctx); err != nil {
		r.sessionID = prev
		fmt.Fprintln(r.out, Failure(err.Error()))
		return
	}
	fmt.Fprintln(r.out, Success(fmt.Sprintf("Switched to session #%d", id)))
}

func (r *REPL) summarize(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(r.out, Failure("Please give conversation ids: /summarize 1,2,3 [prompt]"))
		return
	}
	ids, err := ParseIDList(args[0])
	if err != nil {
		fmt.Fprintln(r.out, Failure(err.Error()))
		return
	}
	prompt := strings.Join(args[1:], " ")
	if prompt == "" {
		prompt = r.defaultPrompt
	}

	fmt.Fprintln(r.out, Muted(fmt.Sprintf("summarizing %d conversation(s)...", len(ids))))
	res, err := r.svc.Summarize(ctx, chat.SummaryRequest{ConversationIDs: ids, Prompt: prompt})
	if res != nil {
		r.sessionID = res.Session.ID
		fmt.Fprintln(r.out, Muted(fmt.Sprintf("session #%d: %s", res.Session.ID, res.Session.Title)))
		RenderChatMessage(r.out, res.Reply, r.svc.IsFailure(res.Reply))
		return
	}
	fmt.Fprintln(r.out, Failure(err.Error()))
}

func (r *REPL) clear(ctx context.Context) {
	if err := r.svc.Clear(ctx); err != nil {
		fmt.Fprintln(r.out, Failure("Failed to clear sessions: "+err.Error()))
		return
	}
	fmt.Fprintln(r.out, Success("All chat sessions deleted"))
	r.newSession(ctx, "")
}

func (r *REPL) history(args []string) {
	if len(args) > 0 && args[0] == "clear" {
		if r.historyFile == "" {
			return
		}
		if err := os.WriteFile(r.historyFile, []byte{}, 0644); err != nil {
			fmt.Fprintln(r.out, Failure("Failed to clear history: "+err.Error()))
			return
		}
		fmt.Fprintln(r.out, Success("Input history cleared"))
		return
	}
	fmt.Fprintln(r.out, Muted("Use Up/Down arrow keys to browse input history"))
	fmt.Fprintln(r.out, Muted("Use /history clear to clear it"))
}

func (r *REPL) printHelp() {
	fmt.Fprintf(r.out, "\n%s\n\n", Title("📚 convscope chat help"))
	fmt.Fprintln(r.out, headingStyle.Render("Commands:"))
	for _, s := range CommandSuggestions() {
		fmt.Fprintf(r.out, "  %-12s - %s\n", s.Text, s.Description)
	}
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, headingStyle.Render("Input tips:"))
	fmt.Fprintln(r.out, "  • End a line with \\ for multi-line input, press Enter twice to submit")
	fmt.Fprintln(r.out, "  • Use Up/Down arrow keys to browse input history, Tab to complete commands")
	fmt.Fprintln(r.out, "  • Press Ctrl+C to cancel the current input, Ctrl+D to quit")
	fmt.Fprintln(r.out)
}

// ParseIDList parses "1,2, 3" into ids.
func ParseIDList(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, errors.Errorf("invalid conversation id %q", part)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.New("no conversation ids given")
	}
	return ids, nil
}

// FormatDuration renders d in its largest whole unit, e.g. "5m" or "3d".
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}
