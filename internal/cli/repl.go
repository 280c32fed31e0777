package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/pkg/errors"

	"github.com/hession/convscope/internal/chat"
)

// REPLConfig configures the interactive chat
type REPLConfig struct {
	// SessionID resumes a session; 0 starts a new one.
	SessionID     int64
	HistoryFile   string
	DefaultPrompt string
	Stdout        io.Writer
}

// REPL is an interactive chat bound to one session at a time
type REPL struct {
	svc           *chat.Service
	out           io.Writer
	sessionID     int64
	historyFile   string
	defaultPrompt string
}

// NewREPL creates a REPL over svc
func NewREPL(svc *chat.Service, cfg REPLConfig) *REPL {
	out := cfg.Stdout
	if out == nil {
		out = os.Stdout
	}
	return &REPL{
		svc:           svc,
		out:           out,
		sessionID:     cfg.SessionID,
		historyFile:   cfg.HistoryFile,
		defaultPrompt: cfg.DefaultPrompt,
	}
}

// SessionID returns the current session
func (r *REPL) SessionID() int64 {
	return r.sessionID
}

// HistoryFilePath returns the readline history file inside dir, creating dir.
func HistoryFilePath(dir string) string {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return ""
	}
	return filepath.Join(dir, "history")
}

// Run starts the chat loop and returns on /exit, EOF or a signal.
func (r *REPL) Run(ctx context.Context) error {
	if r.sessionID == 0 {
		sess, err := r.svc.StartSession(ctx, "", nil)
		if err != nil {
			return err
		}
		r.sessionID = sess.ID
	} else if err := r.showHistory(ctx); err != nil {
		return err
	}
	r.printWelcome()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            userStyle.Render("You: "),
		HistoryFile:       r.historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		AutoComplete:      newCompleter(),
		HistorySearchFold: true,
		Stdout:            r.out,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create readline")
	}
	defer rl.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
			rl.Close()
		case <-ctx.Done():
		}
	}()

	var multiLine strings.Builder
	inMultiLine := false

	for {
		if inMultiLine {
			rl.SetPrompt(Muted("...  "))
		} else {
			rl.SetPrompt(userStyle.Render("You: "))
		}

		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				if inMultiLine {
					multiLine.Reset()
					inMultiLine = false
					continue
				}
				fmt.Fprintln(r.out, Warning("Press Ctrl+D or type /exit to quit"))
				continue
			}
			if err == io.EOF || ctx.Err() != nil {
				fmt.Fprintln(r.out, Title("Goodbye! 👋"))
				return nil
			}
			return errors.Wrap(err, "failed to read input")
		}

		if inMultiLine {
			if line != "" {
				multiLine.WriteString(line)
				multiLine.WriteString("\n")
				continue
			}
			inMultiLine = false
			input := strings.TrimSpace(multiLine.String())
			multiLine.Reset()
			if input != "" {
				r.send(ctx, input)
			}
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if strings.HasSuffix(input, "\\") {
			inMultiLine = true
			multiLine.WriteString(strings.TrimSuffix(input, "\\"))
			multiLine.WriteString("\n")
			fmt.Fprintln(r.out, Muted("(Multi-line mode: press Enter twice to submit, Ctrl+C to cancel)"))
			continue
		}
		if strings.HasPrefix(input, "/") {
			if r.HandleCommand(ctx, input) {
				continue
			}
			return nil
		}
		r.send(ctx, input)
	}
}

// send posts input to the current session and prints the reply. Failures
// are already part of the reply.
func (r *REPL) send(ctx context.Context, input string) {
	fmt.Fprintln(r.out, Muted("thinking..."))
	reply, err := r.svc.Send(ctx, r.sessionID, input)
	if reply != nil {
		RenderChatMessage(r.out, reply, r.svc.IsFailure(reply))
		return
	}
	if err != nil {
		fmt.Fprintln(r.out, Failure(err.Error()))
	}
}

func (r *REPL) printWelcome() {
	fmt.Fprintf(r.out, "\n%s\n", Title(fmt.Sprintf("💬 convscope v%s chat · session #%d", Version, r.sessionID)))
	fmt.Fprintln(r.out, Muted("Type /help for help, /exit to quit"))
	fmt.Fprintln(r.out, Muted("For multi-line input: end a line with \\, then press Enter twice to submit"))
	fmt.Fprintln(r.out)
}

func (r *REPL) showHistory(ctx context.Context) error {
	msgs, err := r.svc.History(ctx, r.sessionID)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		RenderChatMessage(r.out, m, r.svc.IsFailure(m))
	}
	return nil
}

func newCompleter() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(CommandSuggestions()))
	for _, s := range CommandSuggestions() {
		items = append(items, readline.PcItem(s.Text))
	}
	return readline.NewPrefixCompleter(items...)
}
