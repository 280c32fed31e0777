package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hession/convscope/internal/chat"
	"github.com/hession/convscope/internal/cli"
	"github.com/hession/convscope/internal/config"
	"github.com/hession/convscope/internal/importer"
	"github.com/hession/convscope/internal/llm"
	"github.com/hession/convscope/internal/search"
	"github.com/hession/convscope/internal/server"
	"github.com/hession/convscope/internal/settings"
	"github.com/hession/convscope/internal/stats"
)

// withApp opens the app for the duration of fn.
func withApp(fn func(ctx context.Context, a *app) error) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, a)
}

func parseIDs(args []string) ([]int64, error) {
	return cli.ParseIDList(strings.Join(args, ","))
}

func newImportCmd() *cobra.Command {
	var appendMode bool
	cmd := &cobra.Command{
		Use:   "import <file.json>",
		Short: "Import a conversation export, replacing the current data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return errors.Wrap(err, "failed to open export file")
			}
			defer f.Close()

			return withApp(func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				summary, err := importer.New(a.store).Import(ctx, f, importer.Options{
					Replace: !appendMode,
					Progress: func(done, total int) {
						fmt.Fprintf(out, "\r%s", cli.Muted(fmt.Sprintf("importing %d/%d", done, total)))
					},
				})
				fmt.Fprintln(out)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, cli.Success(fmt.Sprintf("Imported %d conversations (%d messages), skipped %d empty",
					summary.Conversations, summary.Messages, summary.Skipped)))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&appendMode, "append", false, "keep existing conversations instead of replacing them")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var start, end string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "search [term]",
		Short: "Search conversation titles and messages",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			term := strings.Join(args, " ")
			startAt, err := search.ParseDate(start)
			if err != nil {
				return err
			}
			endAt, err := search.ParseDate(end)
			if err != nil {
				return err
			}

			return withApp(func(ctx context.Context, a *app) error {
				results, err := search.NewEngine(a.store).Search(ctx, term, search.DateFilter{Start: startAt, End: endAt})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), results)
				}
				cli.RenderResults(cmd.OutOrStdout(), results, term)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "only conversations created on or after this day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "only conversations created on or before this day (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func newShowCmd() *cobra.Command {
	var term string
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return errors.Errorf("invalid conversation id %q", args[0])
			}
			return withApp(func(ctx context.Context, a *app) error {
				c, err := a.store.GetConversation(ctx, id)
				if err != nil {
					return err
				}
				transcripts, err := chat.LoadTranscripts(ctx, a.store, []int64{id})
				if err != nil {
					return err
				}
				cli.RenderConversation(cmd.OutOrStdout(), c, transcripts[0].Messages, term)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&term, "highlight", "", "highlight occurrences of a term")
	return cmd
}

func newStatsCmd() *cobra.Command {
	var top int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats [id...]",
		Short: "Show corpus statistics, or counts for the given conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				agg := stats.NewAggregator(a.store)
				out := cmd.OutOrStdout()

				if len(args) > 0 {
					ids, err := parseIDs(args)
					if err != nil {
						return err
					}
					sel, err := agg.SelectionStats(ctx, ids)
					if err != nil {
						return err
					}
					if asJSON {
						return writeJSON(out, sel)
					}
					fmt.Fprintf(out, "%d conversations, %d messages, %d words\n", sel.Conversations, sel.Messages, sel.Words)
					return nil
				}

				corpus, err := agg.CorpusStats(ctx)
				if err != nil {
					return err
				}
				hist, err := agg.MonthlyHistogram(ctx)
				if err != nil {
					return err
				}
				ranked, err := agg.MostActive(ctx, top)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, map[string]any{"corpus": corpus, "monthly": hist, "mostActive": ranked})
				}
				cli.RenderCorpusStats(out, corpus)
				fmt.Fprintln(out)
				cli.RenderHistogram(out, hist)
				fmt.Fprintln(out)
				cli.RenderMostActive(out, ranked)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&top, "top", stats.DefaultMostActiveLimit, "number of most active conversations to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print statistics as JSON")
	return cmd
}

func newExportCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export [id...]",
		Short: "Export conversations as JSON (all when no id is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var ids []int64
			if len(args) > 0 {
				var err error
				if ids, err = parseIDs(args); err != nil {
					return err
				}
			}
			return withApp(func(ctx context.Context, a *app) error {
				var w io.Writer = cmd.OutOrStdout()
				if output != "" && output != "-" {
					f, err := os.Create(output)
					if err != nil {
						return errors.Wrap(err, "failed to create output file")
					}
					defer f.Close()
					w = f
				}
				n, err := importer.New(a.store).Export(ctx, ids, w)
				if err != nil {
					return err
				}
				if w != cmd.OutOrStdout() {
					fmt.Fprintln(cmd.OutOrStdout(), cli.Success(fmt.Sprintf("Exported %d conversations to %s", n, output)))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	return cmd
}

func newResetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all imported conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Delete all imported conversations?") {
				fmt.Fprintln(cmd.OutOrStdout(), cli.Muted("Cancelled"))
				return nil
			}
			return withApp(func(ctx context.Context, a *app) error {
				if err := a.store.ResetAll(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.Success("All conversations deleted"))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newSummarizeCmd() *cobra.Command {
	var prompt, endpoint string
	var session int64
	cmd := &cobra.Command{
		Use:   "summarize <id...>",
		Short: "Summarize conversations with the active LLM endpoint",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app) error {
				if endpoint != "" {
					a.endpointID = endpoint
				}
				if strings.TrimSpace(prompt) == "" {
					prompt = a.cfg.Prompt()
				}
				out := cmd.OutOrStdout()

				sel, err := stats.NewAggregator(a.store).SelectionStats(ctx, ids)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, cli.Muted(fmt.Sprintf("summarizing %d conversations (%d messages, %d words)...",
					sel.Conversations, sel.Messages, sel.Words)))

				res, err := a.chat.Summarize(ctx, chat.SummaryRequest{ConversationIDs: ids, Prompt: prompt, SessionID: session})
				if res == nil {
					return err
				}
				cli.RenderChatMessage(out, res.Reply, a.chat.IsFailure(res.Reply))
				fmt.Fprintln(out, cli.Muted(fmt.Sprintf("Continue with: convscope chat --session %d", res.Session.ID)))
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "summarization instruction (default from config)")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "endpoint id to use instead of the active one")
	cmd.Flags().Int64Var(&session, "session", 0, "append to an existing chat session")
	return cmd
}

func newChatCmd() *cobra.Command {
	var session int64
	var endpoint string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				if endpoint != "" {
					a.endpointID = endpoint
				}
				dir, err := config.ConfigDir()
				if err != nil {
					return err
				}
				repl := cli.NewREPL(a.chat, cli.REPLConfig{
					SessionID:     session,
					HistoryFile:   cli.HistoryFilePath(dir),
					DefaultPrompt: a.cfg.Prompt(),
					Stdout:        cmd.OutOrStdout(),
				})
				return repl.Run(ctx)
			})
		},
	}
	cmd.Flags().Int64Var(&session, "session", 0, "resume a chat session")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "endpoint id to use instead of the active one")
	return cmd
}

func newEndpointsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "endpoints",
		Short: "List or change LLM endpoint settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				endpoints, err := a.settings.Load()
				if err != nil {
					return err
				}
				cli.RenderEndpoints(cmd.OutOrStdout(), endpoints)
				return nil
			})
		},
	}

	update := func(use, short string, fn func(ep *llm.Endpoint, value string)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(func(ctx context.Context, a *app) error {
					ep, err := settings.Update(a.settings, args[0], func(ep *llm.Endpoint) { fn(ep, args[1]) })
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), cli.Success("Updated endpoint "+ep.ID))
					return nil
				})
			},
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List endpoints",
			RunE:  cmd.RunE,
		},
		update("set-key <id> <key>", "Set an endpoint's API key", func(ep *llm.Endpoint, v string) { ep.APIKey = v }),
		update("set-url <id> <url>", "Set an endpoint's URL", func(ep *llm.Endpoint, v string) { ep.URL = v }),
		update("set-model <id> <model>", "Set an endpoint's model", func(ep *llm.Endpoint, v string) { ep.Model = v }),
		update("set-provider <id> <provider>", "Set an endpoint's request format", func(ep *llm.Endpoint, v string) { ep.Provider = llm.Provider(v) }),
		&cobra.Command{
			Use:   "activate <id>",
			Short: "Make an endpoint the active one",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(func(ctx context.Context, a *app) error {
					ep, err := settings.Activate(a.settings, args[0])
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), cli.Success(fmt.Sprintf("Active endpoint: %s (%s)", ep.ID, ep.Model)))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "reset",
			Short: "Forget saved endpoint settings",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(func(ctx context.Context, a *app) error {
					if err := a.settings.Reset(); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), cli.Success("Endpoint settings reset to defaults"))
					return nil
				})
			},
		},
	)
	return cmd
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local JSON API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				if addr == "" {
					addr = a.cfg.Server.Addr
				}
				srv := server.New(server.Options{
					Addr:           addr,
					AllowedOrigins: a.cfg.Server.AllowedOrigins,
					DefaultPrompt:  a.cfg.Prompt(),
				}, a.store, a.chat, a.settings)

				errCh := make(chan error, 1)
				go func() { errCh <- srv.Start() }()
				fmt.Fprintln(cmd.OutOrStdout(), cli.Success("Listening on http://"+addr))

				select {
				case err := <-errCh:
					return err
				case <-ctx.Done():
				}
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return errors.Wrap(err, "failed to load config")
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.String())

			path, _ := config.ConfigPath()
			fmt.Fprintf(cmd.OutOrStdout(), "\nConfig file path: %s\n", path)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "convscope v%s\n", version)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// confirm asks a yes/no question on in.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
