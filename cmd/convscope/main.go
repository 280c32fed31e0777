package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hession/convscope/internal/chat"
	"github.com/hession/convscope/internal/cli"
	"github.com/hession/convscope/internal/config"
	"github.com/hession/convscope/internal/llm"
	"github.com/hession/convscope/internal/logger"
	"github.com/hession/convscope/internal/settings"
	"github.com/hession/convscope/internal/store"
)

var (
	version   = cli.Version
	configDir string
)

// app holds everything a command needs once config is loaded.
type app struct {
	cfg      *config.Config
	prompts  *config.PromptConfig
	store    *store.SQLiteStore
	settings *settings.BoltRepository
	client   *llm.Client
	chat     *chat.Service
	// endpointID overrides summarize.default_endpoint for this run.
	endpointID string
}

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, cli.Failure(err.Error()))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "convscope",
		Short: "convscope - browse, search and summarize your exported AI conversations",
		Long: `convscope imports a conversation export into a local database and lets you work with it.

It can:
  • Search conversations by title and content, filtered by date
  • Show usage statistics and a monthly histogram
  • Export selected conversations back to JSON
  • Summarize conversations with an LLM endpoint and keep chatting about them
  • Serve everything over a local JSON API`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if configDir != "" {
				config.SetConfigDir(configDir)
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "configuration directory (default ./config)")

	rootCmd.AddCommand(
		newImportCmd(),
		newSearchCmd(),
		newShowCmd(),
		newStatsCmd(),
		newExportCmd(),
		newResetCmd(),
		newSummarizeCmd(),
		newChatCmd(),
		newEndpointsCmd(),
		newServeCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// openApp loads configuration, starts logging and opens both stores.
func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}

	if err := logger.Init(logger.Config{
		LogDir:     config.LogDir(),
		Level:      logger.ParseLevel(cfg.Log.Level),
		MaxDays:    cfg.Log.MaxDays,
		ConsoleOut: cfg.Log.Console,
	}); err != nil {
		fmt.Fprintln(os.Stderr, cli.Warning("failed to initialize logger: "+err.Error()))
	}

	secrets, err := config.LoadSecrets()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load secrets")
	}
	prompts, err := config.LoadPromptConfig()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Store.DBPath), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create data directory")
	}
	st, err := store.NewSQLiteStore(cfg.Store.DBPath, store.WithClearChatOnReset(cfg.Store.ClearChatOnReset))
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:        cfg,
		prompts:    prompts,
		store:      st,
		settings:   settings.NewBoltRepository(cfg.Settings.DBPath, secrets.APIKeyFor),
		endpointID: cfg.Summarize.DefaultEndpoint,
	}
	a.client = llm.New(
		llm.WithTimeout(time.Duration(cfg.Summarize.TimeoutSeconds)*time.Second),
		llm.WithContextHeader(prompts.GetContextHeader()),
	)
	a.chat = chat.NewService(st, a.client, a.activeEndpoint,
		chat.WithSystemPrompt(prompts.GetSystemPrompt()),
		chat.WithContextHeader(prompts.GetContextHeader()),
		chat.WithErrorPrefix(prompts.GetErrorPrefix()),
	)

	logConfigInfo(cfg)
	return a, nil
}

func (a *app) activeEndpoint() (llm.Endpoint, error) {
	endpoints, err := a.settings.Load()
	if err != nil {
		return llm.Endpoint{}, err
	}
	return settings.ActiveEndpoint(endpoints, a.endpointID)
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close store")
	}
	_ = logger.Close()
}

// logConfigInfo records the effective configuration at startup.
func logConfigInfo(cfg *config.Config) {
	log.Info().
		Str("version", version).
		Str("store", cfg.Store.DBPath).
		Bool("clear_chat_on_reset", cfg.Store.ClearChatOnReset).
		Str("settings", cfg.Settings.DBPath).
		Int("timeout_seconds", cfg.Summarize.TimeoutSeconds).
		Str("default_endpoint", cfg.Summarize.DefaultEndpoint).
		Msg("convscope starting")
}
