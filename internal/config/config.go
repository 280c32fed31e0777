package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var (
	// configDir is the configuration directory path
	// Can be set via SetConfigDir before loading config
	configDir     string
	configDirInit bool
)

// SetConfigDir sets a custom configuration directory
// Must be called before any config loading functions
func SetConfigDir(dir string) {
	configDir = dir
	configDirInit = true
}

// GetConfigDir returns the configuration directory
// Priority: 1. Manually set via SetConfigDir, 2. ./config in current directory
func GetConfigDir() string {
	if !configDirInit {
		cwd, err := os.Getwd()
		if err == nil {
			configDir = filepath.Join(cwd, "config")
		}
		configDirInit = true
	}
	return configDir
}

// DefaultPrompt is the summarization instruction used when none is given.
const DefaultPrompt = `Summarize the following conversations. For each one, list the main topics, the decisions or conclusions reached, and any open questions. Finish with a short overall summary of recurring themes.`

// Config application configuration structure
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Settings  SettingsConfig  `yaml:"settings"`
	Summarize SummarizeConfig `yaml:"summarize"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// StoreConfig record store configuration
type StoreConfig struct {
	DBPath           string `yaml:"db_path"`
	ClearChatOnReset bool   `yaml:"clear_chat_on_reset"`
}

// SettingsConfig endpoint settings storage
type SettingsConfig struct {
	DBPath string `yaml:"db_path"`
}

// SummarizeConfig summarization client configuration
type SummarizeConfig struct {
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	DefaultPrompt   string `yaml:"default_prompt"`
	DefaultEndpoint string `yaml:"default_endpoint"`
}

// ServerConfig local HTTP API configuration
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LogConfig logging configuration
type LogConfig struct {
	Level   string `yaml:"level"`
	MaxDays int    `yaml:"max_days"`
	Console bool   `yaml:"console"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Store: StoreConfig{
			DBPath:           filepath.Join(homeDir, ".convscope", "conversations.db"),
			ClearChatOnReset: false,
		},
		Settings: SettingsConfig{
			DBPath: filepath.Join(homeDir, ".convscope", "settings.bolt"),
		},
		Summarize: SummarizeConfig{
			TimeoutSeconds: 60,
			DefaultPrompt:  DefaultPrompt,
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8787",
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Log: LogConfig{
			Level:   "info",
			MaxDays: 7,
			Console: false,
		},
	}
}

// ConfigDir returns the configuration directory path
func ConfigDir() (string, error) {
	dir := GetConfigDir()
	if dir == "" {
		return "", errors.New("failed to determine config directory")
	}
	return dir, nil
}

// LogDir returns the log directory path
func LogDir() string {
	dir := GetConfigDir()
	if dir == "" {
		return "logs"
	}
	return filepath.Join(dir, "logs")
}

// ConfigPath returns the configuration file path
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load loads configuration from file, creating it with defaults on first run.
func Load() (*Config, error) {
	configPath, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := Save(cfg); err != nil {
			return nil, errors.Wrap(err, "failed to create default config")
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	cfg := DefaultConfig() // Use default values as base
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves configuration to file
func Save(cfg *Config) error {
	configPath, err := ConfigPath()
	if err != nil {
		return err
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to serialize config")
	}

	content := "# convscope configuration file\n# API keys belong in .secrets next to this file\n\n" + string(data)

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Store.DBPath) == "" {
		return errors.New("config error: store.db_path cannot be empty")
	}
	if strings.TrimSpace(c.Settings.DBPath) == "" {
		return errors.New("config error: settings.db_path cannot be empty")
	}
	if c.Settings.DBPath == c.Store.DBPath {
		return errors.New("config error: settings.db_path must differ from store.db_path")
	}
	if c.Summarize.TimeoutSeconds <= 0 {
		return errors.New("config error: summarize.timeout_seconds must be greater than 0")
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("config error: server.addr cannot be empty")
	}
	if c.Log.MaxDays <= 0 {
		return errors.New("config error: log.max_days must be greater than 0")
	}
	return nil
}

// Prompt returns the configured summarization prompt, or DefaultPrompt.
func (c *Config) Prompt() string {
	if p := strings.TrimSpace(c.Summarize.DefaultPrompt); p != "" {
		return p
	}
	return DefaultPrompt
}

// String returns string representation of config
func (c *Config) String() string {
	return fmt.Sprintf(`convscope configuration:
  Store:
    DB Path: %s
    Clear Chat On Reset: %v
  Settings:
    DB Path: %s
  Summarize:
    Timeout Seconds: %d
    Default Endpoint: %s
  Server:
    Addr: %s
    Allowed Origins: %s
  Log:
    Level: %s
    Max Days: %d
    Console: %v`,
		c.Store.DBPath,
		c.Store.ClearChatOnReset,
		c.Settings.DBPath,
		c.Summarize.TimeoutSeconds,
		orNone(c.Summarize.DefaultEndpoint),
		c.Server.Addr,
		strings.Join(c.Server.AllowedOrigins, ", "),
		c.Log.Level,
		c.Log.MaxDays,
		c.Log.Console,
	)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
