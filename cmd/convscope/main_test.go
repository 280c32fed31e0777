package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hession/convscope/internal/config"
)

const fixture = `[
  {"uuid": "c-1", "name": "Trip to Japan", "created_at": "2024-01-10T10:00:00Z",
   "chat_messages": [
     {"uuid": "m-1", "text": "Planning a trip to Kyoto", "sender": "human", "created_at": "2024-01-10T10:00:00Z"},
     {"uuid": "m-2", "text": "Kyoto is lovely in spring", "sender": "assistant", "created_at": "2024-01-10T10:01:00Z"}
   ]},
  {"uuid": "c-2", "name": "Recipe Ideas", "created_at": "2024-02-03T10:00:00Z",
   "chat_messages": [
     {"uuid": "m-3", "text": "What can I cook with rice?", "sender": "human", "created_at": "2024-02-03T10:00:00Z"}
   ]},
  {"uuid": "c-3", "name": "Empty", "chat_messages": [{"text": "   "}]}
]`

func TestVersion(t *testing.T) {
	assert.Equal(t, "0.1.0", version)
}

func TestLogConfigInfo(t *testing.T) {
	// Should not panic
	logConfigInfo(config.DefaultConfig())
	logConfigInfo(&config.Config{})
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"import", "search", "show", "stats", "export", "reset", "summarize", "chat", "endpoints", "serve", "config", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs([]string{"1", "2,3"})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)

	_, err = parseIDs([]string{"abc"})
	assert.Error(t, err)
}

func TestConfirm(t *testing.T) {
	var out bytes.Buffer
	assert.True(t, confirm(strings.NewReader("y\n"), &out, "sure?"))
	assert.True(t, confirm(strings.NewReader("YES\n"), &out, "sure?"))
	assert.False(t, confirm(strings.NewReader("\n"), &out, "sure?"))
	assert.False(t, confirm(strings.NewReader(""), &out, "sure?"))
	assert.Contains(t, out.String(), "sure? [y/N]")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCommands_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	config.SetConfigDir(dir)
	cfg := config.DefaultConfig()
	cfg.Store.DBPath = filepath.Join(dir, "data", "conversations.db")
	cfg.Settings.DBPath = filepath.Join(dir, "data", "settings.bolt")
	require.NoError(t, config.Save(cfg))

	input := filepath.Join(dir, "export.json")
	require.NoError(t, os.WriteFile(input, []byte(fixture), 0644))

	t.Run("import", func(t *testing.T) {
		out, err := run(t, "--config-dir", dir, "import", input)
		require.NoError(t, err)
		assert.Contains(t, out, "Imported 2 conversations (3 messages), skipped 1 empty")
	})

	t.Run("search", func(t *testing.T) {
		out, err := run(t, "--config-dir", dir, "search", "--json", "kyoto")
		require.NoError(t, err)
		var results []map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &results))
		require.Len(t, results, 1)
		assert.Equal(t, "content", results[0]["matchType"])

		_, err = run(t, "--config-dir", dir, "search", "--start", "2024/01/01")
		assert.Error(t, err)
	})

	t.Run("stats", func(t *testing.T) {
		out, err := run(t, "--config-dir", dir, "stats", "--json")
		require.NoError(t, err)
		var got struct {
			Corpus struct {
				TotalConversations int `json:"totalConversations"`
				TotalMessages      int `json:"totalMessages"`
			} `json:"corpus"`
			Monthly map[string]int `json:"monthly"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, 2, got.Corpus.TotalConversations)
		assert.Equal(t, 3, got.Corpus.TotalMessages)
		assert.Len(t, got.Monthly, 2)
	})

	t.Run("export", func(t *testing.T) {
		target := filepath.Join(dir, "out.json")
		out, err := run(t, "--config-dir", dir, "export", "-o", target)
		require.NoError(t, err)
		assert.Contains(t, out, "Exported 2 conversations")

		data, err := os.ReadFile(target)
		require.NoError(t, err)
		var exported []map[string]any
		require.NoError(t, json.Unmarshal(data, &exported))
		assert.Len(t, exported, 2)
	})

	t.Run("endpoints", func(t *testing.T) {
		_, err := run(t, "--config-dir", dir, "endpoints", "set-key", "openai", "sk-abcdefghijklmnop")
		require.NoError(t, err)
		_, err = run(t, "--config-dir", dir, "endpoints", "activate", "openai")
		require.NoError(t, err)

		out, err := run(t, "--config-dir", dir, "endpoints", "list")
		require.NoError(t, err)
		assert.Contains(t, out, "openai")
		assert.NotContains(t, out, "sk-abcdefghijklmnop")

		_, err = run(t, "--config-dir", dir, "endpoints", "set-provider", "openai", "carrier-pigeon")
		assert.Error(t, err)
	})

	t.Run("summarize without endpoint reachable", func(t *testing.T) {
		_, err := run(t, "--config-dir", dir, "endpoints", "set-url", "openai", "http://127.0.0.1:1/v1/chat/completions")
		require.NoError(t, err)
		out, err := run(t, "--config-dir", dir, "summarize", "1")
		require.Error(t, err)
		assert.Contains(t, out, "Error: ")
	})

	t.Run("reset", func(t *testing.T) {
		out, err := run(t, "--config-dir", dir, "reset")
		require.NoError(t, err)
		assert.Contains(t, out, "Cancelled")

		_, err = run(t, "--config-dir", dir, "reset", "--yes")
		require.NoError(t, err)
		out, err = run(t, "--config-dir", dir, "stats", "--json")
		require.NoError(t, err)
		assert.Contains(t, out, `"totalConversations": 0`)
	})
}
