package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel(" Warning "))
	assert.Equal(t, ERROR, ParseLevel("ERROR"))
	assert.Equal(t, INFO, ParseLevel("info"))
	assert.Equal(t, INFO, ParseLevel("nonsense"))
}

func TestNewLogger(t *testing.T) {
	dir := t.TempDir()

	l, err := NewLogger(Config{LogDir: dir, Level: INFO, MaxDays: 3})
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, INFO, l.level)
	assert.Equal(t, 3, l.maxDays)
	assert.Equal(t, dir, l.logDir)
}

func TestNewLogger_DefaultMaxDays(t *testing.T) {
	l, err := NewLogger(Config{LogDir: t.TempDir(), Level: INFO})
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, 7, l.maxDays)
}

func TestLogger_WritesAndFiltersByLevel(t *testing.T) {
	dir := t.TempDir()

	l, err := NewLogger(Config{LogDir: dir, Level: WARN})
	require.NoError(t, err)

	l.zl.Info().Msg("quiet message")
	l.zl.Warn().Str("component", "store").Msg("loud message")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	content := string(data)

	assert.False(t, strings.Contains(content, "quiet message"))
	assert.Contains(t, content, "loud message")
	assert.Contains(t, content, `"component":"store"`)
}

func TestNewLogger_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")

	l, err := NewLogger(Config{LogDir: dir, Level: DEBUG})
	require.NoError(t, err)
	defer l.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestClose_NoDefault(t *testing.T) {
	if defaultLogger == nil {
		assert.NoError(t, Close())
	}
}
