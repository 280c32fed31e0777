package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel defines log level
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string ("debug", "info", ...) to a LogLevel.
// Unknown values fall back to INFO.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// FileName is the active log file inside Config.LogDir.
const FileName = "convscope.log"

// Logger owns the rotating log file and the zerolog logger writing to it.
type Logger struct {
	level   LogLevel
	logDir  string
	maxDays int
	file    *lumberjack.Logger
	zl      zerolog.Logger
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Config logger configuration
type Config struct {
	LogDir     string   // Log directory
	Level      LogLevel // Log level
	MaxDays    int      // Max days to keep rotated logs
	ConsoleOut bool     // Output to stderr as well
}

// Init builds the default logger and installs it as the global zerolog logger.
func Init(cfg Config) error {
	var err error
	once.Do(func() {
		defaultLogger, err = NewLogger(cfg)
		if err == nil {
			log.Logger = defaultLogger.zl
			zerolog.SetGlobalLevel(defaultLogger.level.zerolog())
		}
	})
	return err
}

// NewLogger creates a new logger instance
func NewLogger(cfg Config) (*Logger, error) {
	if cfg.MaxDays <= 0 {
		cfg.MaxDays = 7
	}

	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create log directory")
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, FileName),
		MaxSize:    10, // megabytes
		MaxAge:     cfg.MaxDays,
		MaxBackups: cfg.MaxDays,
	}

	var w io.Writer = file
	if cfg.ConsoleOut {
		w = zerolog.MultiLevelWriter(file, zerolog.ConsoleWriter{Out: os.Stderr})
	}

	return &Logger{
		level:   cfg.Level,
		logDir:  cfg.LogDir,
		maxDays: cfg.MaxDays,
		file:    file,
		zl:      zerolog.New(w).Level(cfg.Level.zerolog()).With().Timestamp().Logger(),
	}, nil
}

// Close closes the logger
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Close closes the default logger
func Close() error {
	if defaultLogger != nil {
		return defaultLogger.Close()
	}
	return nil
}
