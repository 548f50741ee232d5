// Package logging provides structured logging using zerolog.
//
// A single global Logger is configured once at startup. Console output can
// be JSON or human-readable; a log file, when configured, always receives
// JSON and is rotated by size.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

var fileWriter *lumberjack.Logger

// Level represents log levels.
type Level = zerolog.Level

const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
)

const (
	defaultMaxSizeMB  = 10
	defaultMaxBackups = 3
)

// Config holds logger configuration.
type Config struct {
	Level Level
	// Output defaults to os.Stderr.
	Output io.Writer
	// Pretty switches Output to zerolog's console format.
	Pretty     bool
	TimeFormat string

	// File additionally receives JSON logs, rotated at MaxSizeMB.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// DefaultConfig returns the startup configuration: info level JSON on stderr.
func DefaultConfig() Config {
	return Config{
		Level:      InfoLevel,
		Output:     os.Stderr,
		TimeFormat: time.RFC3339,
		MaxSizeMB:  defaultMaxSizeMB,
		MaxBackups: defaultMaxBackups,
	}
}

// Init replaces the global logger. A previously opened log file is closed.
func Init(cfg Config) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat

	console := cfg.Output
	if cfg.Pretty {
		console = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: cfg.TimeFormat}
	}

	Close()
	var out io.Writer = console
	if cfg.File != "" {
		fileWriter = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    positiveOr(cfg.MaxSizeMB, defaultMaxSizeMB),
			MaxBackups: positiveOr(cfg.MaxBackups, defaultMaxBackups),
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(console, fileWriter)
	}

	Logger = zerolog.New(out).Level(cfg.Level).With().Timestamp().Logger()
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// FilePath returns the active log file, or "".
func FilePath() string {
	if fileWriter == nil {
		return ""
	}
	return fileWriter.Filename
}

// Close flushes and closes the log file, if any.
func Close() {
	if fileWriter == nil {
		return
	}
	_ = fileWriter.Close()
	fileWriter = nil
}

// ParseLevel parses DEBUG, INFO, WARN (or WARNING) and ERROR in any case.
// Anything else yields InfoLevel.
func ParseLevel(level string) Level {
	name := strings.ToLower(strings.TrimSpace(level))
	if name == "warning" {
		name = "warn"
	}
	switch l, err := zerolog.ParseLevel(name); {
	case err != nil, name == "", l == zerolog.NoLevel:
		return InfoLevel
	default:
		return l
	}
}

// Component returns a child logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

func Debug() *zerolog.Event { return Logger.Debug() }

func Info() *zerolog.Event { return Logger.Info() }

func Warn() *zerolog.Event { return Logger.Warn() }

func Error() *zerolog.Event { return Logger.Error() }

func init() {
	Init(DefaultConfig())
}
