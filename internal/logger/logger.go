// Package logger provides structured logging with file and console output.
package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	zerolog.Logger
}

// New creates a new logger with the specified level and optional file output.
func New(level string, logFile string) (*Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	writers := []io.Writer{
		zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"},
	}

	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			return nil, err
		}

		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		// file output stays JSON so it can be shipped as-is
		writers = append(writers, file)
	}

	return NewWithWriter(lvl, zerolog.MultiLevelWriter(writers...)), nil
}

// NewWithWriter builds a logger on an arbitrary writer. Tests use it to
// capture output.
func NewWithWriter(lvl zerolog.Level, w io.Writer) *Logger {
	l := zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Caller().
		Logger()
	return &Logger{l}
}

// Component returns a child logger tagged with the component name.
func (l *Logger) Component(name string) *Logger {
	return &Logger{l.With().Str("component", name).Logger()}
}

// Operation returns a child logger tagged with a parse operation.
func (l *Logger) Operation(operationID string, userID uint) *Logger {
	return &Logger{l.With().Str("operation_id", operationID).Uint("user_id", userID).Logger()}
}

// Global is the global logger instance for convenience.
var Global *Logger

// Init initializes the global logger.
func Init(level string, logFile string) error {
	l, err := New(level, logFile)
	if err != nil {
		return err
	}
	Global = l
	return nil
}

// Get returns the global logger.
// Returns a no-op logger if not initialized.
func Get() *Logger {
	if Global == nil {
		return &Logger{zerolog.Nop()}
	}
	return Global
}
