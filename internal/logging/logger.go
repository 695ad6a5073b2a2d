// Package logging provides the structured logger used across the orders service.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Fields carries structured key/value pairs for a log entry.
type Fields map[string]interface{}

var (
	level = new(slog.LevelVar)
	root  atomic.Pointer[slog.Logger]
)

func init() {
	root.Store(newRoot(os.Stdout))
}

func newRoot(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// Configure sets the minimum level and destination for every logger.
// Loggers created before the call pick up the change.
func Configure(lvl string, w io.Writer) {
	level.Set(ParseLevel(lvl))
	if w != nil {
		root.Store(newRoot(w))
	}
}

// ParseLevel maps a textual level to slog.Level, defaulting to info.
func ParseLevel(lvl string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger is a named component logger.
type Logger struct {
	component string
}

// NewLogger creates a logger tagged with the component name.
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) log(lvl slog.Level, msg string, fields []Fields) {
	base := root.Load()
	ctx := context.Background()
	if !base.Enabled(ctx, lvl) {
		return
	}

	attrs := make([]any, 0, 2+len(fields)*4)
	attrs = append(attrs, "component", l.component)
	for _, f := range fields {
		for k, v := range f {
			attrs = append(attrs, k, v)
		}
	}
	base.Log(ctx, lvl, msg, attrs...)
}

func (l *Logger) Debug(msg string, fields ...Fields) { l.log(slog.LevelDebug, msg, fields) }

func (l *Logger) Info(msg string, fields ...Fields) { l.log(slog.LevelInfo, msg, fields) }

func (l *Logger) Warn(msg string, fields ...Fields) { l.log(slog.LevelWarn, msg, fields) }

func (l *Logger) Error(msg string, fields ...Fields) { l.log(slog.LevelError, msg, fields) }

// Fatal logs at error level and exits the process.
func (l *Logger) Fatal(msg string, fields ...Fields) {
	l.log(slog.LevelError, msg, fields)
	os.Exit(1)
}

// Infof logs a formatted message without a component.
func Infof(format string, args ...interface{}) {
	root.Load().Info(fmt.Sprintf(format, args...))
}
