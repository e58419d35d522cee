package ops

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aljazceru/ditto/internal/config"
)

// Logger is a structured logger wrapper
type Logger struct {
	*slog.Logger
	level  slog.Level
	format string
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a new structured logger based on config
func NewLogger(cfg *config.Logging) *Logger {
	level := parseLevel(cfg.Level)

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		level:  level,
		format: cfg.Format,
	}
}

// NewLoggerWithWriter creates a logger with a custom writer
func NewLoggerWithWriter(cfg *config.Logging, w io.Writer) *Logger {
	level := parseLevel(cfg.Level)

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		level:  level,
		format: cfg.Format,
	}
}

// WithComponent adds a component field to all log messages
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", component),
		level:  l.level,
		format: l.format,
	}
}

// WithFields adds custom fields to the logger
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(fields...),
		level:  l.level,
		format: l.format,
	}
}

// IsDebugEnabled returns true if debug logging is enabled
func (l *Logger) IsDebugEnabled() bool {
	return l.level <= slog.LevelDebug
}

// Component-specific logger helpers

// LogPipelineResult logs the outcome of processing one event
func (l *Logger) LogPipelineResult(eventID string, kind int, duration time.Duration, err error) {
	if err != nil {
		l.Warn("event rejected",
			"event_id", eventID,
			"kind", kind,
			"duration_ms", duration.Milliseconds(),
			"error", err)
	} else {
		l.Debug("event accepted",
			"event_id", eventID,
			"kind", kind,
			"duration_ms", duration.Milliseconds())
	}
}

// LogSideEffect logs the outcome of a post-commit side effect
func (l *Logger) LogSideEffect(name string, eventID string, err error) {
	if err != nil {
		l.Error("side effect failed",
			"side_effect", name,
			"event_id", eventID,
			"error", err)
	} else {
		l.Debug("side effect completed",
			"side_effect", name,
			"event_id", eventID)
	}
}

// LogFanout logs a live fan-out pass
func (l *Logger) LogFanout(eventID string, delivered, dropped int) {
	l.Debug("event fanned out",
		"event_id", eventID,
		"delivered", delivered,
		"dropped", dropped)
}

// LogStorageOperation logs a storage operation
func (l *Logger) LogStorageOperation(op string, duration time.Duration, err error) {
	if err != nil {
		l.Error("storage operation failed",
			"operation", op,
			"duration_ms", duration.Milliseconds(),
			"error", err)
	} else {
		l.Debug("storage operation completed",
			"operation", op,
			"duration_ms", duration.Milliseconds())
	}
}

// LogPolicyDecision logs a moderation policy decision
func (l *Logger) LogPolicyDecision(eventID string, accepted bool, message string) {
	if accepted {
		l.Debug("policy accepted event", "event_id", eventID)
	} else {
		l.Info("policy rejected event",
			"event_id", eventID,
			"message", message)
	}
}

// LogStartup logs application startup information
func (l *Logger) LogStartup(version, commit string) {
	l.Info("ditto starting",
		"version", version,
		"commit", commit)
}

// LogShutdown logs application shutdown
func (l *Logger) LogShutdown(reason string) {
	l.Info("ditto shutting down",
		"reason", reason)
}

// LogPanic logs a panic with stack trace
func (l *Logger) LogPanic(recovered interface{}, stack string) {
	l.Error("panic recovered",
		"panic", fmt.Sprintf("%v", recovered),
		"stack", stack)
}

// Default logger configuration
var defaultLogger *Logger

func init() {
	// Create a default logger for early startup
	defaultLogger = NewLogger(&config.Logging{
		Level:  "info",
		Format: "text",
	})
}

// Default returns the default logger
func Default() *Logger {
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(l *Logger) {
	defaultLogger = l
}

// Helper functions for common logging patterns

// Info logs an info message
func Info(msg string, fields ...any) {
	defaultLogger.Info(msg, fields...)
}

// Debug logs a debug message
func Debug(msg string, fields ...any) {
	defaultLogger.Debug(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...any) {
	defaultLogger.Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...any) {
	defaultLogger.Error(msg, fields...)
}
