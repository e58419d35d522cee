package ops

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aljazceru/ditto/internal/config"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *config.Logging
	}{
		{
			name: "text format",
			config: &config.Logging{
				Level:  "info",
				Format: "text",
			},
		},
		{
			name: "json format",
			config: &config.Logging{
				Level:  "debug",
				Format: "json",
			},
		},
		{
			name: "warn level",
			config: &config.Logging{
				Level:  "warn",
				Format: "text",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Fatal("expected logger to be created")
			}

			if logger.format != tt.config.Format {
				t.Errorf("expected format %s, got %s", tt.config.Format, logger.format)
			}
		})
	}
}

func TestLoggerWithComponent(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Logging{
		Level:  "info",
		Format: "text",
	}

	logger := NewLoggerWithWriter(cfg, &buf)
	logger.WithComponent("pipeline").Info("test message")

	out := buf.String()
	if !strings.Contains(out, "component=pipeline") {
		t.Errorf("expected component field in output, got: %s", out)
	}
	if !strings.Contains(out, "test message") {
		t.Errorf("expected message in output, got: %s", out)
	}
}

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Logging{
		Level:  "warn",
		Format: "text",
	}

	logger := NewLoggerWithWriter(cfg, &buf)
	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("expected only warn output, got: %s", out)
	}
	if !strings.Contains(out, "warn message") {
		t.Errorf("expected warn message in output, got: %s", out)
	}
}

func TestLogSideEffect(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Logging{
		Level:  "debug",
		Format: "text",
	}

	logger := NewLoggerWithWriter(cfg, &buf)
	logger.LogSideEffect("zap_index", "event-1", errors.New("boom"))

	out := buf.String()
	if !strings.Contains(out, "side effect failed") {
		t.Errorf("expected failure log, got: %s", out)
	}
	if !strings.Contains(out, "zap_index") {
		t.Errorf("expected side effect name in output, got: %s", out)
	}
}

func TestLogPipelineResult(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Logging{
		Level:  "debug",
		Format: "json",
	}

	logger := NewLoggerWithWriter(cfg, &buf)
	logger.LogPipelineResult("event-1", 1, 5*time.Millisecond, nil)

	out := buf.String()
	if !strings.Contains(out, "event accepted") {
		t.Errorf("expected accepted log, got: %s", out)
	}
}

func TestIsDebugEnabled(t *testing.T) {
	debugLogger := NewLogger(&config.Logging{Level: "debug", Format: "text"})
	if !debugLogger.IsDebugEnabled() {
		t.Error("expected debug to be enabled")
	}

	infoLogger := NewLogger(&config.Logging{Level: "info", Format: "text"})
	if infoLogger.IsDebugEnabled() {
		t.Error("expected debug to be disabled")
	}
}
