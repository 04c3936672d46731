package monitor

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestCustomHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "info")

	logger.With("component", "provider").Info("Provider loaded", "id", "gpt", "count", 2, "took", time.Second, "error", errors.New("boom"))

	line := buf.String()
	assert.Regexp(t, `^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\] \[INFO\] Provider loaded`, line)
	assert.Contains(t, line, `component="provider"`)
	assert.Contains(t, line, `id="gpt"`)
	assert.Contains(t, line, `count=2`)
	assert.Contains(t, line, `took=1s`)
	assert.Contains(t, line, `error="boom"`)
}

func TestCustomHandlerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn")

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "[WARN] shown")
}

func TestCustomHandlerGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "debug")

	logger.WithGroup("stt").Debug("selected", "id", "whisper", slog.Group("cfg", "enable", true))

	assert.Contains(t, buf.String(), `stt.id="whisper"`)
	assert.Contains(t, buf.String(), `stt.cfg.enable=true`)
}
