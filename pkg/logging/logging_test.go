package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter("info", "json", &buf)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("command finished", zap.String("problem_id", "p1"), zap.Int("exit_code", 0))
	require.NoError(t, logger.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "command finished", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "p1", entry["problem_id"])
	assert.Contains(t, entry, "ts")
	assert.NotContains(t, buf.String(), "hidden")
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter("warning", "console", &buf)
	require.NoError(t, err)
	logger.Info("skipped")
	logger.Warn("dangerous command blocked")
	assert.Contains(t, buf.String(), "WARN")
	assert.Contains(t, buf.String(), "dangerous command blocked")
	assert.NotContains(t, buf.String(), "skipped")
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New("loud", "json")
	assert.ErrorContains(t, err, "invalid log level")
	_, err = New("info", "xml")
	assert.ErrorContains(t, err, "invalid log format")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"":      zapcore.WarnLevel,
		"debug": zapcore.DebugLevel,
		"INFO":  zapcore.InfoLevel,
		"error": zapcore.ErrorLevel,
		"quiet": zapcore.FatalLevel,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestNewObserved(t *testing.T) {
	logger, logs := NewObserved(zapcore.InfoLevel)
	logger.Debug("no")
	logger.Info("yes", zap.String("k", "v"))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "v", logs.All()[0].ContextMap()["k"])
}
