package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonLogger(level LogLevel) (*LonaLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger := NewLogger(&LoggerConfig{
		Level:  level,
		Format: "json",
		Output: buf,
	})
	return logger, buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	return record
}

func TestLoggerLevels(t *testing.T) {
	t.Run("debug suppressed at info level", func(t *testing.T) {
		logger, buf := jsonLogger(LevelInfo)

		logger.Debug(context.Background(), "noise")
		assert.Zero(t, buf.Len())

		logger.Info(context.Background(), "signal")
		assert.NotZero(t, buf.Len())
	})

	t.Run("error carries the error field", func(t *testing.T) {
		logger, buf := jsonLogger(LevelError)

		logger.Error(context.Background(), errors.New("boom"), "handler failed")

		record := decodeLine(t, buf)
		assert.Equal(t, "handler failed", record["msg"])
		assert.Equal(t, "boom", record["error"])
	})

	t.Run("fatal logs even above error level", func(t *testing.T) {
		logger, buf := jsonLogger(LevelFatal)

		logger.Fatal(context.Background(), errors.New("dead"), "unrecoverable")
		assert.NotZero(t, buf.Len())
	})
}

func TestLoggerWith(t *testing.T) {
	t.Run("persistent fields survive", func(t *testing.T) {
		logger, buf := jsonLogger(LevelInfo)

		child := logger.With("view", "/hello", "user", "alice")
		child.Info(context.Background(), "view started")

		record := decodeLine(t, buf)
		assert.Equal(t, "/hello", record["view"])
		assert.Equal(t, "alice", record["user"])
	})

	t.Run("component scoping", func(t *testing.T) {
		logger, buf := jsonLogger(LevelInfo)

		logger.WithComponent("controller").Info(context.Background(), "dispatch")

		record := decodeLine(t, buf)
		assert.Equal(t, "controller", record["component"])
	})

	t.Run("odd field count does not panic", func(t *testing.T) {
		logger, buf := jsonLogger(LevelInfo)

		logger.Info(context.Background(), "lopsided", "key_without_value")

		record := decodeLine(t, buf)
		assert.Equal(t, "lopsided", record["msg"])
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"fatal", LevelFatal},
		{"", LevelInfo},
		{"bogus", LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "input %q", tt.input)
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()

	// Must swallow everything without output or panic.
	logger.Debug(context.Background(), "gone")
	logger.Error(context.Background(), errors.New("gone"), "gone")
	logger.With("k", "v").WithComponent("x").Info(context.Background(), "gone")
}
