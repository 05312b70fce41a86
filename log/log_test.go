package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloudLoggingHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCloudLoggingHandler(&buf, slog.LevelInfo)).
		With(slog.String("userID", "u1"))

	ctx := WithTraceID(context.Background(), "projects/p/traces/abc")
	logger.DebugContext(ctx, "dropped")
	logger.WarnContext(ctx, "summary write failed", slog.String(ErrorMsgLogField, "boom"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, "WARNING", got["severity"])
	assert.Equal(t, "summary write failed", got["message"])
	assert.Equal(t, "u1", got["userID"])
	assert.Equal(t, "boom", got[ErrorMsgLogField])
	assert.Equal(t, "projects/p/traces/abc", got[traceLogField])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{input: "debug", expected: slog.LevelDebug},
		{input: "WARNING", expected: slog.LevelWarn},
		{input: "warn", expected: slog.LevelWarn},
		{input: " error ", expected: slog.LevelError},
		{input: "", expected: slog.LevelInfo},
		{input: "verbose", expected: slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCloudLoggingHandler(&buf, slog.LevelDebug))
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, LoggerFromContext(ctx))
	assert.NotNil(t, LoggerFromContext(context.Background()))
}
