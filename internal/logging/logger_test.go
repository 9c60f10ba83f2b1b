package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel(" DEBUG "))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "taxi-api", "warn")
	logger.Info("dropped")
	logger.Warn("offer not delivered", "order_id", "o1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line), "only the warn line is written")
	assert.Equal(t, "offer not delivered", line["msg"])
	assert.Equal(t, "taxi-api", line["service"])
	assert.Equal(t, "o1", line["order_id"])
	assert.Contains(t, line, "source")
}
