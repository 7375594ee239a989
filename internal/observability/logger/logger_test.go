package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "info", Format: "json", Output: &buf, DisableOTel: true})

	l.Debug("hidden")
	l.Info("tool call", Agent("acct-bot"), Tool("get_records"), Token("sess_abcdefghijkl"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "tool call", line["msg"])
	assert.Equal(t, "acct-bot", line["agent"])
	assert.Equal(t, "get_records", line["tool"])
	assert.Equal(t, "ses...jkl", line["token"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestFanoutHandler_HonoursLevels(t *testing.T) {
	var debugBuf, errBuf bytes.Buffer
	h := NewFanoutHandler(
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&errBuf, &slog.HandlerOptions{Level: slog.LevelError}),
	)

	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))
	slog.New(h).Info("hello")

	assert.Contains(t, debugBuf.String(), "hello")
	assert.Empty(t, errBuf.String())
}
