package app

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/gookit/color"
	"github.com/stretchr/testify/require"
)

func TestPrettyHandler_PlainLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false))

	log.With("conn_id", "c-1").Info("http.request",
		"method", "get",
		"path", "/ws",
		"status", 101,
		"duration_ms", 12,
		"err", errors.New("boom happened"),
	)

	line := buf.String()
	require.True(t, strings.HasSuffix(line, "\n"))
	require.Contains(t, line, "[INFO] http.request")
	require.Contains(t, line, "conn_id=c-1")
	require.Contains(t, line, "method=GET")
	require.Contains(t, line, "path=/ws")
	require.Contains(t, line, "status=101")
	require.Contains(t, line, "duration=12ms")
	require.Contains(t, line, `err="boom happened"`)
	require.NotContains(t, line, "\x1b[")
}

func TestPrettyHandler_LevelsAndGroups(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false))

	log.Info("dropped")
	require.Empty(t, buf.String())

	log.WithGroup("ws").Warn("ws.ping.fail", slog.Group("peer", "id", "u1"), "failures", 2)
	require.Contains(t, buf.String(), "[WARN] ws.ping.fail")
	require.Contains(t, buf.String(), "ws.peer.id=u1")
	require.Contains(t, buf.String(), "ws.failures=2")

	buf.Reset()
	log.Error("boom")
	require.Contains(t, buf.String(), "[ERROR] boom")
}

func TestPrettyHandler_ColorStripsToPlain(t *testing.T) {
	t.Parallel()

	var plain, colored bytes.Buffer
	slog.New(newPrettyHandler(&plain, nil, false)).Info("delivery.send.ok", "status", 200)
	slog.New(newPrettyHandler(&colored, nil, true)).Info("delivery.send.ok", "status", 200)

	// Timestamps differ; compare everything after them.
	strip := func(s string) string {
		s = color.ClearCode(s)
		return s[strings.Index(s, "["):]
	}
	require.Equal(t, strip(plain.String()), strip(colored.String()))
}

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	require.Equal(t, `""`, quoteIfNeeded(""))
	require.Equal(t, "plain", quoteIfNeeded("plain"))
	require.Equal(t, `"a b"`, quoteIfNeeded("a b"))
	require.Equal(t, `"k=v"`, quoteIfNeeded("k=v"))
}
