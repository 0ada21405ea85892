package app

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRuntimeBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "explicit localhost", in: "127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v4", in: "0.0.0.0:8080", want: "http://127.0.0.1:8080"},
		{name: "bind all v6", in: "[::]:9090", want: "http://127.0.0.1:9090"},
		{name: "ipv6 host", in: "[2001:db8::1]:9090", want: "http://[2001:db8::1]:9090"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := runtimeBaseURL(tc.in)
			if got != tc.want {
				t.Fatalf("runtimeBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestWSBaseURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
		{in: "https://chat.example.com", want: "wss://chat.example.com"},
		{in: "127.0.0.1:8080", want: "ws://127.0.0.1:8080"},
	}

	for _, tc := range cases {
		got := wsBaseURL(tc.in)
		if got != tc.want {
			t.Fatalf("wsBaseURL(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func testConfig(t *testing.T) Config {
	t.Helper()
	t.Setenv("COURIER_JWT_SECRET", testSecret)
	t.Setenv("COURIER_LOG_FORMAT", "json")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	return cfg
}

func newTestApp(t *testing.T, cfg Config) *App {
	t.Helper()
	a, err := New(t.Context(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })
	return a
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestApp_HealthReadyAndMetrics(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	h := a.Handler()

	rec := get(t, h, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok\n", rec.Body.String())
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = get(t, h, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ready\n", rec.Body.String())

	rec = get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "courier_realtime_sessions_active")
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestApp_ReadinessRequiresDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.ReadinessRequireDB = true
	a := newTestApp(t, cfg)

	rec := get(t, a.Handler(), "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestApp_RoutesRequireCredentials(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	h := a.Handler()

	for _, path := range []string{"/api/presence", "/api/messages/chats"} {
		rec := get(t, h, path)
		require.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "http://localhost")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestApp_BadgerStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store = StoreBadger
	cfg.BadgerPath = t.TempDir()

	a := newTestApp(t, cfg)
	require.Nil(t, a.dbPool)
	require.Equal(t, []string{"telemetry", "badger", "eventbus"}, closerNames(a))

	a.Close(context.Background())
	require.Empty(t, a.closers)
}

func TestApp_NewFailsOnUnreachableNATS(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store = StoreBadger
	cfg.BadgerPath = t.TempDir()
	cfg.NATSURL = "nats://127.0.0.1:1"

	_, err := New(t.Context(), cfg, slog.New(slog.DiscardHandler))
	require.Error(t, err)

	// The badger directory lock was released by the failed New.
	cfg.NATSURL = ""
	a := newTestApp(t, cfg)
	require.NotNil(t, a.engine)
}

func closerNames(a *App) []string {
	out := make([]string, 0, len(a.closers))
	for _, c := range a.closers {
		out = append(out, c.name)
	}
	return out
}

func TestApp_InProcessEventBusWithTap(t *testing.T) {
	cfg := testConfig(t)
	cfg.EventsLog = true

	a := newTestApp(t, cfg)
	require.Equal(t, []string{"telemetry", "eventbus", "eventbus.tap"}, closerNames(a))

	a.Close(context.Background())
	require.Empty(t, a.closers)
}

func TestConfig_WebSocketURL(t *testing.T) {
	t.Parallel()

	cfg := Config{HTTPAddr: "0.0.0.0:8080"}
	require.Equal(t, "ws://127.0.0.1:8080/ws", cfg.WebSocketURL())
}
