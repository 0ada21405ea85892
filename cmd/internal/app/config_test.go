package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("COURIER_JWT_SECRET", testSecret)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr)
	require.Equal(t, StoreMemory, cfg.Store)
	require.Equal(t, 5*time.Second, cfg.StoreTimeout)
	require.Equal(t, 5000, cfg.MaxMessageChars)
	require.True(t, cfg.SeenReceiptsOnRead)
	require.True(t, cfg.WSOriginRequired)
	require.Equal(t, []string{"http://localhost", "http://127.0.0.1"}, cfg.WSAllowedOrigins)
	require.Equal(t, "courier", cfg.NATSSubjectPrefix)
	require.Equal(t, 24*time.Hour, cfg.JWTTTL)
	require.Equal(t, 3*time.Second, cfg.DBPingTimeout)
	require.False(t, cfg.EventsLog)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("COURIER_JWT_SECRET", testSecret)
	t.Setenv("COURIER_HTTP_ADDR", "127.0.0.1:9090")
	t.Setenv("COURIER_STORE", " Badger ")
	t.Setenv("COURIER_BADGER_PATH", "/var/lib/courier")
	t.Setenv("COURIER_WS_ALLOWED_ORIGINS", "https://a.example.test, https://b.example.test,,")
	t.Setenv("COURIER_WS_RATE_WINDOW", "3s")
	t.Setenv("COURIER_SEEN_RECEIPTS_ON_READ", "false")
	t.Setenv("COURIER_MAX_MESSAGE_CHARS", "280")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:9090", cfg.HTTPAddr)
	require.Equal(t, StoreBadger, cfg.Store)
	require.Equal(t, "/var/lib/courier", cfg.BadgerPath)
	require.Equal(t, []string{"https://a.example.test", "https://b.example.test"}, cfg.WSAllowedOrigins)
	require.Equal(t, 3*time.Second, cfg.WSRateWindow)
	require.False(t, cfg.SeenReceiptsOnRead)
	require.Equal(t, 280, cfg.MaxMessageChars)

	gw := cfg.GatewayConfig()
	require.Equal(t, cfg.WSAllowedOrigins, gw.AllowedOrigins)
	require.Equal(t, 3*time.Second, gw.RateWindow)

	tc := cfg.TokenConfig()
	require.Equal(t, testSecret, tc.Secret)
	require.NoError(t, tc.Validate())
}

func TestLoadConfig_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"COURIER_JWT_SECRET="+testSecret+"\n"+
			"COURIER_HTTP_ADDR=127.0.0.1:7000\n"+
			"COURIER_LOG_FORMAT=pretty\n",
	), 0o600))

	// The environment wins over the file.
	t.Setenv("COURIER_HTTP_ADDR", "127.0.0.1:7001")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, testSecret, cfg.JWTSecret)
	require.Equal(t, "127.0.0.1:7001", cfg.HTTPAddr)
	require.Equal(t, "pretty", cfg.LogFormat)
}

func TestLoadConfig_MissingEnvFileIsIgnored(t *testing.T) {
	t.Setenv("COURIER_JWT_SECRET", testSecret)

	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
}

func TestLoadConfig_ValidationNamesEnvKeys(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want []string
	}{
		{
			name: "missing secret",
			env:  map[string]string{"COURIER_JWT_SECRET": ""},
			want: []string{"COURIER_JWT_SECRET"},
		},
		{
			name: "short secret",
			env:  map[string]string{"COURIER_JWT_SECRET": "short"},
			want: []string{`COURIER_JWT_SECRET failed "min"`},
		},
		{
			name: "postgres without url",
			env:  map[string]string{"COURIER_JWT_SECRET": testSecret, "COURIER_STORE": "postgres"},
			want: []string{`COURIER_DATABASE_URL failed "required_if"`},
		},
		{
			name: "unknown store and format",
			env:  map[string]string{"COURIER_JWT_SECRET": testSecret, "COURIER_STORE": "mongo", "COURIER_LOG_FORMAT": "xml"},
			want: []string{"COURIER_STORE", "COURIER_LOG_FORMAT"},
		},
		{
			name: "message limit above ceiling",
			env:  map[string]string{"COURIER_JWT_SECRET": testSecret, "COURIER_MAX_MESSAGE_CHARS": "5001"},
			want: []string{`COURIER_MAX_MESSAGE_CHARS failed "max"`},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig("")
			require.Error(t, err)
			for _, w := range tc.want {
				require.Contains(t, err.Error(), w)
			}
		})
	}
}

func TestLoadRawConfig_SkipsValidation(t *testing.T) {
	t.Setenv("COURIER_JWT_SECRET", "")
	t.Setenv("COURIER_DATABASE_URL", " postgres://localhost/courier ")

	cfg, err := LoadRawConfig("")
	require.NoError(t, err)
	require.Equal(t, "postgres://localhost/courier", cfg.DatabaseURL)
}
