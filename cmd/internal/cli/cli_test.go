package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"courier/cmd/identity/ids"
	"courier/cmd/internal/app"
	"courier/cmd/internal/auth/token"

	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	// Keep tests hermetic: never read a developer's .env.
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "none.env")))
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func fields(out string) map[string]string {
	m := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		k, v, ok := strings.Cut(line, ":")
		if ok {
			m[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return m
}

func TestRootCommand_Subcommands(t *testing.T) {
	t.Parallel()

	root := NewRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	require.Subset(t, names, []string{"serve", "migrate", "token"})
	require.Equal(t, defaultEnvFile, root.PersistentFlags().Lookup("env-file").DefValue)
}

func TestTokenCommand_MintsVerifiableCredential(t *testing.T) {
	t.Setenv("COURIER_JWT_SECRET", testSecret)
	t.Setenv("COURIER_HTTP_ADDR", "0.0.0.0:8080")

	id := ids.MustNewULID(time.Now())
	out, err := run(t, "token", "--id", id, "--name", "Ada", "--email", "ada@example.test")
	require.NoError(t, err)

	f := fields(out)
	require.Equal(t, id, f["id"])
	require.True(t, strings.HasPrefix(f["ws"], "ws://127.0.0.1:8080/ws?token="))

	cfg, err := app.LoadConfig("")
	require.NoError(t, err)
	mgr, err := token.NewManager(cfg.TokenConfig())
	require.NoError(t, err)

	ident, err := mgr.Verify(t.Context(), f["token"])
	require.NoError(t, err)
	require.Equal(t, token.Identity{ID: id, Name: "Ada", Email: "ada@example.test"}, ident)
}

func TestTokenCommand_GeneratesID(t *testing.T) {
	t.Setenv("COURIER_JWT_SECRET", testSecret)

	out, err := run(t, "token")
	require.NoError(t, err)
	require.True(t, ids.Valid(fields(out)["id"]))
}

func TestTokenCommand_RejectsInvalidID(t *testing.T) {
	t.Setenv("COURIER_JWT_SECRET", testSecret)

	_, err := run(t, "token", "--id", "not-a-ulid")
	require.ErrorIs(t, err, token.ErrInvalidToken)
}

func TestTokenCommand_RequiresSecret(t *testing.T) {
	t.Setenv("COURIER_JWT_SECRET", "")

	_, err := run(t, "token")
	require.ErrorContains(t, err, "COURIER_JWT_SECRET")
}

func TestMigrateCommand_Validation(t *testing.T) {
	t.Setenv("COURIER_DATABASE_URL", "")

	_, err := run(t, "migrate", "sideways")
	require.ErrorContains(t, err, "direction must be up or down")

	_, err = run(t, "migrate", "up")
	require.ErrorContains(t, err, "database url required")

	_, err = run(t, "migrate")
	require.Error(t, err)
}
