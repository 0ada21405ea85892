package cli

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"courier/cmd/identity/ids"
	"courier/cmd/internal/app"
	"courier/cmd/internal/auth/token"

	"github.com/spf13/cobra"
)

type tokenOptions struct {
	id    string
	name  string
	email string
}

func newTokenCommand(opts *rootOptions) *cobra.Command {
	topts := &tokenOptions{}

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer credential signed with COURIER_JWT_SECRET.",
		Long: `Mint a bearer credential for local testing.

The websocket URL printed below carries the credential in the token query
parameter, so it can be pasted into a websocket client directly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig(opts.envFile)
			if err != nil {
				return err
			}
			mgr, err := token.NewManager(cfg.TokenConfig())
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			id := strings.TrimSpace(topts.id)
			if id == "" {
				if id, err = ids.NewULID(now); err != nil {
					return err
				}
			}

			raw, exp, err := mgr.Issue(token.Identity{ID: id, Name: topts.name, Email: topts.email}, now)
			if err != nil {
				return fmt.Errorf("issue credential for %q: %w", id, err)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "id:      %s\n", id)
			_, _ = fmt.Fprintf(out, "expires: %s\n", exp.Format(time.RFC3339))
			_, _ = fmt.Fprintf(out, "token:   %s\n", raw)
			_, _ = fmt.Fprintf(out, "ws:      %s?token=%s\n", cfg.WebSocketURL(), url.QueryEscape(raw))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&topts.id, "id", "", "identity id (ULID); a new one is generated when empty")
	f.StringVar(&topts.name, "name", "", "display name claim")
	f.StringVar(&topts.email, "email", "", "email claim")
	return cmd
}
