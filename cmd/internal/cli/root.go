// Package cli holds the courier command tree: serve, migrate, and token.
package cli

import (
	"context"

	"github.com/spf13/cobra"
)

const defaultEnvFile = ".env"

type rootOptions struct {
	envFile string
}

// NewRootCommand builds a fresh command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "courier",
		Short: "Real-time presence and one-to-one message delivery server.",
		Long: `Courier keeps one live websocket session per identity, broadcasts who is online,
and delivers direct messages through sent, delivered and seen.

  courier serve              run the HTTP and websocket server
  courier migrate up|down    apply or roll back the postgres schema
  courier token --id <ulid>  mint a development bearer credential

Configuration comes from COURIER_* environment variables and an optional .env file.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", defaultEnvFile, "optional dotenv file read before the environment")

	root.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newTokenCommand(opts),
	)
	return root
}

// Execute runs the command tree with ctx and the process arguments.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}
