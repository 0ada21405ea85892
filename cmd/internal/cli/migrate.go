package cli

import (
	"errors"
	"fmt"
	"strings"

	"courier/cmd/internal/app"
	"courier/cmd/internal/db/migrate"

	"github.com/spf13/cobra"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:       "migrate up|down",
		Short:     "Apply or roll back the embedded postgres migrations.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(migrate.Up), string(migrate.Down)},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction, err := migrate.ParseDirection(strings.ToLower(args[0]))
			if err != nil {
				return err
			}

			dsn := strings.TrimSpace(databaseURL)
			if dsn == "" {
				cfg, err := app.LoadRawConfig(opts.envFile)
				if err != nil {
					return err
				}
				dsn = cfg.DatabaseURL
			}
			if dsn == "" {
				return errors.New("database url required: set COURIER_DATABASE_URL or --database-url")
			}

			if err := migrate.Run(dsn, direction); err != nil {
				return fmt.Errorf("migrate %s: %w", direction, err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "migrate %s: ok\n", direction)
			return nil
		},
	}
	cmd.Flags().StringVar(&databaseURL, "database-url", "", "postgres DSN (defaults to COURIER_DATABASE_URL)")
	return cmd
}
