package cli

import (
	"courier/cmd/internal/app"

	"github.com/spf13/cobra"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig(opts.envFile)
			if err != nil {
				return err
			}
			log := app.NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)
			return app.Serve(cmd.Context(), cfg, log)
		},
	}
}
