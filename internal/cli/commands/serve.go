package commands

import (
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/specpipe/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Start the HTTP API.

Endpoints:
  POST /v1/spec      requirements document -> pipeline spec
  POST /v1/compile   pipeline spec -> SQL models and manifest
  POST /v1/tests     pipeline spec -> SQL test scripts and results
  GET  /v1/platforms registered platforms
  GET  /healthz      liveness

The server stops gracefully on interrupt.`,
		Example: `  specpipe serve --addr :8080 --platform dbt`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd)
			defer stop()

			srv := server.New(server.Config{
				Engine: cmdCtx.Engine,
				Addr:   cmdCtx.Cfg.Serve.Addr,
				Logger: cmdCtx.Logger,
			})
			return srv.Serve(ctx)
		},
	}
	cmd.Flags().String("addr", "", "Listen address (default 127.0.0.1:8080)")
	return cmd
}
