package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/scheduled-scraper/internal/api"
)

const shutdownGrace = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve invocations over HTTP",
		Long: `Starts an HTTP server on server.port. POST /invoke runs one invocation; only
one runs at a time and overlapping requests get 409. GET /healthz, GET /readyz
and GET /metrics support probes and scraping. SIGINT or SIGTERM drains the server.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			server := api.NewServer(a.Runner, a.Checker, a.Metrics, a.Logger.Named("api"))
			addr := fmt.Sprintf(":%d", a.Settings.Server.Port)
			return api.Serve(cmd.Context(), addr, server.Handler(), shutdownGrace, a.Logger)
		},
	}
}
