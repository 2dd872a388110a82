package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd() *cobra.Command {
	var trigger string
	var printReport bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one invocation and exit",
		Long: `Runs a single scrape-and-verify invocation. The process exits non-zero when
the page cannot be fetched, or when the database check fails and
job.fail_on_database_error is set. Metrics are pushed to the Pushgateway when
metrics.push_gateway_url is configured.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !json.Valid([]byte(trigger)) {
				return fmt.Errorf("--trigger is not valid JSON")
			}
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			report, runErr := a.Runner.Handle(cmd.Context(), json.RawMessage(trigger))

			if err := a.Flush(cmd.Context()); err != nil {
				a.Logger.Warn("Flushing traces failed", zap.Error(err))
			}
			if err := a.Metrics.Push(cmd.Context(), a.Settings.Metrics.PushGatewayURL, a.Settings.Telemetry.ServiceName); err != nil {
				a.Logger.Warn("Pushing metrics failed", zap.Error(err))
			}
			if printReport {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return fmt.Errorf("print report: %w", err)
				}
			}
			if runErr != nil {
				return fmt.Errorf("invocation %s failed: %w", report.RunID, runErr)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&trigger, "trigger", "{}", "JSON trigger payload passed to the invocation")
	cmd.Flags().BoolVar(&printReport, "print", false, "write the run report to stdout as JSON")
	return cmd
}
