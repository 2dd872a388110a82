package cmd

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/scheduled-scraper/internal/app"
)

// lambdaStart hands the handler to the Lambda runtime. It never returns.
var lambdaStart = func(handler any) { lambda.Start(handler) }

func newLambdaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Serve invocations from the AWS Lambda runtime",
		Long: `Registers the invocation as an AWS Lambda handler. Settings are loaded once per
execution environment and reused across warm invocations. A failed invocation
returns an error so the platform records it as failed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			lambdaStart(lambdaHandler(a))
			return nil
		},
	}
}

func lambdaHandler(a *app.App) func(context.Context, json.RawMessage) error {
	return func(ctx context.Context, event json.RawMessage) error {
		_, err := a.Runner.Handle(ctx, event)
		if pushErr := a.Metrics.Push(ctx, a.Settings.Metrics.PushGatewayURL, a.Settings.Telemetry.ServiceName); pushErr != nil {
			a.Logger.Warn("Pushing metrics failed", zap.Error(pushErr))
		}
		return err
	}
}
