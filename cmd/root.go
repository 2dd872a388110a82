// Package cmd defines the CLI of the scheduled scraper.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/scheduled-scraper/internal/app"
	"github.com/JakeFAU/scheduled-scraper/internal/config"
)

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. Tests replace it to inject fakes.
var newApp = func(ctx context.Context, s config.Settings) (*app.App, error) {
	return app.New(ctx, s)
}

type rootFlags struct {
	cfgFile  string
	envFiles []string
}

// newRootCmd creates the root command. The returned closer releases the app the
// command built, whether or not the subcommand succeeded.
func newRootCmd() (*cobra.Command, func()) {
	var flags rootFlags
	var instance *app.App
	closeApp := func() {
		if instance != nil {
			instance.Close()
			instance = nil
		}
	}

	cmd := &cobra.Command{
		Use:   "scraper",
		Short: "Fetch a page in a headless browser and verify database reachability.",
		Long: `scraper is a scheduled job. Each invocation renders the configured URL in
headless Chrome, logs an excerpt of the page text, and then checks that the
configured PostgreSQL database accepts connections.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := config.Load(flags.cfgFile, flags.envFiles...)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			instance, err = newApp(cmd.Context(), settings)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			zap.ReplaceGlobals(instance.Logger)
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, instance))
			return nil
		},

		PersistentPostRun: func(*cobra.Command, []string) {
			closeApp()
		},
	}

	cmd.PersistentFlags().StringVar(&flags.cfgFile, "config", "", "optional YAML config file")
	cmd.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", []string{".env"},
		"dotenv files loaded before reading the environment (missing files are ignored)")

	cmd.AddCommand(newRunCmd(), newLambdaCmd(), newServeCmd())
	return cmd, closeApp
}

func resolveApp(ctx context.Context) (*app.App, error) {
	instance, ok := ctx.Value(appKey).(*app.App)
	if !ok || instance == nil {
		return nil, errors.New("application services not initialized")
	}
	return instance, nil
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cmd, closeApp := newRootCmd()
	err := cmd.ExecuteContext(ctx)
	closeApp()
	stop()
	if err != nil {
		os.Exit(1)
	}
}
