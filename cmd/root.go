// Package cmd defines and implements the CLI commands for the feeddigest executable.
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

	"github.com/JakeFAU/feeddigest/internal/app"
	"github.com/JakeFAU/feeddigest/internal/config"
	"github.com/JakeFAU/feeddigest/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. Tests replace it to inject options.
var newApp = func(ctx context.Context, cfg config.Config) (*app.App, error) {
	return app.NewApp(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feeddigest",
		Short: "Fetches RSS and Atom feeds and forwards what is new.",
		Long: `feeddigest pulls a curated list of RSS 2.0 and Atom 1.0 feeds,
normalizes their entries, and keeps only recent items it has not seen before.

The fetch stage writes raw-items.json and updates per-feed health. The filter
stage reads that artifact, drops stale and already-seen items, writes
filtered-items.json and optionally publishes it to Pub/Sub.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*app.App); ok {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().String("config", "", "config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().String("category", "", "only process categories whose id or name contains this text")

	cmd.AddCommand(newFetchCmd(), newFilterCmd(), newRunCmd())
	return cmd
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the run; work
// already finished is still persisted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		logger, lerr := logging.New(logging.Config{})
		if lerr != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		logger.Fatal("Command execution failed", zap.Error(err))
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// categoryFilter prefers the flag and falls back to the first positional argument.
func categoryFilter(cmd *cobra.Command, args []string) string {
	if c, _ := cmd.Flags().GetString("category"); c != "" {
		return c
	}
	if len(args) > 0 {
		return args[0]
	}
	return ""
}
