// Package cmd defines and implements the CLI commands for the blogscan executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/blogscan/internal/analyzer"
	"github.com/JakeFAU/blogscan/internal/api"
	"github.com/JakeFAU/blogscan/internal/app"
	"github.com/JakeFAU/blogscan/internal/batch"
	"github.com/JakeFAU/blogscan/internal/config"
	"github.com/JakeFAU/blogscan/internal/logging"
	"github.com/JakeFAU/blogscan/internal/progress"
	"github.com/JakeFAU/blogscan/internal/store"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Close()
	Config() config.Config
	Logger() *zap.Logger
	Discoverer() api.Discoverer
	Worker() batch.Worker[analyzer.PageAnalysis]
	Emitter() progress.Emitter
	ProgressReader() api.ProgressReader
	Recorder() api.Recorder
	History() store.BatchRepository
}

// newApp is the application factory. It's a variable so we can
// replace it with a fake factory in our tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.NewApp(ctx, cfg, logger, prometheus.DefaultRegisterer)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blogscan",
		Short: "Discover a site's published articles and analyze them concurrently.",
		Long: `blogscan locates the article URLs a site publishes, trying its XML
sitemaps first, then its RSS/Atom feeds, then human-facing HTML sitemap
pages. The discovered URLs can be analyzed under bounded concurrency, either
from the command line or through the HTTP API started by "serve".`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Load configuration, build the logger and inject the application
		// before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}

			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		// This hook ensures services are shut down gracefully.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML); env vars use the BLOGSCAN_ prefix")

	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newAnalyzeCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newHistoryCmd())

	return cmd
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command's
// context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
