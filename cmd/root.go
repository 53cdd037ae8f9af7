// Package cmd defines and implements the CLI commands for the keyword-watcher
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-watcher/internal/app"
	"github.com/JakeFAU/keyword-watcher/internal/config"
	"github.com/JakeFAU/keyword-watcher/internal/controller"
	"github.com/JakeFAU/keyword-watcher/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	Controller() *controller.Controller
	Handler() http.Handler
	Seed(ctx context.Context) error
}

// newApp is the application factory. It is a variable so tests can swap in
// an in-memory container.
var newApp = func(ctx context.Context, cfgPath string, serving bool) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, logger, app.Options{Serving: serving})
	if err != nil {
		return nil, err
	}
	return a, nil
}

type rootOptions struct {
	cfgFile string
	target  string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "keyword-watcher",
		Short: "Watches web pages and alerts when a keyword appears.",
		Long: `keyword-watcher periodically fetches a page, looks for a keyword in its
paragraphs and raises an alert the first time it shows up in a tick.

Run "serve" to keep schedules armed; the other commands change or inspect
the shared control store and exit.`,
		SilenceUsage: true,

		// Build the application once flags are parsed and before RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), opts.cfgFile, cmd.Name() == "serve")
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default searches ./config.yaml, /etc/keyword-watcher, $HOME/.keyword-watcher)")
	cmd.PersistentFlags().StringVar(&opts.target, "target", "default", "target ID to act on")

	cmd.AddCommand(
		newServeCmd(),
		newStartCmd(opts),
		newStopCmd(opts),
		newStatusCmd(opts),
		newCheckCmd(opts),
	)
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
