package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/caseimport/internal/config"
	"github.com/JonMunkholm/caseimport/internal/core"
	_ "github.com/JonMunkholm/caseimport/internal/core/entities" // Register all entities
	"github.com/JonMunkholm/caseimport/internal/logging"
)

type rootOptions struct {
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	var opts rootOptions

	cmd := &cobra.Command{
		Use:           "caseimport",
		Short:         "Bulk import of case-management records from CSV and Excel files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (default: LOG_LEVEL)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format: text or json (default: LOG_FORMAT)")

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return withCode(exitUsage, err)
	})

	cmd.AddCommand(newRunCmd(&opts))
	cmd.AddCommand(newEntitiesCmd())
	cmd.AddCommand(newTemplateCmd())
	cmd.AddCommand(newValidateCmd(&opts))
	return cmd
}

func Execute() {
	// A missing .env is normal; explicit environment wins over the file.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(exitCode(err))
	}
}

// loadConfig reads the environment configuration and points logging at
// stderr so stdout stays free for reports.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Logging.Format = opts.logFormat
	}
	logging.SetupWriter(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

func loadRegistry() (*core.Registry, error) {
	registry, err := core.LoadRegistry()
	if err != nil {
		return nil, withCode(exitRegistry, err)
	}
	return registry, nil
}
