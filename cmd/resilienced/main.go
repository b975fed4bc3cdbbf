// Command resilienced serves wellness data sources through retries, circuit
// breakers and request deduplication.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/angeloszaimis/resilience/config"
	"github.com/angeloszaimis/resilience/pkg/logger"
)

// Exit codes
const (
	ExitSuccess      = 0
	ExitConfigError  = 1
	ExitRuntimeError = 3
)

// Set via ldflags during build
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}
		os.Exit(ExitRuntimeError)
	}
}

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func newRootCmd() *cobra.Command {
	var configPath, logLevel string

	root := &cobra.Command{
		Use:           "resilienced",
		Short:         "Resilient gateway to wellness data sources",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the config file (default: ./config/config.yaml or ./config.yaml)")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, configPath, logLevel)
		},
	}
	serve.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		Long: `Load the configuration from file and environment and validate it.

Exit codes:
  0 - Configuration is valid
  1 - Configuration is missing or invalid`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd, configPath)
		},
	}

	root.AddCommand(serve, validate)
	return root
}

func runValidate(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "✗ %v\n", err)
		return &exitError{code: ExitConfigError, err: err}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Configuration is valid (%d upstreams, environment %s)\n",
		len(cfg.Upstreams), cfg.Server.Environment)
	return nil
}

func runServe(cmd *cobra.Command, configPath, logLevel string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("Failed to load config", slog.Any("err", err))
		return &exitError{code: ExitConfigError, err: err}
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	log := logger.NewWithWriter(cmd.OutOrStdout(), cfg.Logging.Level, cfg.Logging.AddSource, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize", slog.Any("err", err))
		return &exitError{code: ExitRuntimeError, err: err}
	}

	if err := a.run(ctx); err != nil {
		log.Error("Gateway stopped with error", slog.Any("err", err))
		return &exitError{code: ExitRuntimeError, err: err}
	}
	return nil
}
