package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/irfndi/celebrum-forecast/internal/config"
	"github.com/irfndi/celebrum-forecast/internal/logging"
	"github.com/irfndi/celebrum-forecast/internal/telemetry"
)

// rootOptions are shared by every subcommand
type rootOptions struct {
	logLevel string
	// loadConfig is replaced in tests
	loadConfig func() (*config.Config, error)
}

func (o *rootOptions) setup(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	level := cfg.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	logger := logging.NewWithWriter(cmd.ErrOrStderr(), level, cfg.Environment)
	return cfg, logger, nil
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(&rootOptions{loadConfig: config.Load})
}

func newRootCmdWith(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "forecast",
		Short:         "Adaptive multi-model revenue forecasting",
		Long:          `Runs the eight-model adaptive ensemble on a transaction history and manages its supporting data.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newWeatherCmd(opts))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", telemetry.ServiceName, telemetry.ServiceVersion)
		},
	})
	return root
}
