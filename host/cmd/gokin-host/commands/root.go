// Package commands implements the gokin-host command line
package commands

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"gokin/machine/config"
)

// options is the state shared by every subcommand
type options struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

// Execute runs the root command
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "gokin-host",
		Short:        "Kinematics and homing controller for linear and arm machines",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath, cmd.Flags())
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg.Host.LogLevel)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.logger = logger
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "machine config file (YAML)")
	root.PersistentFlags().String("kinematics", "linear", "built-in machine when no config file is given (linear, multilink, twolink)")
	root.PersistentFlags().String("protocol", "bulk", "homing protocol (bulk, manual)")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd(opts), checkConfigCmd(opts), solveCmd(opts))
	return root
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
