// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package main

import (
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/propeval/propeval/internal/config"
	"github.com/propeval/propeval/internal/logging"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the propeval CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil)
}

func newRootCmd(deps *Deps) *cobra.Command {
	deps = deps.withDefaults()

	cmd := &cobra.Command{
		Use:   "propeval",
		Short: "propeval - dynamic property evaluator",
		Long: `propeval computes dynamic properties of laboratory entities.
Each dynamic property is calculated by a script (Lua, expression or a
predeployed calculator) that may read the entity's other properties and
those of its parents and children.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file path (default: $XDG_CONFIG_HOME/propeval/config.yaml)")
	flags.String("log-format", config.DefaultLogFormat, "log format (json or text)")
	flags.String("log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	flags.String("database-url", "", "PostgreSQL URL (default: $"+config.DatabaseURLEnv+")")

	cmd.AddCommand(newEvaluateCmd(deps))
	cmd.AddCommand(newEvalScriptCmd(deps))
	cmd.AddCommand(NewMigrateCmd(deps))
	cmd.AddCommand(newEnqueueCmd(deps))
	cmd.AddCommand(newRequestCmd(deps))
	cmd.AddCommand(newWorkerCmd(deps))
	cmd.AddCommand(newSchemaCmd())
	cmd.AddCommand(newCalculatorsCmd())

	return cmd
}

// setup loads the configuration and installs the process logger, which
// writes to the command's error stream.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(config.Options{Path: configFile, Flags: cmd.Flags()})
	if err != nil {
		return nil, nil, oops.With("operation", "load configuration").Wrap(err)
	}
	logger, err := logging.Setup("propeval", version, cfg.LogOptions(), cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, oops.With("operation", "set up logging").Wrap(err)
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}
