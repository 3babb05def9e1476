// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/usherauth/usher/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Usher CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usher",
		Short: "Usher - account registration and session service",
		Long: `Usher registers accounts, validates logins, and manages session
and password reset tokens over a small HTTP API.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/usher/config.yaml)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewAccountCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// loadConfig resolves settings for cmd from the config file and its flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(configFile, cmd.Flags())
}

// commandContext returns the command context, or Background when the
// command was not run through Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
