// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/usherauth/usher/internal/config"
	"github.com/usherauth/usher/internal/xdg"
)

// NewConfigCmd creates the config subcommand.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := config.GenerateSchema()
			if err != nil {
				return err
			}
			cmd.Println(string(schema))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the config file and resolved settings",
		Long: `Load the config file named by --config (or the XDG default), check
it against the schema, and validate the resolved settings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			cmd.Printf("Configuration OK (store %s, hasher %s)\n", cfg.Store, cfg.Hasher)
			return nil
		},
	})

	cmd.AddCommand(newConfigInitCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Long: `Write the default settings to the file named by --config, or to
XDG_CONFIG_HOME/usher/config.yaml. An existing file is kept unless --force
is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := configInitPath()
			if err != nil {
				return err
			}
			return writeDefaultConfig(cmd, path, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configInitPath() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	dir, err := xdg.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, xdg.ConfigFileName), nil
}

func writeDefaultConfig(cmd *cobra.Command, path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return oops.Code("CONFIG_EXISTS").
			With("path", path).
			Errorf("config file already exists (use --force to overwrite)")
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}

	data, err := config.Default().EncodeYAML()
	if err != nil {
		return err
	}
	if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return oops.Code("CONFIG_WRITE_FAILED").With("path", path).Wrap(err)
	}
	cmd.Printf("Wrote %s\n", path)
	return nil
}
