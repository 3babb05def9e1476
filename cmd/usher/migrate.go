// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/usherauth/usher/internal/store"
)

// Migrator is the part of store.Migrator the migrate commands drive.
type Migrator interface {
	Up() error
	Down() error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	PendingMigrations() ([]uint, error)
	Close() error
}

// migratorFactory is replaced in tests.
var migratorFactory = func(databaseURL string) (Migrator, error) {
	return store.NewMigrator(databaseURL)
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
		Long: `Apply, roll back, or inspect the PostgreSQL schema migrations
embedded in the binary.`,
	}
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL URL (default: $DATABASE_URL)")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			cmd.Println("Running migrations...")
			if err := m.Up(); err != nil {
				return err
			}
			cmd.Println("Migrations completed successfully")
			return nil
		}),
	})

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back every migration (drops all account data)",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				return oops.Code("CONFIRMATION_REQUIRED").Errorf("refusing to drop the schema without --yes")
			}
			if err := m.Down(); err != nil {
				return err
			}
			cmd.Println("All migrations rolled back")
			return nil
		}),
	}
	down.Flags().Bool("yes", false, "confirm dropping all account data")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, _ []string) error {
			version, dirty, err := m.Version()
			if err != nil {
				return err
			}
			pending, err := m.PendingMigrations()
			if err != nil {
				return err
			}
			cmd.Println(formatVersion(version, dirty, pending))
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations",
		Long: `Set the recorded schema version and clear the dirty flag. Use
only after repairing a failed migration by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: withMigrator(func(cmd *cobra.Command, m Migrator, args []string) error {
			version, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			if err := m.Force(version); err != nil {
				return err
			}
			cmd.Printf("Forced schema version to %d\n", version)
			return nil
		}),
	})

	return cmd
}

func withMigrator(run func(cmd *cobra.Command, m Migrator, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		databaseURL, err := requireDatabaseURL(cfg.DatabaseURL)
		if err != nil {
			return err
		}

		m, err := migratorFactory(databaseURL)
		if err != nil {
			return err
		}
		defer func() { _ = m.Close() }()

		return run(cmd, m, args)
	}
}

func requireDatabaseURL(url string) (string, error) {
	if url == "" {
		return "", oops.Code("CONFIG_INVALID").Errorf("database URL is required (--database-url, config file, or DATABASE_URL)")
	}
	return url, nil
}

// parseForceVersion reads a leading integer from s.
func parseForceVersion(s string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &version); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Wrap(err)
	}
	return version, nil
}

func formatVersion(version uint, dirty bool, pending []uint) string {
	var b strings.Builder
	fmt.Fprintf(&b, "version: %d", version)
	if dirty {
		b.WriteString(" (dirty)")
	}
	if len(pending) == 0 {
		b.WriteString("\npending: none")
		return b.String()
	}
	b.WriteString("\npending:")
	for _, v := range pending {
		name, err := store.MigrationName(v)
		if err != nil || name == "" {
			name = fmt.Sprintf("%06d", v)
		}
		fmt.Fprintf(&b, "\n  %s", name)
	}
	return b.String()
}
