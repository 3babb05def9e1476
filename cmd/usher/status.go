// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/usherauth/usher/internal/config"
	"github.com/usherauth/usher/internal/control"
)

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput bool
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the health of a running Usher server",
		Long:  `Query the control gRPC health service of a running server.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().String("control-addr", config.Default().ControlAddr, "control gRPC address of the server")

	return cmd
}

func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	settings, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Query failures are part of the report.
	status, _ := control.QueryStatus(commandContext(cmd), settings.ControlAddr) //nolint:errcheck

	if cfg.jsonOutput {
		output, err := formatStatusJSON(status)
		if err != nil {
			return err
		}
		cmd.Println(output)
		return nil
	}

	cmd.Print(formatStatusTable(status))
	return nil
}

// formatStatusTable formats the status as a human-readable table.
func formatStatusTable(status control.Status) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "SERVICE\tADDRESS\tHEALTH\tDETAIL")
	detail := "-"
	if status.Error != "" {
		detail = status.Error
	}
	_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", status.Service, status.Addr, status.Health, detail)

	_ = w.Flush()
	return buf.String()
}

// formatStatusJSON formats the status as JSON.
func formatStatusJSON(status control.Status) (string, error) {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return "", oops.With("operation", "marshal status").Wrap(err)
	}
	return string(data), nil
}
