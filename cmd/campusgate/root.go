// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CampusGate Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the CampusGate CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "campusgate",
		Short: "CampusGate - department resource portal backend",
		Long: `CampusGate is the authentication and authorization backend for a
role-based academic resource portal, with account lockout and a
tamper-evident audit trail.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newUserAddCmd())

	return cmd
}
