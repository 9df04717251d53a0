// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CampusGate Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/campusgate/campusgate/internal/audit"
	"github.com/campusgate/campusgate/internal/auth"
	authpg "github.com/campusgate/campusgate/internal/auth/postgres"
	"github.com/campusgate/campusgate/internal/config"
	"github.com/campusgate/campusgate/internal/store"
)

// Default timeout for the useradd command.
const defaultUserAddTimeout = 30 * time.Second

// userAddConfig holds configuration for the useradd command.
type userAddConfig struct {
	username    string
	password    string
	role        string
	department  string
	displayName string
	timeout     time.Duration
}

// newUserAddCmd creates the useradd subcommand. It provisions accounts
// directly, for bootstrapping the first root account before the API has any
// administrator to call it with.
func newUserAddCmd() *cobra.Command {
	cfg := &userAddConfig{}

	cmd := &cobra.Command{
		Use:   "useradd",
		Short: "Provision a portal account",
		Long: `Create an account directly in the database. The action is recorded in
the audit trail with the local CLI as the actor origin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserAdd(cmd, args, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.username, "username", "", "account username (required)")
	cmd.Flags().StringVar(&cfg.password, "password", "", "initial password (required)")
	cmd.Flags().StringVar(&cfg.role, "role", string(auth.RoleStudent), "account role (student, professor, admin, root)")
	cmd.Flags().StringVar(&cfg.department, "department", "", "department (electrical, chemical, civil, mechanical, medical)")
	cmd.Flags().StringVar(&cfg.displayName, "display-name", "", "human-readable display name")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", defaultUserAddTimeout, "timeout for database operations")

	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

func runUserAdd(cmd *cobra.Command, _ []string, cfg *userAddConfig) error {
	appCfg, err := config.Load(configFile, nil)
	if err != nil {
		return err
	}

	role, err := auth.ParseRole(cfg.role)
	if err != nil {
		return err
	}
	dept, err := auth.ParseDepartment(cfg.department)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
	defer cancel()

	cmd.Println("Connecting to database...")
	pool, err := store.Connect(ctx, appCfg.DatabaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer pool.Close()

	logger := slog.Default()
	recorder, err := audit.NewRecorder(audit.NewPostgresStore(pool), appCfg.AuditWAL, logger)
	if err != nil {
		return err
	}

	issuer, err := auth.NewTokenIssuer(appCfg.Session.Secret, appCfg.Session.Lifetime)
	if err != nil {
		return err
	}

	service, err := auth.NewService(
		authpg.NewAccountRepository(pool),
		auth.NewArgon2idHasher(),
		issuer,
		auth.LockoutPolicy{
			MaxAttempts:  appCfg.Lockout.MaxAttempts,
			LockDuration: appCfg.Lockout.LockDuration,
		},
		recorder,
		logger,
	)
	if err != nil {
		return err
	}

	account, err := service.Provision(ctx,
		cfg.username, cfg.password, role, dept, cfg.displayName,
		nil, auth.Origin{IPAddress: "local", UserAgent: "campusgate-cli"})
	if err != nil {
		_ = recorder.Close()
		return err
	}

	// Flush the provisioning event before the pool goes away.
	if err := recorder.Close(); err != nil {
		logger.Warn("error closing audit recorder", "error", err)
	}

	cmd.Printf("Created account %s (%s, role %s)\n", account.Username, account.ID, account.Role)
	return nil
}
