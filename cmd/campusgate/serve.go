// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CampusGate Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/campusgate/campusgate/internal/access"
	"github.com/campusgate/campusgate/internal/audit"
	"github.com/campusgate/campusgate/internal/auth"
	authpg "github.com/campusgate/campusgate/internal/auth/postgres"
	"github.com/campusgate/campusgate/internal/config"
	"github.com/campusgate/campusgate/internal/httpapi"
	"github.com/campusgate/campusgate/internal/logging"
	"github.com/campusgate/campusgate/internal/observability"
	"github.com/campusgate/campusgate/internal/store"
)

// shutdownTimeout bounds graceful shutdown of the HTTP servers.
const shutdownTimeout = 5 * time.Second

// newServeCmd creates the serve subcommand.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the portal API server",
		Long: `Start the HTTP API server, run pending database migrations, replay any
spilled audit events, and serve until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd)
		},
	}

	// Flag names mirror configuration keys so the posflag provider maps them
	// without translation.
	cmd.Flags().String("http_addr", "", "HTTP API listen address")
	cmd.Flags().String("metrics_addr", "", "metrics/health HTTP address")
	cmd.Flags().String("log_format", "", "log format (json or text)")

	return cmd
}

// runServe wires the full server: config, logging, database, migrations,
// audit recorder, auth service, and the two HTTP listeners.
func runServe(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	logging.SetDefault("campusgate", version, cfg.LogFormat)
	logger := slog.Default()

	logger.Info("starting campusgate",
		"version", version,
		"http_addr", cfg.HTTPAddr,
		"metrics_addr", cfg.MetricsAddr,
	)

	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}
	defer pool.Close()

	// Apply pending migrations before serving traffic.
	migrator, err := store.NewMigrator(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		return err
	}
	if err := migrator.Close(); err != nil {
		logger.Warn("error closing migrator", "error", err)
	}

	auditStore := audit.NewPostgresStore(pool)
	recorder, err := audit.NewRecorder(auditStore, cfg.AuditWAL, logger)
	if err != nil {
		return err
	}

	// Push previously spilled events back into the database before new
	// traffic arrives.
	if err := recorder.ReplayWAL(ctx); err != nil {
		logger.Warn("audit WAL replay failed, entries retained", "error", err)
	}

	issuer, err := auth.NewTokenIssuer(cfg.Session.Secret, cfg.Session.Lifetime)
	if err != nil {
		return err
	}

	policy := auth.LockoutPolicy{
		MaxAttempts:  cfg.Lockout.MaxAttempts,
		LockDuration: cfg.Lockout.LockDuration,
	}

	service, err := auth.NewService(
		authpg.NewAccountRepository(pool),
		auth.NewArgon2idHasher(),
		issuer,
		policy,
		recorder,
		logger,
	)
	if err != nil {
		return err
	}

	gate, err := access.NewGate(issuer)
	if err != nil {
		return err
	}
	middleware := access.NewMiddleware(gate, recorder)

	// Metrics/health server comes up first so readiness reflects the API.
	obsServer := observability.NewServer(cfg.MetricsAddr, func() bool {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return pool.Ping(pingCtx) == nil
	})
	obsErrCh, err := obsServer.Start()
	if err != nil {
		return err
	}

	metrics := obsServer.Metrics()
	middleware.OnDenial(func(reason access.Reason) {
		metrics.DenialsTotal.WithLabelValues(string(reason)).Inc()
	})

	apiServer, err := httpapi.NewServer(httpapi.Options{
		Addr:        cfg.HTTPAddr,
		CORSOrigins: cfg.CORSOrigins,
		Service:     service,
		Middleware:  middleware,
		Audit:       auditStore,
		Metrics:     metrics,
		Logger:      logger,
	})
	if err != nil {
		stopServer(obsServer.Stop, "observability", logger)
		return err
	}

	apiErrCh, err := apiServer.Start()
	if err != nil {
		stopServer(obsServer.Stop, "observability", logger)
		return err
	}

	cmd.Println("CampusGate server started")
	logger.Info("campusgate ready", "api_addr", apiServer.Addr(), "metrics_addr", obsServer.Addr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	case err := <-apiErrCh:
		if err != nil {
			logger.Error("api server failed", "error", err)
		}
	case err := <-obsErrCh:
		if err != nil {
			logger.Error("observability server failed", "error", err)
		}
	}

	logger.Info("shutting down...")

	stopServer(apiServer.Stop, "api", logger)
	stopServer(obsServer.Stop, "observability", logger)

	// Drain remaining audit events before releasing the pool.
	if err := recorder.Close(); err != nil {
		logger.Warn("error closing audit recorder", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// stopServer runs a Stop function with the shutdown timeout.
func stopServer(stop func(context.Context) error, name string, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := stop(shutdownCtx); err != nil {
		logger.Warn("error stopping server", "server", name, "error", err)
	}
}
