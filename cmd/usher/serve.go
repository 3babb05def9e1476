// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/usherauth/usher/internal/account"
	"github.com/usherauth/usher/internal/config"
	"github.com/usherauth/usher/internal/logging"
	"github.com/usherauth/usher/internal/observability"
	"github.com/usherauth/usher/internal/web"
)

const (
	shutdownTimeout  = 5 * time.Second
	readinessTimeout = time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, control, and metrics servers",
		Long: `Run the account HTTP API together with the loopback gRPC control
server and the metrics/health endpoint until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(commandContext(cmd), cfg, cmd, nil)
		},
	}

	config.BindFlags(cmd.Flags())
	return cmd
}

// runServeWithDeps starts every server and blocks until a signal arrives,
// ctx is cancelled, or a server fails. If deps is nil, default
// implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()

	if err := cfg.Validate(); err != nil {
		return oops.With("operation", "validate configuration").Wrap(err)
	}

	logging.SetDefault("usher", version, cfg.LogFormat)
	gin.SetMode(gin.ReleaseMode)

	slog.Info("starting usher",
		"store", cfg.Store,
		"hasher", cfg.Hasher,
		"http_addr", cfg.HTTPAddr,
	)

	if cfg.Store == config.StorePostgres && cfg.AutoMigrate {
		if err := runAutoMigration(cfg.DatabaseURL, deps.MigratorFactory); err != nil {
			return err
		}
	}

	st, closeStore, err := deps.StoreOpener(ctx, cfg)
	if err != nil {
		return oops.With("operation", "open account store").Wrap(err)
	}
	defer closeStore()

	svc, _, err := newAuthService(cfg, st)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stops []func(context.Context) error
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		for i := len(stops) - 1; i >= 0; i-- {
			if stopErr := stops[i](shutdownCtx); stopErr != nil {
				slog.Warn("error stopping server", "error", stopErr)
			}
		}
	}()

	var metrics *observability.Metrics
	if cfg.MetricsAddr != "" {
		obsServer := deps.ObservabilityServerFactory(cfg.MetricsAddr, storeReadiness(st))
		obsErrCh, startErr := obsServer.Start()
		if startErr != nil {
			return oops.With("operation", "start observability server").Wrap(startErr)
		}
		stops = append(stops, obsServer.Stop)
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
		metrics = obsServer.Metrics()
	}

	controlServer, err := deps.ControlServerFactory("serve")
	if err != nil {
		return oops.With("operation", "create control server").Wrap(err)
	}
	controlErrCh, err := controlServer.Start(cfg.ControlAddr)
	if err != nil {
		return oops.With("operation", "start control server").Wrap(err)
	}
	stops = append(stops, controlServer.Stop)
	go monitorServerErrors(ctx, cancel, controlErrCh, "control-grpc")

	httpServer, err := deps.HTTPServerFactory(cfg.HTTPAddr, svc,
		web.WithLogger(slog.Default()),
		web.WithMetrics(metrics),
		web.WithCORSOrigins(cfg.CORSOrigins),
		web.WithSecureCookie(cfg.CookieSecure),
	)
	if err != nil {
		return oops.With("operation", "create http server").Wrap(err)
	}
	httpErrCh, err := httpServer.Start()
	if err != nil {
		return oops.With("operation", "start http server").Wrap(err)
	}
	stops = append(stops, httpServer.Stop)
	go monitorServerErrors(ctx, cancel, httpErrCh, "http")

	controlServer.SetServing(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Usher started")
	slog.Info("usher ready", "http_addr", httpServer.Addr())

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	controlServer.SetServing(false)
	slog.Info("shutting down...")
	return nil
}

// storeReadiness reports ready when the store answers a ping. Stores
// without Ping are always ready.
func storeReadiness(st account.Store) observability.ReadinessChecker {
	pinger, ok := st.(account.Pinger)
	if !ok {
		return func() bool { return true }
	}
	return func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), readinessTimeout)
		defer cancel()
		return pinger.Ping(ctx) == nil
	}
}

// runAutoMigration applies pending migrations before the store opens.
func runAutoMigration(databaseURL string, factory func(string) (AutoMigrator, error)) error {
	migrator, err := factory(databaseURL)
	if err != nil {
		return oops.Code("AUTO_MIGRATE_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			slog.Warn("failed to close migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("AUTO_MIGRATE_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	slog.Info("database migrations applied")
	return nil
}

// monitorServerErrors cancels ctx when a server reports an error. It exits
// when the channel closes or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
