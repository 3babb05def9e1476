// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/usherauth/usher/internal/account"
	"github.com/usherauth/usher/internal/account/memory"
	pgstore "github.com/usherauth/usher/internal/account/postgres"
	redisstore "github.com/usherauth/usher/internal/account/redis"
	"github.com/usherauth/usher/internal/config"
	"github.com/usherauth/usher/internal/control"
	"github.com/usherauth/usher/internal/observability"
	"github.com/usherauth/usher/internal/store"
	"github.com/usherauth/usher/internal/web"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// StoreOpener connects the configured account store.
	// Default: openStore
	StoreOpener func(ctx context.Context, cfg *config.Config) (account.Store, func(), error)

	// MigratorFactory creates a migrator for auto-migration.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (AutoMigrator, error)

	// HTTPServerFactory creates the API server.
	// Default: web.NewServer
	HTTPServerFactory func(addr string, auth web.AuthService, opts ...web.Option) (HTTPServer, error)

	// ControlServerFactory creates a control gRPC server.
	// Default: control.NewGRPCServer
	ControlServerFactory func(component string) (ControlServer, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	if d == nil {
		d = &ServeDeps{}
	}
	if d.StoreOpener == nil {
		d.StoreOpener = openStore
	}
	if d.MigratorFactory == nil {
		d.MigratorFactory = func(url string) (AutoMigrator, error) {
			return store.NewMigrator(url)
		}
	}
	if d.HTTPServerFactory == nil {
		d.HTTPServerFactory = func(addr string, auth web.AuthService, opts ...web.Option) (HTTPServer, error) {
			return web.NewServer(addr, auth, opts...)
		}
	}
	if d.ControlServerFactory == nil {
		d.ControlServerFactory = func(component string) (ControlServer, error) {
			return control.NewGRPCServer(component)
		}
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, ready)
		}
	}
	return d
}

// AutoMigrator is the part of store.Migrator used on startup.
type AutoMigrator interface {
	Up() error
	Close() error
}

// HTTPServer interface wraps the methods used from web.Server.
type HTTPServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// ControlServer interface wraps the methods used from control.GRPCServer.
type ControlServer interface {
	Start(addr string) (<-chan error, error)
	Stop(ctx context.Context) error
	SetServing(serving bool)
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// openStore connects the account store selected by cfg. The returned
// func releases it.
func openStore(ctx context.Context, cfg *config.Config) (account.Store, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memory.NewStore(), func() {}, nil
	case config.StorePostgres:
		pool, err := store.OpenPool(ctx, cfg.DatabaseURL, store.WithPoolLogger(slog.Default()))
		if err != nil {
			return nil, nil, err
		}
		return pgstore.NewStore(pool), pool.Close, nil
	case config.StoreRedis:
		client, err := redisstore.Open(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return redisstore.NewStore(client), func() { _ = client.Close() }, nil
	default:
		return nil, nil, oops.Code("CONFIG_INVALID").With("store", cfg.Store).Errorf("unknown store backend")
	}
}

// newAuthService builds the engine over st with the configured hasher.
func newAuthService(cfg *config.Config, st account.Store) (*account.Service, account.PasswordHasher, error) {
	hasher, err := account.NewHasher(cfg.Hasher, cfg.BcryptCost)
	if err != nil {
		return nil, nil, err
	}
	svc, err := account.NewService(st, hasher, account.WithLogger(slog.Default()))
	if err != nil {
		return nil, nil, err
	}
	return svc, hasher, nil
}
