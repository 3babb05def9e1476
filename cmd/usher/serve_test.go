// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usherauth/usher/internal/account"
	"github.com/usherauth/usher/internal/account/memory"
	"github.com/usherauth/usher/internal/config"
	"github.com/usherauth/usher/internal/observability"
	"github.com/usherauth/usher/internal/web"
	"github.com/usherauth/usher/pkg/errutil"
)

type mockServer struct {
	mu       sync.Mutex
	started  bool
	stopped  bool
	startErr error
	serving  []bool
	addr     string
}

func (m *mockServer) Start() (<-chan error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return nil, m.startErr
	}
	m.started = true
	return make(chan error), nil
}

func (m *mockServer) Stop(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return nil
}

func (m *mockServer) Addr() string { return m.addr }

type mockControlServer struct {
	mockServer
	gotAddr string
}

func (m *mockControlServer) Start(addr string) (<-chan error, error) {
	m.gotAddr = addr
	return m.mockServer.Start()
}

func (m *mockControlServer) SetServing(serving bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serving = append(m.serving, serving)
}

type mockObservabilityServer struct {
	mockServer
	metrics *observability.Metrics
}

func (m *mockObservabilityServer) Metrics() *observability.Metrics { return m.metrics }

type autoMigrateMockMigrator struct {
	upCalled    bool
	upError     error
	closeCalled bool
}

func (m *autoMigrateMockMigrator) Up() error {
	m.upCalled = true
	return m.upError
}

func (m *autoMigrateMockMigrator) Close() error {
	m.closeCalled = true
	return nil
}

type serveFixture struct {
	deps      *ServeDeps
	http      *mockServer
	control   *mockControlServer
	obs       *mockObservabilityServer
	migrator  *autoMigrateMockMigrator
	gotAuth   web.AuthService
	storeOpen bool
}

func newServeFixture() *serveFixture {
	f := &serveFixture{
		http:     &mockServer{addr: "127.0.0.1:5000"},
		control:  &mockControlServer{},
		obs:      &mockObservabilityServer{metrics: observability.NewMetrics(prometheus.NewRegistry())},
		migrator: &autoMigrateMockMigrator{},
	}
	f.deps = &ServeDeps{
		StoreOpener: func(context.Context, *config.Config) (account.Store, func(), error) {
			f.storeOpen = true
			return memory.NewStore(), func() { f.storeOpen = false }, nil
		},
		MigratorFactory: func(string) (AutoMigrator, error) {
			return f.migrator, nil
		},
		HTTPServerFactory: func(_ string, auth web.AuthService, _ ...web.Option) (HTTPServer, error) {
			f.gotAuth = auth
			return f.http, nil
		},
		ControlServerFactory: func(string) (ControlServer, error) {
			return f.control, nil
		},
		ObservabilityServerFactory: func(string, observability.ReadinessChecker) ObservabilityServer {
			return f.obs
		},
	}
	return f
}

func cancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func restoreDefaultLogger(t *testing.T) {
	t.Helper()
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })
}

func TestServe_StartsAndStopsEverything(t *testing.T) {
	restoreDefaultLogger(t)
	f := newServeFixture()
	cfg := config.Default()

	err := runServeWithDeps(cancelledContext(), &cfg, NewServeCmd(), f.deps)
	require.NoError(t, err)

	assert.True(t, f.http.started)
	assert.True(t, f.http.stopped)
	assert.True(t, f.control.started)
	assert.True(t, f.control.stopped)
	assert.Equal(t, cfg.ControlAddr, f.control.gotAddr)
	assert.True(t, f.obs.started)
	assert.True(t, f.obs.stopped)
	assert.Equal(t, []bool{true, false}, f.control.serving)
	assert.NotNil(t, f.gotAuth)
	assert.False(t, f.storeOpen, "store closed on shutdown")
	assert.False(t, f.migrator.upCalled, "memory store never migrates")
}

func TestServe_MetricsDisabled(t *testing.T) {
	restoreDefaultLogger(t)
	f := newServeFixture()
	cfg := config.Default()
	cfg.MetricsAddr = ""

	require.NoError(t, runServeWithDeps(cancelledContext(), &cfg, NewServeCmd(), f.deps))
	assert.False(t, f.obs.started)
	assert.True(t, f.http.started)
}

func TestServe_AutoMigrate(t *testing.T) {
	restoreDefaultLogger(t)

	tests := []struct {
		name        string
		autoMigrate bool
		upError     error
		wantUp      bool
		wantErrCode string
	}{
		{"runs when enabled", true, nil, true, ""},
		{"skipped when disabled", false, nil, false, ""},
		{"failure aborts startup", true, errors.New("dirty database"), true, "AUTO_MIGRATE_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServeFixture()
			f.migrator.upError = tt.upError
			cfg := config.Default()
			cfg.Store = config.StorePostgres
			cfg.DatabaseURL = "postgres://test@localhost/test"
			cfg.AutoMigrate = tt.autoMigrate

			err := runServeWithDeps(cancelledContext(), &cfg, NewServeCmd(), f.deps)

			assert.Equal(t, tt.wantUp, f.migrator.upCalled)
			assert.Equal(t, tt.wantUp, f.migrator.closeCalled)
			if tt.wantErrCode != "" {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, tt.wantErrCode)
				assert.False(t, f.http.started, "nothing starts after a failed migration")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestServe_InvalidConfig(t *testing.T) {
	f := newServeFixture()
	cfg := config.Default()
	cfg.Store = "sqlite"

	err := runServeWithDeps(cancelledContext(), &cfg, NewServeCmd(), f.deps)
	require.Error(t, err)
	assert.False(t, f.storeOpen)
}

func TestServe_StoreOpenFailure(t *testing.T) {
	restoreDefaultLogger(t)
	f := newServeFixture()
	f.deps.StoreOpener = func(context.Context, *config.Config) (account.Store, func(), error) {
		return nil, nil, account.StoreError("connect", errors.New("connection refused"))
	}
	cfg := config.Default()

	err := runServeWithDeps(cancelledContext(), &cfg, NewServeCmd(), f.deps)
	require.ErrorIs(t, err, account.ErrStoreUnavailable)
	assert.False(t, f.http.started)
}

func TestServe_HTTPStartFailureStopsStartedServers(t *testing.T) {
	restoreDefaultLogger(t)
	f := newServeFixture()
	f.http.startErr = errors.New("address in use")
	cfg := config.Default()

	err := runServeWithDeps(cancelledContext(), &cfg, NewServeCmd(), f.deps)
	require.Error(t, err)
	assert.True(t, f.obs.stopped)
	assert.True(t, f.control.stopped)
	assert.Empty(t, f.control.serving, "never reported serving")
}

type pingStore struct {
	*memory.Store
	err error
}

func (p pingStore) Ping(context.Context) error { return p.err }

func TestStoreReadiness(t *testing.T) {
	assert.True(t, storeReadiness(pingStore{Store: memory.NewStore()})())
	assert.False(t, storeReadiness(pingStore{Store: memory.NewStore(), err: errors.New("down")})())
}

func TestOpenStore_Memory(t *testing.T) {
	cfg := config.Default()
	st, closeFn, err := openStore(context.Background(), &cfg)
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &memory.Store{}, st)
}

func TestOpenStore_Unknown(t *testing.T) {
	cfg := config.Default()
	cfg.Store = "sqlite"
	_, _, err := openStore(context.Background(), &cfg)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
}
