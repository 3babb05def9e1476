// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

package control

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/usherauth/usher/pkg/errutil"
)

func startServer(t *testing.T) *GRPCServer {
	t.Helper()
	s, err := NewGRPCServer("test")
	require.NoError(t, err)
	_, err = s.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func TestGRPCServer_NewGRPCServer_EmptyComponent(t *testing.T) {
	_, err := NewGRPCServer("")
	assert.Error(t, err, "NewGRPCServer() should fail with empty component")
}

func TestGRPCServer_ReportsServingStatus(t *testing.T) {
	s := startServer(t)
	ctx := context.Background()

	status, err := QueryStatus(ctx, s.Addr())
	require.NoError(t, err)
	assert.Equal(t, "NOT_SERVING", status.Health)
	assert.False(t, status.Serving())
	assert.Equal(t, ServiceName, status.Service)

	s.SetServing(true)
	status, err = QueryStatus(ctx, s.Addr())
	require.NoError(t, err)
	assert.True(t, status.Serving())
	assert.Empty(t, status.Error)
}

func TestGRPCServer_UnknownServiceIsNotFound(t *testing.T) {
	s := startServer(t)

	conn, err := grpc.NewClient(s.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_, err = healthpb.NewHealthClient(conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: "usher.Unknown"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NotFound")
}

func TestGRPCServer_DoubleStartFails(t *testing.T) {
	s := startServer(t)
	_, err := s.Start("127.0.0.1:0")
	assert.Error(t, err)
}

func TestGRPCServer_StartOnBusyAddressFails(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	s, err := NewGRPCServer("test")
	require.NoError(t, err)
	_, err = s.Start(l.Addr().String())
	require.Error(t, err)
	errutil.AssertErrorContext(t, err, "addr", l.Addr().String())

	// A failed start can be retried.
	_, err = s.Start("127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, s.Stop(context.Background()))
}

func TestGRPCServer_StopIdempotent(t *testing.T) {
	s, err := NewGRPCServer("test")
	require.NoError(t, err)
	assert.NoError(t, s.Stop(context.Background()))
	assert.Empty(t, s.Addr())
}

func TestGRPCServer_ErrorChannelClosesOnStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s, err := NewGRPCServer("test")
	require.NoError(t, err)
	errCh, err := s.Start("127.0.0.1:0")
	require.NoError(t, err)

	require.NoError(t, s.Stop(context.Background()))

	select {
	case err, ok := <-errCh:
		if ok {
			assert.NoError(t, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error channel to close")
	}
}

func TestQueryStatus_Unreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	status, err := QueryStatus(ctx, addr)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONTROL_QUERY_FAILED")
	assert.NotEmpty(t, status.Error)
	assert.False(t, status.Serving())
}
