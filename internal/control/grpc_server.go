// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

// Package control provides the loopback gRPC control plane used by
// operators and the status command.
package control

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported for the auth engine.
const ServiceName = "usher.Auth"

// GRPCServer serves the standard gRPC health protocol for a component.
type GRPCServer struct {
	component  string
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	running    atomic.Bool
}

// NewGRPCServer creates a new control gRPC server. component names the
// process in logs and must not be empty. The auth service starts as
// NOT_SERVING until SetServing is called.
func NewGRPCServer(component string) (*GRPCServer, error) {
	if component == "" {
		return nil, oops.Errorf("component name cannot be empty")
	}
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &GRPCServer{
		component: component,
		health:    hs,
	}, nil
}

// SetServing updates the status reported for ServiceName.
func (s *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
}

// Start begins listening on addr without transport security; addr should
// be a loopback address. The returned channel receives the server's exit
// error and is closed when Serve returns.
func (s *GRPCServer) Start(addr string) (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("control server already running")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", addr).Wrap(err)
	}
	s.listener = listener

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, s.health)
	s.grpcServer = srv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.Serve(listener); err != nil {
			slog.Error("control gRPC server error",
				"component", s.component,
				"error", err,
			)
			errCh <- err
		}
	}()

	slog.Info("control server started", "component", s.component, "addr", listener.Addr().String())
	return errCh, nil
}

// Stop marks every service NOT_SERVING and gracefully shuts down. Stop on
// a server that is not running is a no-op.
func (s *GRPCServer) Stop(_ context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.health.Shutdown()
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
	return nil
}

// Addr returns the address the server is listening on, or "" before Start.
func (s *GRPCServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
