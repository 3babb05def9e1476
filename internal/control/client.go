// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

package control

import (
	"context"
	"time"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DefaultQueryTimeout bounds a status query when the caller's context has
// no deadline.
const DefaultQueryTimeout = 2 * time.Second

// Status is the result of querying a control server.
type Status struct {
	Addr    string `json:"addr"`
	Service string `json:"service"`
	Health  string `json:"health"`
	Error   string `json:"error,omitempty"`
}

// Serving reports whether the service answered SERVING.
func (s Status) Serving() bool {
	return s.Health == healthpb.HealthCheckResponse_SERVING.String()
}

// QueryStatus checks the health of ServiceName on the control server at
// addr. Connection and RPC failures are reported in Status.Error and as
// the returned error.
func QueryStatus(ctx context.Context, addr string) (Status, error) {
	status := Status{Addr: addr, Service: ServiceName, Health: "UNKNOWN"}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultQueryTimeout)
		defer cancel()
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		status.Error = err.Error()
		return status, oops.Code("CONTROL_DIAL_FAILED").With("addr", addr).Wrap(err)
	}
	defer func() { _ = conn.Close() }()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		status.Error = err.Error()
		return status, oops.Code("CONTROL_QUERY_FAILED").With("addr", addr).Wrap(err)
	}

	status.Health = resp.GetStatus().String()
	return status, nil
}
