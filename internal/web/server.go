// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

// Package web serves the account HTTP API.
package web

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gobwas/glob"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/usherauth/usher/internal/account"
	"github.com/usherauth/usher/internal/observability"
)

// SessionCookieName is the cookie carrying the session token.
const SessionCookieName = "session_id"

// AuthService is the subset of account.Service the API drives.
type AuthService interface {
	Register(ctx context.Context, email, password string) (*account.Account, error)
	ValidLogin(ctx context.Context, email, password string) (bool, error)
	CreateSession(ctx context.Context, email string) (string, error)
	GetAccountFromSession(ctx context.Context, token string) (*account.Account, error)
	DestroySession(ctx context.Context, id ulid.ULID) error
	RequestPasswordReset(ctx context.Context, email string) (string, error)
	UpdatePassword(ctx context.Context, resetToken, newPassword string) error
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and error logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records request and auth counters. A nil Metrics disables
// recording.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithCORSOrigins allows cross-origin requests with credentials from the
// given origins. An origin may be a glob where * matches one host label,
// as in https://*.example.com. No CORS handling is installed when empty.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithSecureCookie marks the session cookie Secure.
func WithSecureCookie(secure bool) Option {
	return func(s *Server) { s.secureCookie = secure }
}

// Server runs the HTTP API.
type Server struct {
	addr         string
	auth         AuthService
	logger       *slog.Logger
	metrics      *observability.Metrics
	corsOrigins  []string
	originGlobs  []glob.Glob
	secureCookie bool

	engine     *gin.Engine
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer creates an API server for auth listening on addr.
func NewServer(addr string, auth AuthService, opts ...Option) (*Server, error) {
	if auth == nil {
		return nil, oops.Errorf("auth service is required")
	}
	s := &Server{
		addr:   addr,
		auth:   auth,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, pattern := range s.corsOrigins {
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, oops.Code("CORS_ORIGIN_INVALID").With("origin", pattern).Wrap(err)
		}
		s.originGlobs = append(s.originGlobs, g)
	}
	s.engine = s.newEngine()
	return s, nil
}

// Handler returns the router, for mounting or tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests())

	if len(s.corsOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOriginFunc = s.allowOrigin
		corsConfig.AllowCredentials = true
		corsConfig.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}
		r.Use(cors.New(corsConfig))
	}

	s.routes(r)
	return r
}

func (s *Server) allowOrigin(origin string) bool {
	for _, g := range s.originGlobs {
		if g.Match(origin) {
			return true
		}
	}
	return false
}

// Start begins serving. The returned channel receives a serve failure and
// is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("http server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("http server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("http server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_http_server").Wrap(err)
		}
	}
	s.logger.Info("http server stopped")
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
