// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Default connection retry policy for OpenPool.
const (
	DefaultConnectRetries = 5
	DefaultConnectBackoff = 250 * time.Millisecond
	maxConnectBackoff     = 5 * time.Second
)

type poolOptions struct {
	retries uint64
	backoff time.Duration
	logger  *slog.Logger
}

// PoolOption configures OpenPool.
type PoolOption func(*poolOptions)

// WithConnectRetries sets how many times the initial ping is retried.
func WithConnectRetries(n uint64) PoolOption {
	return func(o *poolOptions) { o.retries = n }
}

// WithConnectBackoff sets the base delay of the exponential backoff.
func WithConnectBackoff(d time.Duration) PoolOption {
	return func(o *poolOptions) { o.backoff = d }
}

// WithPoolLogger sets the logger used to report failed connection attempts.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(o *poolOptions) { o.logger = l }
}

// OpenPool creates a pgx pool for dsn and pings it, retrying with
// exponential backoff while the database is unreachable.
func OpenPool(ctx context.Context, dsn string, opts ...PoolOption) (*pgxpool.Pool, error) {
	o := poolOptions{
		retries: DefaultConnectRetries,
		backoff: DefaultConnectBackoff,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database url").Wrap(err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	backoff := retry.WithMaxRetries(o.retries,
		retry.WithCappedDuration(maxConnectBackoff, retry.NewExponential(o.backoff)))

	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if pingErr := pool.Ping(ctx); pingErr != nil {
			o.logger.WarnContext(ctx, "database not reachable",
				"attempt", attempt,
				"host", cfg.ConnConfig.Host,
				"error", pingErr)
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			With("attempts", attempt).
			Wrap(err)
	}

	return pool, nil
}
