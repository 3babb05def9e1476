// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

// Package postgres provides a PostgreSQL account.Store.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/usherauth/usher/internal/account"
)

// poolIface is the subset of pgxpool.Pool used by Store. pgxmock.PgxPoolIface
// satisfies it for unit tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Unique constraint names created by the accounts migration.
const (
	emailConstraint   = "accounts_email_key"
	sessionConstraint = "accounts_session_token_key"
	resetConstraint   = "accounts_reset_token_key"
)

const selectAccount = `
	SELECT id, email, password_digest, session_token, reset_token, created_at, updated_at
	FROM accounts
`

// Store implements account.Store on the accounts table.
type Store struct {
	pool poolIface
}

// NewStore creates a Store over pool.
func NewStore(pool poolIface) *Store {
	return &Store{pool: pool}
}

// Ping checks database reachability.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return account.StoreError("ping", err)
	}
	return nil
}

// Create inserts a new account.
func (s *Store) Create(ctx context.Context, email, passwordDigest string) (*account.Account, error) {
	acct := account.NewAccount(email, passwordDigest)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (id, email, password_digest, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, acct.ID.String(), acct.Email, acct.PasswordDigest, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		return nil, classify("insert account", err)
	}
	return acct, nil
}

// FindByEmail retrieves the account registered with email.
func (s *Store) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	return s.findOne(ctx, "email", email)
}

// FindBySessionToken retrieves the account owning the session token.
func (s *Store) FindBySessionToken(ctx context.Context, token string) (*account.Account, error) {
	return s.findOne(ctx, "session_token", token)
}

// FindByResetToken retrieves the account owning the reset token.
func (s *Store) FindByResetToken(ctx context.Context, token string) (*account.Account, error) {
	return s.findOne(ctx, "reset_token", token)
}

// findOne selects by a unique column. column is always one of the fixed
// names above, never caller input.
func (s *Store) findOne(ctx context.Context, column, value string) (*account.Account, error) {
	row := s.pool.QueryRow(ctx, selectAccount+`WHERE `+column+` = $1`, value)

	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, account.NotFoundError("lookup", column)
	}
	if err != nil {
		return nil, account.StoreError("find account by "+column, err)
	}
	return acct, nil
}

// SetSessionToken overwrites the session token; nil clears it.
func (s *Store) SetSessionToken(ctx context.Context, id ulid.ULID, token *string) error {
	return s.update(ctx, id, "set session token", `
		UPDATE accounts SET session_token = $2, updated_at = now() WHERE id = $1
	`, id.String(), token)
}

// SetResetToken overwrites the reset token; nil clears it.
func (s *Store) SetResetToken(ctx context.Context, id ulid.ULID, token *string) error {
	return s.update(ctx, id, "set reset token", `
		UPDATE accounts SET reset_token = $2, updated_at = now() WHERE id = $1
	`, id.String(), token)
}

// UpdatePassword replaces the digest and clears the reset token in one
// statement.
func (s *Store) UpdatePassword(ctx context.Context, id ulid.ULID, newDigest string) error {
	return s.update(ctx, id, "update password", `
		UPDATE accounts SET password_digest = $2, reset_token = NULL, updated_at = now() WHERE id = $1
	`, id.String(), newDigest)
}

func (s *Store) update(ctx context.Context, id ulid.ULID, operation, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return classify(operation, err)
	}
	if tag.RowsAffected() == 0 {
		return account.NotFoundError("account_id", id.String())
	}
	return nil
}

func scanAccount(row pgx.Row) (*account.Account, error) {
	var (
		acct account.Account
		id   string
	)
	if err := row.Scan(
		&id,
		&acct.Email,
		&acct.PasswordDigest,
		&acct.SessionToken,
		&acct.ResetToken,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	); err != nil {
		return nil, err //nolint:wrapcheck // callers classify pgx.ErrNoRows
	}

	parsed, err := ulid.Parse(id)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").With("id", id).Wrap(err)
	}
	acct.ID = parsed
	return &acct, nil
}

// classify maps unique violations to account.ErrConflict and everything
// else to a store failure.
func classify(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		switch pgErr.ConstraintName {
		case emailConstraint:
			return account.ConflictError("email")
		case sessionConstraint:
			return account.ConflictError("session_token")
		case resetConstraint:
			return account.ConflictError("reset_token")
		default:
			return account.ConflictError(pgErr.ConstraintName)
		}
	}
	return account.StoreError(operation, err)
}
