// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

package account

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Account is a registered identity.
type Account struct {
	ID             ulid.ULID
	Email          string
	PasswordDigest string
	SessionToken   *string // nil when no session is active
	ResetToken     *string // nil when no reset is pending
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasSession reports whether the account has an active session.
func (a *Account) HasSession() bool {
	return a.SessionToken != nil
}

// HasPendingReset reports whether a password reset is pending.
func (a *Account) HasPendingReset() bool {
	return a.ResetToken != nil
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	c := *a
	if a.SessionToken != nil {
		t := *a.SessionToken
		c.SessionToken = &t
	}
	if a.ResetToken != nil {
		t := *a.ResetToken
		c.ResetToken = &t
	}
	return &c
}

// LogValue omits the digest and both tokens.
func (a *Account) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", a.ID.String()),
		slog.Bool("session_active", a.HasSession()),
		slog.Bool("reset_pending", a.HasPendingReset()),
	)
}

// NormalizeEmail trims surrounding whitespace and lower-cases the address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail normalizes email and rejects it if empty.
func ValidateEmail(email string) (string, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return "", oops.Code(CodeInvalidEmail).Errorf("email cannot be empty")
	}
	return normalized, nil
}

// Store persists accounts.
//
// Implementations must apply every mutation atomically per account. Lookups
// return an error wrapping ErrNotFound on a miss. Writes that would give two
// accounts the same email, session token or reset token return an error
// wrapping ErrConflict. Driver failures wrap ErrStoreUnavailable.
type Store interface {
	// Create inserts a new account with no session and no pending reset.
	Create(ctx context.Context, email, passwordDigest string) (*Account, error)

	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindBySessionToken(ctx context.Context, token string) (*Account, error)
	FindByResetToken(ctx context.Context, token string) (*Account, error)

	// SetSessionToken overwrites the session token. A nil token clears it.
	SetSessionToken(ctx context.Context, id ulid.ULID, token *string) error

	// SetResetToken overwrites the reset token. A nil token clears it.
	SetResetToken(ctx context.Context, id ulid.ULID, token *string) error

	// UpdatePassword replaces the digest and clears the reset token in a
	// single atomic write.
	UpdatePassword(ctx context.Context, id ulid.ULID, newDigest string) error
}

// Pinger is implemented by stores that can report backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewAccount returns an account with a fresh ID and timestamps. Store
// implementations use it from Create.
func NewAccount(email, passwordDigest string) *Account {
	now := time.Now().UTC()
	return &Account{
		ID:             ulid.Make(),
		Email:          email,
		PasswordDigest: passwordDigest,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
