// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

package account

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/usherauth/usher/internal/account"

// maxTokenAttempts bounds regeneration when a fresh token collides with
// one already stored.
const maxTokenAttempts = 3

// dummyPassword is hashed once per Service to produce the digest that
// unknown emails are verified against, so both login failure paths do the
// same hashing work with the configured algorithm.
const dummyPassword = "usher-login-timing-equalizer"

// dummyPasswordDigest is used if hashing dummyPassword fails.
//
//nolint:gosec // G101: not a credential, never matches any password.
const dummyPasswordDigest = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Service registers accounts, validates logins, and manages session and
// password reset tokens.
type Service struct {
	store    Store
	hasher   PasswordHasher
	logger   *slog.Logger
	tracer   trace.Tracer
	newToken TokenGenerator

	dummyOnce   sync.Once
	dummyDigest string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger used for account lifecycle events.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

// WithTokenGenerator replaces NewToken as the source of session and reset
// tokens.
func WithTokenGenerator(gen TokenGenerator) ServiceOption {
	return func(s *Service) { s.newToken = gen }
}

// NewService creates a Service. Store and hasher are required.
func NewService(store Store, hasher PasswordHasher, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, oops.Errorf("account store is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}

	s := &Service{
		store:    store,
		hasher:   hasher,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		newToken: NewToken,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		return nil, oops.Errorf("logger cannot be nil")
	}
	if s.newToken == nil {
		return nil, oops.Errorf("token generator cannot be nil")
	}
	return s, nil
}

// Register creates an account for email with the given password.
// Returns an error wrapping ErrAlreadyExists if the email is taken.
func (s *Service) Register(ctx context.Context, email, password string) (*Account, error) {
	ctx, span := s.tracer.Start(ctx, "account.Register")
	defer span.End()

	email, err := ValidateEmail(email)
	if err != nil {
		return nil, recordError(span, err)
	}

	_, err = s.store.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, recordError(span, oops.Code(CodeAlreadyExists).Wrap(ErrAlreadyExists))
	case !errors.Is(err, ErrNotFound):
		return nil, recordError(span, oops.With("operation", "find account by email").Wrap(err))
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return nil, recordError(span, oops.With("operation", "hash password").Wrap(err))
	}

	acct, err := s.store.Create(ctx, email, digest)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, recordError(span, oops.Code(CodeAlreadyExists).Wrap(ErrAlreadyExists))
		}
		return nil, recordError(span, oops.With("operation", "create account").Wrap(err))
	}

	span.SetAttributes(attribute.String("account.id", acct.ID.String()))
	s.logger.InfoContext(ctx, "account registered", "account", acct)
	return redact(acct), nil
}

// ValidLogin reports whether password is correct for email. An unknown
// email and a wrong password both return (false, nil); the error return is
// reserved for store failures and corrupt stored digests.
func (s *Service) ValidLogin(ctx context.Context, email, password string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "account.ValidLogin")
	defer span.End()

	acct, err := s.store.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, recordError(span, oops.With("operation", "find account by email").Wrap(err))
	}

	digest := s.unknownAccountDigest()
	if acct != nil {
		digest = acct.PasswordDigest
	}

	// Verify runs for unknown emails too.
	ok, verifyErr := s.hasher.Verify(password, digest)
	if acct == nil {
		s.logger.DebugContext(ctx, "login rejected", "reason", "unknown account")
		return false, nil
	}
	if verifyErr != nil {
		return false, recordError(span, oops.Code("ACCOUNT_LOGIN_FAILED").
			With("operation", "verify password").
			With("account_id", acct.ID.String()).
			Wrap(verifyErr))
	}
	if !ok {
		s.logger.DebugContext(ctx, "login rejected", "reason", "password mismatch", "account", acct)
	}
	return ok, nil
}

// CreateSession issues a new session token for the account with email,
// replacing any previous session. The password is not re-verified.
func (s *Service) CreateSession(ctx context.Context, email string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "account.CreateSession")
	defer span.End()

	acct, err := s.store.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return "", recordError(span, oops.With("operation", "find account by email").Wrap(err))
	}

	token, err := s.issueToken(ctx, acct.ID, s.store.SetSessionToken)
	if err != nil {
		return "", recordError(span, oops.With("operation", "set session token").Wrap(err))
	}

	s.logger.InfoContext(ctx, "session created", "account", acct)
	return token, nil
}

// GetAccountFromSession returns the account owning token, or nil if the
// token is empty or matches no account. Only store failures are errors.
func (s *Service) GetAccountFromSession(ctx context.Context, token string) (*Account, error) {
	if token == "" {
		return nil, nil
	}

	ctx, span := s.tracer.Start(ctx, "account.GetAccountFromSession")
	defer span.End()

	acct, err := s.store.FindBySessionToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, recordError(span, oops.With("operation", "find account by session token").Wrap(err))
	}
	return redact(acct), nil
}

// DestroySession clears the session token of the account. Destroying an
// absent session, or the session of an unknown account, is not an error.
func (s *Service) DestroySession(ctx context.Context, id ulid.ULID) error {
	ctx, span := s.tracer.Start(ctx, "account.DestroySession",
		trace.WithAttributes(attribute.String("account.id", id.String())))
	defer span.End()

	if err := s.store.SetSessionToken(ctx, id, nil); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return recordError(span, oops.With("operation", "clear session token").
			With("account_id", id.String()).
			Wrap(err))
	}

	s.logger.InfoContext(ctx, "session destroyed", "account_id", id.String())
	return nil
}

// RequestPasswordReset issues a reset token for the account with email,
// replacing any pending one. Returns an error wrapping ErrNotFound if the
// email is unknown.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "account.RequestPasswordReset")
	defer span.End()

	acct, err := s.store.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return "", recordError(span, oops.With("operation", "find account by email").Wrap(err))
	}

	token, err := s.issueToken(ctx, acct.ID, s.store.SetResetToken)
	if err != nil {
		return "", recordError(span, oops.With("operation", "set reset token").Wrap(err))
	}

	s.logger.InfoContext(ctx, "password reset requested", "account", acct)
	return token, nil
}

// UpdatePassword consumes resetToken and sets the account password to
// newPassword. Returns an error wrapping ErrInvalidToken if no account has
// the token pending. Active sessions are left untouched.
func (s *Service) UpdatePassword(ctx context.Context, resetToken, newPassword string) error {
	ctx, span := s.tracer.Start(ctx, "account.UpdatePassword")
	defer span.End()

	if resetToken == "" {
		return recordError(span, invalidToken())
	}

	acct, err := s.store.FindByResetToken(ctx, resetToken)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return recordError(span, invalidToken())
		}
		return recordError(span, oops.With("operation", "find account by reset token").Wrap(err))
	}

	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return recordError(span, oops.With("operation", "hash password").Wrap(err))
	}

	if err := s.store.UpdatePassword(ctx, acct.ID, digest); err != nil {
		if errors.Is(err, ErrNotFound) {
			return recordError(span, invalidToken())
		}
		return recordError(span, oops.With("operation", "update password").
			With("account_id", acct.ID.String()).
			Wrap(err))
	}

	s.logger.InfoContext(ctx, "password updated", "account", acct)
	return nil
}

func (s *Service) issueToken(
	ctx context.Context,
	id ulid.ULID,
	set func(context.Context, ulid.ULID, *string) error,
) (string, error) {
	for range maxTokenAttempts {
		token, err := s.newToken()
		if err != nil {
			return "", err
		}
		err = set(ctx, id, &token)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, ErrConflict) {
			return "", err
		}
	}
	return "", oops.Code("TOKEN_COLLISION").
		With("attempts", maxTokenAttempts).
		Wrap(ErrConflict)
}

func (s *Service) unknownAccountDigest() string {
	s.dummyOnce.Do(func() {
		digest, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			digest = dummyPasswordDigest
		}
		s.dummyDigest = digest
	})
	return s.dummyDigest
}

func invalidToken() error {
	return oops.Code(CodeInvalidToken).Wrap(ErrInvalidToken)
}

// redact returns a copy of acct without the password digest.
func redact(acct *Account) *Account {
	c := acct.Clone()
	c.PasswordDigest = ""
	return c
}

func recordError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
