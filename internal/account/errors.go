// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

package account

import (
	"errors"

	"github.com/samber/oops"
)

// Error codes attached to oops errors returned by this package and by
// Store implementations.
const (
	CodeAlreadyExists    = "ACCOUNT_ALREADY_EXISTS"
	CodeNotFound         = "ACCOUNT_NOT_FOUND"
	CodeInvalidToken     = "RESET_TOKEN_INVALID"
	CodeConflict         = "ACCOUNT_CONFLICT"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeInvalidEmail     = "ACCOUNT_INVALID_EMAIL"
)

var (
	// ErrNotFound is returned when a requested account does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when registering an email that is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidToken is returned when a reset token is unknown or consumed.
	ErrInvalidToken = errors.New("invalid token")

	// ErrConflict is returned by a Store when a write would violate a
	// uniqueness constraint (email, session token or reset token).
	ErrConflict = errors.New("conflict")

	// ErrStoreUnavailable marks a persistence failure.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// NotFoundError wraps ErrNotFound with the ACCOUNT_NOT_FOUND code and the
// lookup key that missed.
func NotFoundError(key string, value any) error {
	return oops.Code(CodeNotFound).With(key, value).Wrap(ErrNotFound)
}

// ConflictError wraps ErrConflict with the ACCOUNT_CONFLICT code and the
// attribute whose uniqueness was violated.
func ConflictError(attribute string) error {
	return oops.Code(CodeConflict).With("attribute", attribute).Wrap(ErrConflict)
}

// StoreError wraps a driver failure with the STORE_UNAVAILABLE code. The
// returned error matches both ErrStoreUnavailable and cause.
func StoreError(operation string, cause error) error {
	return oops.Code(CodeStoreUnavailable).
		With("operation", operation).
		Wrap(errors.Join(ErrStoreUnavailable, cause))
}

// IsNotFound reports whether err is a lookup miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
