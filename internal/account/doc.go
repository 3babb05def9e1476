// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

// Package account implements the authentication and session lifecycle of
// Usher accounts.
//
// # Components
//
//   - PasswordHasher - one-way salted password digests (Argon2idHasher, BcryptHasher)
//   - Store - persistence contract for Account records
//   - Service - registration, login validation, sessions and password resets
//
// A single Service is constructed at startup with NewService and shared by
// all request handlers. It holds no mutable state of its own; per-account
// atomicity is provided by the Store implementation (see the memory,
// postgres and redis subpackages).
//
// # Errors
//
// Failures are samber/oops errors wrapping the sentinels in this package, so
// callers can match with errors.Is and read the code with oops.AsOops:
//
//   - ErrAlreadyExists - ACCOUNT_ALREADY_EXISTS
//   - ErrNotFound - ACCOUNT_NOT_FOUND
//   - ErrInvalidToken - RESET_TOKEN_INVALID
//   - ErrConflict - ACCOUNT_CONFLICT (store-level uniqueness violation)
//   - ErrStoreUnavailable - STORE_UNAVAILABLE
//
// A failed login is not an error: ValidLogin returns false for both an
// unknown email and a wrong password.
package account
