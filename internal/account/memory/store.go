// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

// Package memory provides an in-process account.Store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/usherauth/usher/internal/account"
)

// Store keeps accounts in maps guarded by a single RWMutex. Every index is
// updated inside the same critical section as the record it points to.
type Store struct {
	mu        sync.RWMutex
	byID      map[ulid.ULID]*account.Account
	byEmail   map[string]ulid.ULID
	bySession map[string]ulid.ULID
	byReset   map[string]ulid.ULID
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		byID:      make(map[ulid.ULID]*account.Account),
		byEmail:   make(map[string]ulid.ULID),
		bySession: make(map[string]ulid.ULID),
		byReset:   make(map[string]ulid.ULID),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Create stores a new account.
func (s *Store) Create(_ context.Context, email, passwordDigest string) (*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[email]; taken {
		return nil, account.ConflictError("email")
	}

	acct := account.NewAccount(email, passwordDigest)
	s.byID[acct.ID] = acct
	s.byEmail[email] = acct.ID
	return acct.Clone(), nil
}

// FindByEmail returns the account registered with email.
func (s *Store) FindByEmail(_ context.Context, email string) (*account.Account, error) {
	return s.lookup(s.byEmail, email, "email")
}

// FindBySessionToken returns the account owning the session token.
func (s *Store) FindBySessionToken(_ context.Context, token string) (*account.Account, error) {
	return s.lookup(s.bySession, token, "session_token")
}

// FindByResetToken returns the account owning the reset token.
func (s *Store) FindByResetToken(_ context.Context, token string) (*account.Account, error) {
	return s.lookup(s.byReset, token, "reset_token")
}

func (s *Store) lookup(index map[string]ulid.ULID, key, name string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := index[key]
	if !ok {
		return nil, account.NotFoundError("lookup", name)
	}
	return s.byID[id].Clone(), nil
}

// SetSessionToken overwrites the account's session token.
func (s *Store) SetSessionToken(_ context.Context, id ulid.ULID, token *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.byID[id]
	if !ok {
		return account.NotFoundError("account_id", id.String())
	}
	if err := reindex(s.bySession, id, acct.SessionToken, token, "session_token"); err != nil {
		return err
	}
	acct.SessionToken = clone(token)
	acct.UpdatedAt = time.Now().UTC()
	return nil
}

// SetResetToken overwrites the account's reset token.
func (s *Store) SetResetToken(_ context.Context, id ulid.ULID, token *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.byID[id]
	if !ok {
		return account.NotFoundError("account_id", id.String())
	}
	if err := reindex(s.byReset, id, acct.ResetToken, token, "reset_token"); err != nil {
		return err
	}
	acct.ResetToken = clone(token)
	acct.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdatePassword replaces the digest and clears the reset token.
func (s *Store) UpdatePassword(_ context.Context, id ulid.ULID, newDigest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.byID[id]
	if !ok {
		return account.NotFoundError("account_id", id.String())
	}
	if acct.ResetToken != nil {
		delete(s.byReset, *acct.ResetToken)
	}
	acct.PasswordDigest = newDigest
	acct.ResetToken = nil
	acct.UpdatedAt = time.Now().UTC()
	return nil
}

// Len returns the number of stored accounts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// reindex moves id from old to next in index. The caller holds the write lock.
func reindex(index map[string]ulid.ULID, id ulid.ULID, old, next *string, name string) error {
	if next != nil {
		if owner, taken := index[*next]; taken && owner != id {
			return account.ConflictError(name)
		}
	}
	if old != nil {
		delete(index, *old)
	}
	if next != nil {
		index[*next] = id
	}
	return nil
}

func clone(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
