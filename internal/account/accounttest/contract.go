// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

// Package accounttest holds the behavioral contract every account.Store
// implementation is tested against.
package accounttest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usherauth/usher/internal/account"
)

// StoreFactory returns an empty store for one subtest.
type StoreFactory func(t *testing.T) account.Store

// RunStoreContract runs the shared Store behavior tests against stores built
// by newStore.
func RunStoreContract(t *testing.T, newStore StoreFactory) {
	t.Helper()
	ctx := context.Background()

	t.Run("create then find by email", func(t *testing.T) {
		s := newStore(t)
		email := uniqueEmail("find")

		created, err := s.Create(ctx, email, "digest-1")
		require.NoError(t, err)
		assert.NotEqual(t, ulid.ULID{}, created.ID)
		assert.Equal(t, email, created.Email)
		assert.Nil(t, created.SessionToken)
		assert.Nil(t, created.ResetToken)

		found, err := s.FindByEmail(ctx, email)
		require.NoError(t, err)
		assert.Equal(t, created.ID, found.ID)
		assert.Equal(t, "digest-1", found.PasswordDigest)
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		s := newStore(t)
		email := uniqueEmail("dup")

		first, err := s.Create(ctx, email, "digest-1")
		require.NoError(t, err)

		_, err = s.Create(ctx, email, "digest-2")
		require.ErrorIs(t, err, account.ErrConflict)

		found, err := s.FindByEmail(ctx, email)
		require.NoError(t, err)
		assert.Equal(t, first.ID, found.ID)
		assert.Equal(t, "digest-1", found.PasswordDigest)
	})

	t.Run("lookups miss with ErrNotFound", func(t *testing.T) {
		s := newStore(t)

		_, err := s.FindByEmail(ctx, uniqueEmail("missing"))
		assert.ErrorIs(t, err, account.ErrNotFound)
		_, err = s.FindBySessionToken(ctx, "no-such-session")
		assert.ErrorIs(t, err, account.ErrNotFound)
		_, err = s.FindByResetToken(ctx, "no-such-reset")
		assert.ErrorIs(t, err, account.ErrNotFound)
	})

	t.Run("session token set replace and clear", func(t *testing.T) {
		s := newStore(t)
		acct, err := s.Create(ctx, uniqueEmail("session"), "digest")
		require.NoError(t, err)

		first := "session-" + ulid.Make().String()
		require.NoError(t, s.SetSessionToken(ctx, acct.ID, &first))

		found, err := s.FindBySessionToken(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, acct.ID, found.ID)
		require.NotNil(t, found.SessionToken)
		assert.Equal(t, first, *found.SessionToken)

		second := "session-" + ulid.Make().String()
		require.NoError(t, s.SetSessionToken(ctx, acct.ID, &second))

		_, err = s.FindBySessionToken(ctx, first)
		assert.ErrorIs(t, err, account.ErrNotFound, "replaced token must no longer resolve")

		require.NoError(t, s.SetSessionToken(ctx, acct.ID, nil))
		require.NoError(t, s.SetSessionToken(ctx, acct.ID, nil), "clearing twice is idempotent")

		_, err = s.FindBySessionToken(ctx, second)
		assert.ErrorIs(t, err, account.ErrNotFound)
	})

	t.Run("session token held by another account conflicts", func(t *testing.T) {
		s := newStore(t)
		a, err := s.Create(ctx, uniqueEmail("owner-a"), "digest")
		require.NoError(t, err)
		b, err := s.Create(ctx, uniqueEmail("owner-b"), "digest")
		require.NoError(t, err)

		token := "session-" + ulid.Make().String()
		require.NoError(t, s.SetSessionToken(ctx, a.ID, &token))

		err = s.SetSessionToken(ctx, b.ID, &token)
		require.ErrorIs(t, err, account.ErrConflict)

		found, err := s.FindBySessionToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, a.ID, found.ID)
	})

	t.Run("set token on unknown account", func(t *testing.T) {
		s := newStore(t)
		token := "session-" + ulid.Make().String()

		err := s.SetSessionToken(ctx, ulid.Make(), &token)
		assert.ErrorIs(t, err, account.ErrNotFound)
		err = s.SetResetToken(ctx, ulid.Make(), &token)
		assert.ErrorIs(t, err, account.ErrNotFound)
		err = s.UpdatePassword(ctx, ulid.Make(), "digest")
		assert.ErrorIs(t, err, account.ErrNotFound)
	})

	t.Run("update password clears reset token and keeps session", func(t *testing.T) {
		s := newStore(t)
		email := uniqueEmail("reset")
		acct, err := s.Create(ctx, email, "old-digest")
		require.NoError(t, err)

		session := "session-" + ulid.Make().String()
		reset := "reset-" + ulid.Make().String()
		require.NoError(t, s.SetSessionToken(ctx, acct.ID, &session))
		require.NoError(t, s.SetResetToken(ctx, acct.ID, &reset))

		found, err := s.FindByResetToken(ctx, reset)
		require.NoError(t, err)
		assert.Equal(t, acct.ID, found.ID)

		require.NoError(t, s.UpdatePassword(ctx, acct.ID, "new-digest"))

		_, err = s.FindByResetToken(ctx, reset)
		assert.ErrorIs(t, err, account.ErrNotFound)

		found, err = s.FindByEmail(ctx, email)
		require.NoError(t, err)
		assert.Equal(t, "new-digest", found.PasswordDigest)
		assert.Nil(t, found.ResetToken)
		require.NotNil(t, found.SessionToken)
		assert.Equal(t, session, *found.SessionToken)
	})

	t.Run("returned accounts are copies", func(t *testing.T) {
		s := newStore(t)
		email := uniqueEmail("copy")
		acct, err := s.Create(ctx, email, "digest")
		require.NoError(t, err)

		acct.PasswordDigest = "tampered"

		found, err := s.FindByEmail(ctx, email)
		require.NoError(t, err)
		assert.Equal(t, "digest", found.PasswordDigest)
	})

	t.Run("concurrent session writes leave one definite token", func(t *testing.T) {
		s := newStore(t)
		email := uniqueEmail("race")
		acct, err := s.Create(ctx, email, "digest")
		require.NoError(t, err)

		const writers = 16
		tokens := make([]string, writers)
		var wg sync.WaitGroup
		for i := range writers {
			tokens[i] = fmt.Sprintf("race-%d-%s", i, ulid.Make())
			wg.Add(1)
			go func(token string) {
				defer wg.Done()
				assert.NoError(t, s.SetSessionToken(ctx, acct.ID, &token))
			}(tokens[i])
		}
		wg.Wait()

		found, err := s.FindByEmail(ctx, email)
		require.NoError(t, err)
		require.NotNil(t, found.SessionToken)

		resolved := 0
		for _, token := range tokens {
			if _, err := s.FindBySessionToken(ctx, token); err == nil {
				resolved++
				assert.Equal(t, *found.SessionToken, token)
			}
		}
		assert.Equal(t, 1, resolved, "exactly one written token may resolve")
	})
}

// uniqueEmail returns a normalized address no other subtest uses, so
// contract runs can share one database.
func uniqueEmail(prefix string) string {
	return account.NormalizeEmail(fmt.Sprintf("%s-%s@example.com", prefix, ulid.Make()))
}
