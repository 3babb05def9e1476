// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

package account_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/usherauth/usher/internal/account"
	"github.com/usherauth/usher/pkg/errutil"
)

func newBcrypt(t *testing.T) *account.BcryptHasher {
	t.Helper()
	h, err := account.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	return h
}

func TestHashers(t *testing.T) {
	hashers := map[string]account.PasswordHasher{
		"argon2id": account.NewArgon2idHasher(),
		"bcrypt":   newBcrypt(t),
	}

	for name, hasher := range hashers {
		t.Run(name, func(t *testing.T) {
			t.Run("same password produces different digests", func(t *testing.T) {
				d1, err := hasher.Hash("samepassword")
				require.NoError(t, err)
				d2, err := hasher.Hash("samepassword")
				require.NoError(t, err)
				assert.NotEqual(t, d1, d2)

				for _, d := range []string{d1, d2} {
					ok, err := hasher.Verify("samepassword", d)
					require.NoError(t, err)
					assert.True(t, ok)
				}
			})

			t.Run("wrong password is false without error", func(t *testing.T) {
				d, err := hasher.Hash("correctpassword")
				require.NoError(t, err)

				ok, err := hasher.Verify("wrongpassword", d)
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("digest does not contain the password", func(t *testing.T) {
				d, err := hasher.Hash("plaintext-secret")
				require.NoError(t, err)
				assert.NotContains(t, d, "plaintext-secret")
			})

			t.Run("rejects empty password", func(t *testing.T) {
				_, err := hasher.Hash("")
				require.ErrorIs(t, err, account.ErrEmptyPassword)
			})

			t.Run("malformed digest is an error", func(t *testing.T) {
				_, err := hasher.Verify("password", "not-a-digest")
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, "PASSWORD_INVALID_DIGEST")
			})

			t.Run("fresh digest needs no upgrade", func(t *testing.T) {
				d, err := hasher.Hash("password")
				require.NoError(t, err)
				assert.False(t, hasher.NeedsUpgrade(d))
			})
		})
	}
}

func TestArgon2idHasher_Format(t *testing.T) {
	d, err := account.NewArgon2idHasher().Hash("password123")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(d, "$argon2id$v=19$m=65536,t=1,p=4$"))
	assert.Len(t, strings.Split(d, "$"), 6)
}

func TestArgon2idHasher_RejectsBadParameters(t *testing.T) {
	hasher := account.NewArgon2idHasher()

	tests := []struct {
		name   string
		digest string
	}{
		{"wrong algorithm", "$argon2i$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"},
		{"wrong version", "$argon2id$v=16$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"},
		{"zero threads", "$argon2id$v=19$m=65536,t=1,p=0$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"},
		{"too many threads", "$argon2id$v=19$m=65536,t=1,p=256$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"},
		{"bad salt encoding", "$argon2id$v=19$m=65536,t=1,p=4$!!!$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"},
		{"empty key", "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$"},
		{"zero time", "$argon2id$v=19$m=65536,t=0,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"},
		{"excessive time", "$argon2id$v=19$m=65536,t=100000,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"},
		{"zero memory", "$argon2id$v=19$m=0,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"},
		{"excessive memory", "$argon2id$v=19$m=4194304,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var (
				ok  bool
				err error
			)
			require.NotPanics(t, func() { ok, err = hasher.Verify("password", tt.digest) })
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "PASSWORD_INVALID_DIGEST")
			assert.False(t, ok)
		})
	}
}

func TestNeedsUpgrade_AcrossAlgorithms(t *testing.T) {
	argon := account.NewArgon2idHasher()
	bc := newBcrypt(t)

	argonDigest, err := argon.Hash("password")
	require.NoError(t, err)
	bcryptDigest, err := bc.Hash("password")
	require.NoError(t, err)

	assert.True(t, argon.NeedsUpgrade(bcryptDigest))
	assert.True(t, bc.NeedsUpgrade(argonDigest))
	assert.True(t, argon.NeedsUpgrade("$argon2id$v=19$m=4096,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"),
		"lower memory cost needs upgrade")

	stronger, err := account.NewBcryptHasher(bcrypt.MinCost + 1)
	require.NoError(t, err)
	assert.True(t, stronger.NeedsUpgrade(bcryptDigest))
}

func TestNewHasher(t *testing.T) {
	h, err := account.NewHasher("", 0)
	require.NoError(t, err)
	digest, err := h.Hash("password")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(digest, "$argon2id$"))

	h, err = account.NewHasher(account.AlgorithmBcrypt, bcrypt.MinCost)
	require.NoError(t, err)
	digest, err = h.Hash("password")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(digest, "$2a$"))

	_, err = account.NewHasher("md5", 0)
	errutil.AssertErrorCode(t, err, "HASHER_UNKNOWN")

	_, err = account.NewHasher(account.AlgorithmBcrypt, 99)
	errutil.AssertErrorCode(t, err, "HASHER_INVALID_COST")
}

func TestDigestHasher_VerifiesEitherAlgorithm(t *testing.T) {
	argonDigest, err := account.NewArgon2idHasher().Hash("password")
	require.NoError(t, err)
	bcryptDigest, err := newBcrypt(t).Hash("password")
	require.NoError(t, err)

	for _, algorithm := range []string{account.AlgorithmArgon2id, account.AlgorithmBcrypt} {
		t.Run(algorithm, func(t *testing.T) {
			h, err := account.NewHasher(algorithm, bcrypt.MinCost)
			require.NoError(t, err)

			for _, digest := range []string{argonDigest, bcryptDigest} {
				ok, err := h.Verify("password", digest)
				require.NoError(t, err)
				assert.True(t, ok)

				ok, err = h.Verify("wrong", digest)
				require.NoError(t, err)
				assert.False(t, ok)
			}
		})
	}
}

func TestDigestHasher_NeedsUpgradeFollowsConfiguredAlgorithm(t *testing.T) {
	argonDigest, err := account.NewArgon2idHasher().Hash("password")
	require.NoError(t, err)

	h, err := account.NewHasher(account.AlgorithmBcrypt, bcrypt.MinCost)
	require.NoError(t, err)
	assert.True(t, h.NeedsUpgrade(argonDigest))

	h, err = account.NewHasher(account.AlgorithmArgon2id, bcrypt.MinCost)
	require.NoError(t, err)
	assert.False(t, h.NeedsUpgrade(argonDigest))
}

func TestDigestHasher_UnknownDigest(t *testing.T) {
	h, err := account.NewHasher(account.AlgorithmArgon2id, 0)
	require.NoError(t, err)

	ok, err := h.Verify("password", "plaintext")
	require.Error(t, err)
	assert.False(t, ok)
}

func TestBcryptHasher_PasswordLengthLimit(t *testing.T) {
	h := newBcrypt(t)

	_, err := h.Hash(strings.Repeat("x", 72))
	require.NoError(t, err)

	_, err = h.Hash(strings.Repeat("x", 73))
	require.ErrorIs(t, err, account.ErrPasswordTooLong)
	errutil.AssertErrorCode(t, err, "PASSWORD_TOO_LONG")
}
