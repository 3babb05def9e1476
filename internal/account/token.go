// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

package account

import (
	"github.com/google/uuid"
	"github.com/samber/oops"
)

// TokenGenerator produces opaque bearer tokens for sessions and resets.
type TokenGenerator func() (string, error)

// NewToken returns a random (version 4) UUID string: 122 bits from
// crypto/rand.
func NewToken() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", oops.Code("TOKEN_GENERATE_FAILED").Wrap(err)
	}
	return id.String(), nil
}
