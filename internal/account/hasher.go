// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

package account

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// OWASP-recommended argon2id parameters.
const (
	argon2Time    = 1         // iterations
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4         // parallelism
	argon2SaltLen = 16        // salt length in bytes
	argon2KeyLen  = 32        // output length in bytes

	// Upper bounds accepted from stored digests.
	argon2MaxTime   = 64
	argon2MaxMemory = 256 * 1024 // 256 MiB in KiB
)

// bcryptMaxPasswordLen is the longest input bcrypt accepts.
const bcryptMaxPasswordLen = 72

// Hasher algorithm names accepted by NewHasher.
const (
	AlgorithmArgon2id = "argon2id"
	AlgorithmBcrypt   = "bcrypt"
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("PASSWORD_EMPTY").Errorf("password cannot be empty")

// ErrPasswordTooLong is returned by the bcrypt hasher for passwords over
// 72 bytes.
var ErrPasswordTooLong = oops.Code("PASSWORD_TOO_LONG").Errorf("password exceeds %d bytes", bcryptMaxPasswordLen)

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a salted digest of the password.
	Hash(password string) (string, error)

	// Verify checks if the password matches the digest.
	// Returns (true, nil) on match, (false, nil) on mismatch, or error on invalid digest.
	Verify(password, digest string) (bool, error)

	// NeedsUpgrade returns true if the digest was produced by another
	// algorithm or with weaker parameters than the hasher's current ones.
	NeedsUpgrade(digest string) bool
}

// NewHasher returns a PasswordHasher that hashes with the named algorithm
// and verifies digests of either supported algorithm.
func NewHasher(algorithm string, bcryptCost int) (*DigestHasher, error) {
	argon := NewArgon2idHasher()
	bc, err := NewBcryptHasher(bcryptCost)
	if err != nil {
		return nil, err
	}

	switch algorithm {
	case "", AlgorithmArgon2id:
		return &DigestHasher{primary: argon, argon2id: argon, bcrypt: bc}, nil
	case AlgorithmBcrypt:
		return &DigestHasher{primary: bc, argon2id: argon, bcrypt: bc}, nil
	default:
		return nil, oops.Code("HASHER_UNKNOWN").
			With("algorithm", algorithm).
			Errorf("unknown password hasher %q", algorithm)
	}
}

// DigestHasher hashes with one algorithm and dispatches Verify on the
// digest prefix, so digests written before a hasher change keep working.
type DigestHasher struct {
	primary  PasswordHasher
	argon2id *Argon2idHasher
	bcrypt   *BcryptHasher
}

// Hash produces a digest with the configured algorithm.
func (h *DigestHasher) Hash(password string) (string, error) {
	return h.primary.Hash(password)
}

// Verify checks password against digest using the digest's own algorithm.
func (h *DigestHasher) Verify(password, digest string) (bool, error) {
	switch {
	case strings.HasPrefix(digest, "$argon2id$"):
		return h.argon2id.Verify(password, digest)
	case strings.HasPrefix(digest, "$2a$"), strings.HasPrefix(digest, "$2b$"), strings.HasPrefix(digest, "$2y$"):
		return h.bcrypt.Verify(password, digest)
	default:
		return h.primary.Verify(password, digest)
	}
}

// NeedsUpgrade reports whether digest differs from what Hash would produce
// now, in algorithm or cost.
func (h *DigestHasher) NeedsUpgrade(digest string) bool {
	return h.primary.NeedsUpgrade(digest)
}

// Argon2idHasher implements PasswordHasher using argon2id.
type Argon2idHasher struct{}

// NewArgon2idHasher creates a new Argon2idHasher.
func NewArgon2idHasher() *Argon2idHasher {
	return &Argon2idHasher{}
}

// Hash produces an argon2id digest in PHC string format.
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("PASSWORD_SALT_FAILED").Wrap(err)
	}

	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	encoded := fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argon2Memory,
		argon2Time,
		argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)

	return encoded, nil
}

// argon2Params holds the parameters parsed out of a PHC digest.
type argon2Params struct {
	memory  uint32
	time    uint32
	threads uint32
	salt    []byte
	key     []byte
}

func parseArgon2id(encoded string) (*argon2Params, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return nil, oops.Code("PASSWORD_INVALID_DIGEST").Errorf("invalid digest format")
	}

	if parts[1] != AlgorithmArgon2id {
		return nil, oops.Code("PASSWORD_INVALID_DIGEST").Errorf("unsupported digest algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, oops.Code("PASSWORD_INVALID_DIGEST").Wrap(err)
	}
	if version != argon2.Version {
		return nil, oops.Code("PASSWORD_INVALID_DIGEST").Errorf("unsupported argon2 version %d", version)
	}

	p := &argon2Params{}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return nil, oops.Code("PASSWORD_INVALID_DIGEST").Wrap(err)
	}

	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, oops.Code("PASSWORD_INVALID_DIGEST").Wrap(err)
	}
	if p.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, oops.Code("PASSWORD_INVALID_DIGEST").Wrap(err)
	}

	if p.time == 0 || p.time > argon2MaxTime {
		return nil, oops.Code("PASSWORD_INVALID_DIGEST").Errorf("time value %d out of range", p.time)
	}
	if p.memory == 0 || p.memory > argon2MaxMemory {
		return nil, oops.Code("PASSWORD_INVALID_DIGEST").Errorf("memory value %d out of range", p.memory)
	}
	// threads must fit in uint8
	if p.threads == 0 || p.threads > 255 {
		return nil, oops.Code("PASSWORD_INVALID_DIGEST").Errorf("threads value %d out of range", p.threads)
	}
	if len(p.key) == 0 || len(p.key) > 1<<10 {
		return nil, oops.Code("PASSWORD_INVALID_DIGEST").Errorf("invalid digest key length: %d", len(p.key))
	}

	return p, nil
}

// Verify checks if the password matches the argon2id digest.
func (h *Argon2idHasher) Verify(password, encoded string) (bool, error) {
	p, err := parseArgon2id(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, uint8(p.threads), uint32(len(p.key)))

	return subtle.ConstantTimeCompare(computed, p.key) == 1, nil
}

// NeedsUpgrade returns true if the digest is not argon2id or uses weaker
// cost parameters than the current defaults.
func (h *Argon2idHasher) NeedsUpgrade(encoded string) bool {
	p, err := parseArgon2id(encoded)
	if err != nil {
		return true
	}
	return p.memory < argon2Memory || p.time < argon2Time || len(p.key) < argon2KeyLen
}

// BcryptHasher implements PasswordHasher using bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a BcryptHasher. A cost of zero selects
// bcrypt.DefaultCost.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, oops.Code("HASHER_INVALID_COST").
			With("cost", cost).
			Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &BcryptHasher{cost: cost}, nil
}

// Hash produces a bcrypt digest of the password.
func (h *BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if len(password) > bcryptMaxPasswordLen {
		return "", ErrPasswordTooLong
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", oops.Code("PASSWORD_HASH_FAILED").Wrap(err)
	}
	return string(digest), nil
}

// Verify checks if the password matches the bcrypt digest. Passwords
// longer than bcrypt accepts never match.
func (h *BcryptHasher) Verify(password, digest string) (bool, error) {
	if len(password) > bcryptMaxPasswordLen {
		// Hash never accepts such a password.
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, oops.Code("PASSWORD_INVALID_DIGEST").Wrap(err)
	}
}

// NeedsUpgrade returns true if the digest is not bcrypt or was produced
// with a lower cost.
func (h *BcryptHasher) NeedsUpgrade(digest string) bool {
	cost, err := bcrypt.Cost([]byte(digest))
	if err != nil {
		return true
	}
	return cost < h.cost
}
