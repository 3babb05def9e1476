// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

// Package redis provides an account.Store backed by Redis.
//
// Each account is a JSON document under <prefix>account:<id>. Unique
// attributes are index keys holding the account id:
//
//	<prefix>email:<email>
//	<prefix>session:<token>
//	<prefix>reset:<token>
//
// Mutations WATCH the account key and the index keys they claim and apply
// all writes in one MULTI/EXEC, retrying when a watched key changes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/usherauth/usher/internal/account"
)

// DefaultKeyPrefix namespaces every key written by Store.
const DefaultKeyPrefix = "usher:"

// maxTxRetries bounds optimistic transaction retries per mutation.
const maxTxRetries = 100

// record is the stored JSON form of an account.
type record struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	PasswordDigest string    `json:"password_digest"`
	SessionToken   *string   `json:"session_token,omitempty"`
	ResetToken     *string   `json:"reset_token,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toRecord(a *account.Account) record {
	return record{
		ID:             a.ID.String(),
		Email:          a.Email,
		PasswordDigest: a.PasswordDigest,
		SessionToken:   a.SessionToken,
		ResetToken:     a.ResetToken,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func (r record) toAccount() (*account.Account, error) {
	id, err := ulid.Parse(r.ID)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").With("id", r.ID).Wrap(err)
	}
	return &account.Account{
		ID:             id,
		Email:          r.Email,
		PasswordDigest: r.PasswordDigest,
		SessionToken:   r.SessionToken,
		ResetToken:     r.ResetToken,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}, nil
}

// Store implements account.Store on a Redis client.
type Store struct {
	rdb    *redis.Client
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix replaces DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// NewStore creates a Store over rdb.
func NewStore(rdb *redis.Client, opts ...Option) *Store {
	s := &Store{rdb: rdb, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open parses a redis:// URL, connects, and pings the server.
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, oops.Code("REDIS_CONFIG_INVALID").With("operation", "parse redis url").Wrap(err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close() //nolint:errcheck // ping error takes precedence
		return nil, account.StoreError("ping redis", err)
	}
	return rdb, nil
}

// Ping checks server reachability.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return account.StoreError("ping", err)
	}
	return nil
}

func (s *Store) accountKey(id string) string    { return s.prefix + "account:" + id }
func (s *Store) emailKey(email string) string   { return s.prefix + "email:" + email }
func (s *Store) sessionKey(token string) string { return s.prefix + "session:" + token }
func (s *Store) resetKey(token string) string   { return s.prefix + "reset:" + token }

// Create stores a new account and claims its email index.
func (s *Store) Create(ctx context.Context, email, passwordDigest string) (*account.Account, error) {
	acct := account.NewAccount(email, passwordDigest)
	payload, err := json.Marshal(toRecord(acct))
	if err != nil {
		return nil, oops.Code("ACCOUNT_ENCODE_FAILED").Wrap(err)
	}

	emailKey := s.emailKey(email)
	err = s.transact(ctx, "create account", func(tx *redis.Tx) error {
		taken, err := tx.Exists(ctx, emailKey).Result()
		if err != nil {
			return err
		}
		if taken > 0 {
			return account.ConflictError("email")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.accountKey(acct.ID.String()), payload, 0)
			pipe.Set(ctx, emailKey, acct.ID.String(), 0)
			return nil
		})
		return err
	}, emailKey)
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// FindByEmail returns the account registered with email.
func (s *Store) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	return s.findByIndex(ctx, s.emailKey(email), "email")
}

// FindBySessionToken returns the account owning the session token.
func (s *Store) FindBySessionToken(ctx context.Context, token string) (*account.Account, error) {
	return s.findByIndex(ctx, s.sessionKey(token), "session_token")
}

// FindByResetToken returns the account owning the reset token.
func (s *Store) FindByResetToken(ctx context.Context, token string) (*account.Account, error) {
	return s.findByIndex(ctx, s.resetKey(token), "reset_token")
}

func (s *Store) findByIndex(ctx context.Context, indexKey, name string) (*account.Account, error) {
	id, err := s.rdb.Get(ctx, indexKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, account.NotFoundError("lookup", name)
	}
	if err != nil {
		return nil, account.StoreError("find account by "+name, err)
	}

	acct, err := load(ctx, s.rdb, s.accountKey(id))
	if err != nil {
		if account.IsNotFound(err) {
			// Index outlived its record.
			return nil, account.NotFoundError("lookup", name)
		}
		return nil, account.StoreError("load account", err)
	}
	return acct, nil
}

// tokenField selects which token an update touches.
type tokenField struct {
	name  string
	key   func(token string) string
	get   func(*account.Account) *string
	set   func(*account.Account, *string)
	label string
}

func (s *Store) sessionField() tokenField {
	return tokenField{
		name:  "session_token",
		key:   s.sessionKey,
		get:   func(a *account.Account) *string { return a.SessionToken },
		set:   func(a *account.Account, t *string) { a.SessionToken = t },
		label: "set session token",
	}
}

func (s *Store) resetField() tokenField {
	return tokenField{
		name:  "reset_token",
		key:   s.resetKey,
		get:   func(a *account.Account) *string { return a.ResetToken },
		set:   func(a *account.Account, t *string) { a.ResetToken = t },
		label: "set reset token",
	}
}

// SetSessionToken overwrites the session token; nil clears it.
func (s *Store) SetSessionToken(ctx context.Context, id ulid.ULID, token *string) error {
	return s.setToken(ctx, id, token, s.sessionField())
}

// SetResetToken overwrites the reset token; nil clears it.
func (s *Store) SetResetToken(ctx context.Context, id ulid.ULID, token *string) error {
	return s.setToken(ctx, id, token, s.resetField())
}

func (s *Store) setToken(ctx context.Context, id ulid.ULID, token *string, field tokenField) error {
	accountKey := s.accountKey(id.String())
	watched := []string{accountKey}
	if token != nil {
		watched = append(watched, field.key(*token))
	}

	return s.transact(ctx, field.label, func(tx *redis.Tx) error {
		acct, err := load(ctx, tx, accountKey)
		if err != nil {
			return err
		}

		if token != nil {
			owner, err := tx.Get(ctx, field.key(*token)).Result()
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return err
			case owner != id.String():
				return account.ConflictError(field.name)
			}
		}

		old := field.get(acct)
		field.set(acct, token)
		acct.UpdatedAt = time.Now().UTC()
		payload, err := json.Marshal(toRecord(acct))
		if err != nil {
			return oops.Code("ACCOUNT_ENCODE_FAILED").Wrap(err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if old != nil && (token == nil || *old != *token) {
				pipe.Del(ctx, field.key(*old))
			}
			if token != nil {
				pipe.Set(ctx, field.key(*token), id.String(), 0)
			}
			pipe.Set(ctx, accountKey, payload, 0)
			return nil
		})
		return err
	}, watched...)
}

// UpdatePassword replaces the digest and drops the reset token and its
// index in one transaction.
func (s *Store) UpdatePassword(ctx context.Context, id ulid.ULID, newDigest string) error {
	accountKey := s.accountKey(id.String())

	return s.transact(ctx, "update password", func(tx *redis.Tx) error {
		acct, err := load(ctx, tx, accountKey)
		if err != nil {
			return err
		}

		old := acct.ResetToken
		acct.PasswordDigest = newDigest
		acct.ResetToken = nil
		acct.UpdatedAt = time.Now().UTC()
		payload, err := json.Marshal(toRecord(acct))
		if err != nil {
			return oops.Code("ACCOUNT_ENCODE_FAILED").Wrap(err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if old != nil {
				pipe.Del(ctx, s.resetKey(*old))
			}
			pipe.Set(ctx, accountKey, payload, 0)
			return nil
		})
		return err
	}, accountKey)
}

// transact runs fn under WATCH on keys, retrying when a watched key
// changed before EXEC. Account sentinel errors pass through; anything
// else becomes a store failure.
func (s *Store) transact(ctx context.Context, operation string, fn func(*redis.Tx) error, keys ...string) error {
	var err error
	for range maxTxRetries {
		err = s.rdb.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, account.ErrNotFound), errors.Is(err, account.ErrConflict):
		return err
	default:
		return account.StoreError(operation, err)
	}
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// load reads and decodes one account document.
func load(ctx context.Context, c getter, key string) (*account.Account, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, account.NotFoundError("key", key)
	}
	if err != nil {
		return nil, err //nolint:wrapcheck // classified by callers
	}

	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, oops.Code("ACCOUNT_DECODE_FAILED").With("key", key).Wrap(err)
	}
	return r.toAccount()
}
