// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

// Package mocks provides testify mocks for the account package interfaces.
package mocks

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/usherauth/usher/internal/account"
)

// MockStore is a mock of account.Store.
type MockStore struct {
	mock.Mock
}

// NewMockStore creates a MockStore whose expectations are asserted when
// the test ends.
func NewMockStore(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockStore {
	m := &MockStore{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func accountResult(args mock.Arguments) (*account.Account, error) {
	var acct *account.Account
	if v := args.Get(0); v != nil {
		acct = v.(*account.Account)
	}
	return acct, args.Error(1)
}

// Create mocks account.Store.Create.
func (m *MockStore) Create(ctx context.Context, email, passwordDigest string) (*account.Account, error) {
	return accountResult(m.Called(ctx, email, passwordDigest))
}

// FindByEmail mocks account.Store.FindByEmail.
func (m *MockStore) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	return accountResult(m.Called(ctx, email))
}

// FindBySessionToken mocks account.Store.FindBySessionToken.
func (m *MockStore) FindBySessionToken(ctx context.Context, token string) (*account.Account, error) {
	return accountResult(m.Called(ctx, token))
}

// FindByResetToken mocks account.Store.FindByResetToken.
func (m *MockStore) FindByResetToken(ctx context.Context, token string) (*account.Account, error) {
	return accountResult(m.Called(ctx, token))
}

// SetSessionToken mocks account.Store.SetSessionToken.
func (m *MockStore) SetSessionToken(ctx context.Context, id ulid.ULID, token *string) error {
	return m.Called(ctx, id, token).Error(0)
}

// SetResetToken mocks account.Store.SetResetToken.
func (m *MockStore) SetResetToken(ctx context.Context, id ulid.ULID, token *string) error {
	return m.Called(ctx, id, token).Error(0)
}

// UpdatePassword mocks account.Store.UpdatePassword.
func (m *MockStore) UpdatePassword(ctx context.Context, id ulid.ULID, newDigest string) error {
	return m.Called(ctx, id, newDigest).Error(0)
}
