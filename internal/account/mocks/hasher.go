// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

package mocks

import (
	"github.com/stretchr/testify/mock"
)

// MockPasswordHasher is a mock of account.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a MockPasswordHasher whose expectations are
// asserted when the test ends.
func NewMockPasswordHasher(t interface {
	mock.TestingT
	Cleanup(func())
},
) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Hash mocks account.PasswordHasher.Hash.
func (m *MockPasswordHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

// Verify mocks account.PasswordHasher.Verify.
func (m *MockPasswordHasher) Verify(password, digest string) (bool, error) {
	args := m.Called(password, digest)
	return args.Bool(0), args.Error(1)
}

// NeedsUpgrade mocks account.PasswordHasher.NeedsUpgrade.
func (m *MockPasswordHasher) NeedsUpgrade(digest string) bool {
	return m.Called(digest).Bool(0)
}
