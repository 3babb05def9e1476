// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Usher Contributors

package store

import (
	"errors"
	"regexp"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usherauth/usher/pkg/errutil"
)

// latestVersion is the highest embedded migration.
const latestVersion = 2

func TestNewMigrator_InvalidURL(t *testing.T) {
	_, err := NewMigrator("invalid://url")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
}

func TestNewMigrator_PostgresqlScheme(t *testing.T) {
	// Fails on connect, not on an unknown driver.
	_, err := NewMigrator("postgresql://localhost:1/testdb?connect_timeout=1")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
	assert.NotContains(t, err.Error(), "unknown driver")
}

// mockMigrate implements migrateIface for testing.
type mockMigrate struct {
	upErr          error
	downErr        error
	stepsErr       error
	versionVal     uint
	versionErr     error
	dirty          bool
	forceErr       error
	closeSourceErr error
	closeDbErr     error
}

func (m *mockMigrate) Up() error                    { return m.upErr }
func (m *mockMigrate) Down() error                  { return m.downErr }
func (m *mockMigrate) Steps(_ int) error            { return m.stepsErr }
func (m *mockMigrate) Version() (uint, bool, error) { return m.versionVal, m.dirty, m.versionErr }
func (m *mockMigrate) Force(_ int) error            { return m.forceErr }
func (m *mockMigrate) Close() (error, error)        { return m.closeSourceErr, m.closeDbErr }

func TestMigrator_Operations(t *testing.T) {
	tests := []struct {
		name     string
		mock     *mockMigrate
		run      func(*Migrator) error
		wantCode string
	}{
		{"up", &mockMigrate{}, (*Migrator).Up, ""},
		{"up no change", &mockMigrate{upErr: migrate.ErrNoChange}, (*Migrator).Up, ""},
		{"up failure", &mockMigrate{upErr: errors.New("database locked")}, (*Migrator).Up, "MIGRATION_UP_FAILED"},
		{"down", &mockMigrate{}, (*Migrator).Down, ""},
		{"down no change", &mockMigrate{downErr: migrate.ErrNoChange}, (*Migrator).Down, ""},
		{"down failure", &mockMigrate{downErr: errors.New("constraint violation")}, (*Migrator).Down, "MIGRATION_DOWN_FAILED"},
		{"steps", &mockMigrate{}, func(m *Migrator) error { return m.Steps(1) }, ""},
		{"steps zero", &mockMigrate{stepsErr: migrate.ErrNoChange}, func(m *Migrator) error { return m.Steps(0) }, ""},
		{"steps failure", &mockMigrate{stepsErr: errors.New("invalid step")}, func(m *Migrator) error { return m.Steps(5) }, "MIGRATION_STEPS_FAILED"},
		{"force", &mockMigrate{}, func(m *Migrator) error { return m.Force(1) }, ""},
		{"force negative", &mockMigrate{}, func(m *Migrator) error { return m.Force(-1) }, "INVALID_VERSION"},
		{"force failure", &mockMigrate{forceErr: errors.New("invalid version")}, func(m *Migrator) error { return m.Force(1) }, "MIGRATION_FORCE_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run(&Migrator{m: tt.mock})
			if tt.wantCode == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestMigrator_Version(t *testing.T) {
	t.Run("dirty", func(t *testing.T) {
		m := &Migrator{m: &mockMigrate{versionVal: 1, dirty: true}}
		version, dirty, err := m.Version()
		require.NoError(t, err)
		assert.Equal(t, uint(1), version)
		assert.True(t, dirty)
	})

	t.Run("fresh database", func(t *testing.T) {
		m := &Migrator{m: &mockMigrate{versionErr: migrate.ErrNilVersion}}
		version, dirty, err := m.Version()
		require.NoError(t, err)
		assert.Equal(t, uint(0), version)
		assert.False(t, dirty)
	})

	t.Run("failure", func(t *testing.T) {
		m := &Migrator{m: &mockMigrate{versionErr: errors.New("connection lost")}}
		_, _, err := m.Version()
		errutil.AssertErrorCode(t, err, "MIGRATION_VERSION_FAILED")
	})
}

func TestMigrator_Close(t *testing.T) {
	tests := []struct {
		name          string
		mock          *mockMigrate
		wantComponent string
	}{
		{"clean", &mockMigrate{}, ""},
		{"source", &mockMigrate{closeSourceErr: errors.New("source close failed")}, "source"},
		{"database", &mockMigrate{closeDbErr: errors.New("db close failed")}, "database"},
		{"both", &mockMigrate{
			closeSourceErr: errors.New("source close failed"),
			closeDbErr:     errors.New("db close failed"),
		}, "both"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Migrator{m: tt.mock}).Close()
			if tt.wantComponent == "" {
				require.NoError(t, err)
				return
			}
			errutil.AssertErrorCode(t, err, "MIGRATION_CLOSE_FAILED")
			errutil.AssertErrorContext(t, err, "component", tt.wantComponent)
		})
	}
}

func TestMigrator_PendingAndApplied(t *testing.T) {
	tests := []struct {
		name        string
		mock        *mockMigrate
		wantPending []uint
		wantApplied []uint
	}{
		{"fresh", &mockMigrate{versionErr: migrate.ErrNilVersion}, []uint{1, 2}, nil},
		{"partial", &mockMigrate{versionVal: 1}, []uint{2}, []uint{1}},
		{"latest", &mockMigrate{versionVal: latestVersion}, nil, []uint{1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Migrator{m: tt.mock}

			pending, err := m.PendingMigrations()
			require.NoError(t, err)
			assert.Equal(t, tt.wantPending, pending)

			applied, err := m.AppliedMigrations()
			require.NoError(t, err)
			assert.Equal(t, tt.wantApplied, applied)
		})
	}

	t.Run("version failure carries operation", func(t *testing.T) {
		m := &Migrator{m: &mockMigrate{versionErr: errors.New("connection lost")}}
		_, err := m.PendingMigrations()
		errutil.AssertErrorContext(t, err, "operation", "get pending migrations")
		_, err = m.AppliedMigrations()
		errutil.AssertErrorContext(t, err, "operation", "get applied migrations")
	})
}

func TestMigrationsFS_EmbeddedFiles(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	assert.Len(t, entries, 2*latestVersion, "every migration has an up and a down file")

	pattern := regexp.MustCompile(`^\d{6}_\w+\.(up|down)\.sql$`)
	for _, entry := range entries {
		assert.True(t, pattern.MatchString(entry.Name()),
			"file %s should match NNNNNN_name.(up|down).sql", entry.Name())
	}
}

func TestMigrationName(t *testing.T) {
	name, err := MigrationName(1)
	require.NoError(t, err)
	assert.Equal(t, "000001_create_accounts", name)

	name, err = MigrationName(99)
	require.NoError(t, err)
	assert.Empty(t, name)
}
