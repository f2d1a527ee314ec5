// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package main

import (
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propeval/propeval/internal/store"
	"github.com/propeval/propeval/pkg/errutil"
)

func TestParseForceVersion(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantVersion int
		wantErr     bool
	}{
		{name: "valid integer", input: "3", wantVersion: 3},
		{name: "zero is valid", input: "0", wantVersion: 0},
		{name: "surrounding whitespace is trimmed", input: "  42 ", wantVersion: 42},
		{name: "non-numeric", input: "abc", wantErr: true},
		{name: "float", input: "1.5", wantErr: true},
		{name: "trailing characters", input: "3abc", wantErr: true},
		{name: "negative", input: "-1", wantErr: true},
		{name: "empty string", input: "", wantErr: true},
		{name: "whitespace only", input: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, err := parseForceVersion(tt.input)

			if tt.wantErr {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, "INVALID_VERSION")
				assert.Equal(t, 0, version)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVersion, version)
		})
	}
}

type fakeMigrator struct {
	calls  []string
	steps  int
	forced int
	status *store.MigrationStatus
	err    error
	closed bool
}

func (m *fakeMigrator) Up() error {
	m.calls = append(m.calls, "up")
	return m.err
}

func (m *fakeMigrator) Down() error {
	m.calls = append(m.calls, "down")
	return m.err
}

func (m *fakeMigrator) Steps(n int) error {
	m.calls = append(m.calls, "steps")
	m.steps = n
	return m.err
}

func (m *fakeMigrator) Force(version int) error {
	m.calls = append(m.calls, "force")
	m.forced = version
	return m.err
}

func (m *fakeMigrator) Status() (*store.MigrationStatus, error) {
	m.calls = append(m.calls, "status")
	return m.status, m.err
}

func (m *fakeMigrator) Close() error {
	m.closed = true
	return nil
}

func migratorDeps(t *testing.T, m *fakeMigrator) *Deps {
	t.Helper()
	return &Deps{MigratorFactory: func(url string) (Migrator, error) {
		assert.Equal(t, "postgres://db.test/propeval", url)
		return m, nil
	}}
}

func TestMigrateCommand(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantCalls []string
		wantOut   string
		check     func(t *testing.T, m *fakeMigrator)
	}{
		{
			name:      "bare migrate applies everything",
			args:      nil,
			wantCalls: []string{"up"},
			wantOut:   "Migrations completed successfully",
		},
		{
			name:      "up",
			args:      []string{"up"},
			wantCalls: []string{"up"},
			wantOut:   "Migrations completed successfully",
		},
		{
			name:      "down rolls back one step by default",
			args:      []string{"down"},
			wantCalls: []string{"steps"},
			check:     func(t *testing.T, m *fakeMigrator) { assert.Equal(t, -1, m.steps) },
		},
		{
			name:      "down with steps",
			args:      []string{"down", "--steps", "2"},
			wantCalls: []string{"steps"},
			check:     func(t *testing.T, m *fakeMigrator) { assert.Equal(t, -2, m.steps) },
		},
		{
			name:      "down all",
			args:      []string{"down", "--all"},
			wantCalls: []string{"down"},
			wantOut:   "Rollback completed successfully",
		},
		{
			name:      "force",
			args:      []string{"force", "2"},
			wantCalls: []string{"force"},
			wantOut:   "Forced schema version 2",
			check:     func(t *testing.T, m *fakeMigrator) { assert.Equal(t, 2, m.forced) },
		},
		{
			name:      "status",
			args:      []string{"status"},
			wantCalls: []string{"status"},
			wantOut:   "000002_entities",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeMigrator{status: &store.MigrationStatus{
				Version: 1,
				Applied: []store.Migration{{Version: 1, Name: "000001_catalog"}},
				Pending: []store.Migration{{Version: 2, Name: "000002_entities"}},
			}}
			args := append([]string{"migrate"}, tt.args...)
			args = append(args, "--database-url", "postgres://db.test/propeval")

			out, _, err := execute(t, migratorDeps(t, m), args...)
			require.NoError(t, err)

			assert.Equal(t, tt.wantCalls, m.calls)
			assert.True(t, m.closed, "migrator must be closed")
			if tt.wantOut != "" {
				assert.Contains(t, out, tt.wantOut)
			}
			if tt.check != nil {
				tt.check(t, m)
			}
		})
	}
}

func TestMigrateCommand_Status(t *testing.T) {
	m := &fakeMigrator{status: &store.MigrationStatus{
		Version: 2,
		Dirty:   true,
		Applied: []store.Migration{{Version: 1, Name: "000001_catalog"}, {Version: 2, Name: "000002_entities"}},
		Pending: []store.Migration{{Version: 3, Name: "000003_evaluation_queue"}},
	}}

	out, _, err := execute(t, migratorDeps(t, m), "migrate", "status", "--database-url", "postgres://db.test/propeval")
	require.NoError(t, err)

	assert.Contains(t, out, "Schema version: 2 (dirty)")
	assert.Regexp(t, `2\s+000002_entities\s+applied`, out)
	assert.Regexp(t, `3\s+000003_evaluation_queue\s+pending`, out)
}

func TestMigrateCommand_Errors(t *testing.T) {
	t.Run("database URL required", func(t *testing.T) {
		_, _, err := execute(t, migratorDeps(t, &fakeMigrator{}), "migrate", "up")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "DATABASE_URL_MISSING")
	})

	t.Run("invalid force version", func(t *testing.T) {
		m := &fakeMigrator{}
		_, _, err := execute(t, migratorDeps(t, m), "migrate", "force", "x", "--database-url", "postgres://db.test/propeval")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "INVALID_VERSION")
		assert.Empty(t, m.calls)
	})

	t.Run("invalid steps", func(t *testing.T) {
		_, _, err := execute(t, migratorDeps(t, &fakeMigrator{}), "migrate", "down", "--steps", "0", "--database-url", "postgres://db.test/propeval")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	})

	t.Run("migration failure closes migrator", func(t *testing.T) {
		m := &fakeMigrator{err: oops.Code("MIGRATION_UP_FAILED").Errorf("syntax error")}
		_, _, err := execute(t, migratorDeps(t, m), "migrate", "up", "--database-url", "postgres://db.test/propeval")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "MIGRATION_UP_FAILED")
		assert.True(t, m.closed)
	})

	t.Run("migrator cannot open", func(t *testing.T) {
		deps := &Deps{MigratorFactory: func(string) (Migrator, error) { return nil, errors.New("bad url") }}
		_, _, err := execute(t, deps, "migrate", "up", "--database-url", "postgres://db.test/propeval")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "MIGRATION_INIT_FAILED")
	})
}
