// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package store

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsFS_EveryUpHasDown(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)

	pattern := regexp.MustCompile(`^(\d{6}_\w+)\.(up|down)\.sql$`)
	directions := make(map[string][]string)
	for _, entry := range entries {
		m := pattern.FindStringSubmatch(entry.Name())
		require.NotNil(t, m, "file %s should match NNNNNN_name.(up|down).sql", entry.Name())
		directions[m[1]] = append(directions[m[1]], m[2])
	}

	for name, dirs := range directions {
		assert.ElementsMatch(t, []string{"down", "up"}, dirs, name)
	}
}

func TestMigrations(t *testing.T) {
	migrations, err := Migrations()
	require.NoError(t, err)

	assert.Equal(t, []Migration{
		{Version: 1, Name: "000001_catalog"},
		{Version: 2, Name: "000002_entities"},
		{Version: 3, Name: "000003_evaluation_queue"},
	}, migrations)
}
