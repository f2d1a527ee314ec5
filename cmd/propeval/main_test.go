// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cellsFixture = "../../internal/fixture/testdata/cells.yaml"

// execute runs the CLI with args against deps. Config and DATABASE_URL are
// isolated from the environment running the tests.
func execute(t *testing.T, deps *Deps, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	configFile = ""
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("DATABASE_URL", "")

	cmd := newRootCmd(deps)
	out, errOut := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(append(args, "--log-level", "error"))

	err = cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	out, _, err := execute(t, nil, "--help")
	require.NoError(t, err)

	for _, sub := range []string{"evaluate", "eval-script", "migrate", "enqueue", "request", "worker", "schema", "calculators"} {
		assert.Contains(t, out, sub, "Help missing %q command", sub)
	}
}

func TestRootCommand_ConfigFlag(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantFlag string
	}{
		{
			name:     "separate value",
			args:     []string{"--config", "/path/to/config.yaml", "--help"},
			wantFlag: "/path/to/config.yaml",
		},
		{
			name:     "config flag with equals",
			args:     []string{"--config=/etc/propeval.yaml", "--help"},
			wantFlag: "/etc/propeval.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile = ""

			cmd := NewRootCmd()
			cmd.SetOut(new(bytes.Buffer))
			cmd.SetArgs(tt.args)

			require.NoError(t, cmd.Execute())
			assert.Equal(t, tt.wantFlag, configFile)
		})
	}
}

func TestRootCommand_MissingConfigFile(t *testing.T) {
	_, _, err := execute(t, nil, "calculators", "--config", "/nonexistent/propeval.yaml")
	require.NoError(t, err, "calculators does not load configuration")

	_, _, err = execute(t, nil, "evaluate", "--fixture", cellsFixture, "--config", "/nonexistent/propeval.yaml")
	require.Error(t, err)
}

func TestRootCommand_VersionFlag(t *testing.T) {
	cmd := NewRootCmd()
	cmd.Version = "test-version"
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "test-version")
}

func TestCalculatorsCommand(t *testing.T) {
	out, _, err := execute(t, nil, "calculators")
	require.NoError(t, err)

	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "parent-codes")
	assert.Contains(t, out, "property-count")
}

func TestSchemaCommand(t *testing.T) {
	out, _, err := execute(t, nil, "schema")
	require.NoError(t, err)
	assert.Contains(t, out, `"$id": "https://propeval.dev/schemas/fixture.schema.json"`)

	out, _, err = execute(t, nil, "schema", "--validate", cellsFixture)
	require.NoError(t, err)
	assert.Contains(t, out, "valid")

	_, _, err = execute(t, nil, "schema", "--validate", "/nonexistent.yaml")
	require.Error(t, err)
}
