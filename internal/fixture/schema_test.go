// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package fixture_test

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propeval/propeval/internal/fixture"
	"github.com/propeval/propeval/pkg/errutil"
)

func TestGenerateSchema(t *testing.T) {
	data, err := fixture.GenerateSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, fixture.SchemaID, schema["$id"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	for _, field := range []string{"vocabularies", "materials", "scripts", "property-types", "entity-types", "entities"} {
		assert.Contains(t, props, field)
	}
}

func TestValidateSchema_Testdata(t *testing.T) {
	data, err := os.ReadFile("testdata/cells.yaml")
	require.NoError(t, err)
	require.NoError(t, fixture.ValidateSchema(data))
}

func TestValidateSchema_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", "   \n"},
		{"not yaml", "entities: [unclosed"},
		{"unknown plugin", `
scripts:
  - name: s
    plugin: PYTHON
    body: x
`},
		{"unknown data type", `
property-types:
  - code: P
    data-type: BLOB
`},
		{"entity without code", `
entities:
  - kind: SAMPLE
    type: CELL
`},
		{"unknown kind", `
entity-types:
  - kind: PERSON
    code: X
    properties: []
`},
		{"non-string value", `
entities:
  - kind: SAMPLE
    type: CELL
    code: C1
    properties:
      COUNT: [1, 2]
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fixture.ValidateSchema([]byte(tt.yaml))
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, "FIXTURE_INVALID")
		})
	}
}
