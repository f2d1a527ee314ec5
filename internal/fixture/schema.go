// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package fixture

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

//go:generate go run ../../cmd/gen-schema --out ../../schemas/fixture.schema.json

// SchemaID is the $id of the fixture schema.
const SchemaID = "https://propeval.dev/schemas/fixture.schema.json"

var (
	compiledOnce   sync.Once
	compiledSchema *jschema.Schema
	compileErr     error
)

// GenerateSchema reflects the JSON Schema of Document.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{DoNotReference: true, FieldNameTag: "yaml"}
	schema := r.Reflect(&Document{})
	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "propeval fixture"
	schema.Description = "Entities, property types and scripts evaluated by propeval"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.In("fixture").Code("SCHEMA_GENERATION_FAILED").Wrap(err)
	}
	return data, nil
}

// ValidateSchema checks YAML data against the fixture schema.
func ValidateSchema(data []byte) error {
	if len(strings.TrimSpace(string(data))) == 0 {
		return oops.In("fixture").Code("FIXTURE_INVALID").Errorf("fixture is empty")
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return oops.In("fixture").Code("FIXTURE_INVALID").Wrapf(err, "invalid YAML")
	}

	sch, err := compiled()
	if err != nil {
		return err
	}
	if err := sch.Validate(jsonTypes(doc)); err != nil {
		return oops.In("fixture").Code("FIXTURE_INVALID").Wrapf(err, "schema validation failed")
	}
	return nil
}

func compiled() (*jschema.Schema, error) {
	compiledOnce.Do(func() {
		raw, err := GenerateSchema()
		if err != nil {
			compileErr = err
			return
		}
		var schemaDoc any
		if err := json.Unmarshal(raw, &schemaDoc); err != nil {
			compileErr = oops.In("fixture").Code("SCHEMA_COMPILE_FAILED").Wrap(err)
			return
		}
		c := jschema.NewCompiler()
		if err := c.AddResource("fixture.schema.json", schemaDoc); err != nil {
			compileErr = oops.In("fixture").Code("SCHEMA_COMPILE_FAILED").Wrap(err)
			return
		}
		compiledSchema, compileErr = c.Compile("fixture.schema.json")
		if compileErr != nil {
			compileErr = oops.In("fixture").Code("SCHEMA_COMPILE_FAILED").Wrap(compileErr)
		}
	})
	return compiledSchema, compileErr
}

// jsonTypes rewrites YAML scalars the validator does not understand.
// Integers become float64 and anything else goes through a JSON round trip.
func jsonTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = jsonTypes(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = jsonTypes(item)
		}
		return out
	case string, bool, float64, nil:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return val
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			return val
		}
		return out
	}
}
