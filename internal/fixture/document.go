// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

// Package fixture loads entity graphs from YAML documents into an in-memory
// store. Fixtures back the CLI when no database is configured and give
// tests a readable way to describe entities.
package fixture

// Document is the root of a fixture file.
type Document struct {
	Vocabularies  []Vocabulary   `yaml:"vocabularies,omitempty"`
	Materials     []Material     `yaml:"materials,omitempty"`
	Scripts       []Script       `yaml:"scripts,omitempty"`
	PropertyTypes []PropertyType `yaml:"property-types,omitempty"`
	EntityTypes   []EntityType   `yaml:"entity-types,omitempty"`
	Entities      []Entity       `yaml:"entities,omitempty"`
}

// Vocabulary declares a controlled vocabulary.
type Vocabulary struct {
	Code  string `yaml:"code" jsonschema:"minLength=1"`
	Terms []Term `yaml:"terms"`
}

// Term is one vocabulary term.
type Term struct {
	Code  string `yaml:"code" jsonschema:"minLength=1"`
	Label string `yaml:"label,omitempty"`
}

// Material declares a material that MATERIAL properties may reference.
type Material struct {
	Code string `yaml:"code" jsonschema:"minLength=1"`
	Type string `yaml:"type" jsonschema:"minLength=1"`
}

// Script declares a calculation script.
type Script struct {
	Name   string `yaml:"name" jsonschema:"minLength=1"`
	Plugin string `yaml:"plugin" jsonschema:"enum=LUA,enum=EXPRESSION,enum=PREDEPLOYED"`
	Kind   string `yaml:"kind,omitempty" jsonschema:"enum=DYNAMIC_PROPERTY,enum=ENTITY_VALIDATION,enum=MANAGED_PROPERTY"`
	Body   string `yaml:"body"`
}

// PropertyType declares a property type.
type PropertyType struct {
	Code         string `yaml:"code" jsonschema:"minLength=1"`
	DataType     string `yaml:"data-type" jsonschema:"enum=VARCHAR,enum=MULTILINE_VARCHAR,enum=INTEGER,enum=REAL,enum=BOOLEAN,enum=TIMESTAMP,enum=HYPERLINK,enum=XML,enum=CONTROLLEDVOCABULARY,enum=MATERIAL"`
	Vocabulary   string `yaml:"vocabulary,omitempty"`
	MaterialType string `yaml:"material-type,omitempty"`
}

// EntityType assigns property types to a type of entity.
type EntityType struct {
	Kind       string       `yaml:"kind" jsonschema:"enum=SAMPLE,enum=EXPERIMENT,enum=DATA_SET,enum=MATERIAL"`
	Code       string       `yaml:"code" jsonschema:"minLength=1"`
	Properties []Assignment `yaml:"properties"`
}

// Assignment attaches a property type, optionally computed by a script.
type Assignment struct {
	Type   string `yaml:"type" jsonschema:"minLength=1"`
	Script string `yaml:"script,omitempty"`
}

// Entity declares an entity with stored property values. Parents are
// referenced by entity code.
type Entity struct {
	Kind       string            `yaml:"kind" jsonschema:"enum=SAMPLE,enum=EXPERIMENT,enum=DATA_SET,enum=MATERIAL"`
	Type       string            `yaml:"type" jsonschema:"minLength=1"`
	Code       string            `yaml:"code" jsonschema:"minLength=1"`
	Parents    []string          `yaml:"parents,omitempty"`
	Properties map[string]string `yaml:"properties,omitempty"`
}
