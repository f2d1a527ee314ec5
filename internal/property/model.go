// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

// Package property defines the entity and property model consumed by the
// dynamic property evaluator.
package property

import (
	"sort"
	"strings"

	"github.com/oklog/ulid/v2"
)

// EntityKind identifies the kind of entity a property belongs to.
type EntityKind string

// Supported entity kinds.
const (
	KindSample     EntityKind = "SAMPLE"
	KindExperiment EntityKind = "EXPERIMENT"
	KindDataSet    EntityKind = "DATA_SET"
	KindMaterial   EntityKind = "MATERIAL"
)

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	switch k {
	case KindSample, KindExperiment, KindDataSet, KindMaterial:
		return true
	}
	return false
}

// DataType is the declared data type of a property type.
type DataType string

// Supported data types.
const (
	DataTypeVarchar              DataType = "VARCHAR"
	DataTypeMultilineVarchar     DataType = "MULTILINE_VARCHAR"
	DataTypeInteger              DataType = "INTEGER"
	DataTypeReal                 DataType = "REAL"
	DataTypeBoolean              DataType = "BOOLEAN"
	DataTypeTimestamp            DataType = "TIMESTAMP"
	DataTypeHyperlink            DataType = "HYPERLINK"
	DataTypeXML                  DataType = "XML"
	DataTypeControlledVocabulary DataType = "CONTROLLEDVOCABULARY"
	DataTypeMaterial             DataType = "MATERIAL"
)

// Valid reports whether d is a known data type.
func (d DataType) Valid() bool {
	switch d {
	case DataTypeVarchar, DataTypeMultilineVarchar, DataTypeInteger, DataTypeReal,
		DataTypeBoolean, DataTypeTimestamp, DataTypeHyperlink, DataTypeXML,
		DataTypeControlledVocabulary, DataTypeMaterial:
		return true
	}
	return false
}

// ScriptKind identifies what a script is used for.
type ScriptKind string

// Script kinds. Only dynamic property calculators are evaluated by this module.
const (
	ScriptKindDynamicProperty  ScriptKind = "DYNAMIC_PROPERTY"
	ScriptKindEntityValidation ScriptKind = "ENTITY_VALIDATION"
	ScriptKindManagedProperty  ScriptKind = "MANAGED_PROPERTY"
)

// PluginType identifies the runtime that executes a script.
type PluginType string

// Plugin types.
const (
	PluginLua         PluginType = "LUA"
	PluginExpression  PluginType = "EXPRESSION"
	PluginPredeployed PluginType = "PREDEPLOYED"
)

// Script is the source of a calculation. Scripts are immutable for the
// duration of an evaluation pass.
type Script struct {
	ID     ulid.ULID
	Name   string
	Body   string
	Kind   ScriptKind
	Plugin PluginType
}

// VocabularyTerm is one permitted value of a controlled vocabulary.
type VocabularyTerm struct {
	ID    ulid.ULID
	Code  string
	Label string
}

// Vocabulary is a closed set of permitted term codes.
type Vocabulary struct {
	ID    ulid.ULID
	Code  string
	Terms []*VocabularyTerm
}

// FindTerm returns the term whose code matches code case-insensitively.
func (v *Vocabulary) FindTerm(code string) (*VocabularyTerm, bool) {
	for _, t := range v.Terms {
		if strings.EqualFold(t.Code, code) {
			return t, true
		}
	}
	return nil, false
}

// TermCodes returns the upper-cased term codes in sorted order.
func (v *Vocabulary) TermCodes() []string {
	codes := make([]string, 0, len(v.Terms))
	for _, t := range v.Terms {
		codes = append(codes, strings.ToUpper(t.Code))
	}
	sort.Strings(codes)
	return codes
}

// MaterialType classifies materials.
type MaterialType struct {
	ID   ulid.ULID
	Code string
}

// Material is an entity that may be referenced by MATERIAL properties.
type Material struct {
	ID   ulid.ULID
	Code string
	Type *MaterialType
}

// Identifier returns the identifier of the material.
func (m *Material) Identifier() MaterialIdentifier {
	id := MaterialIdentifier{Code: m.Code}
	if m.Type != nil {
		id.TypeCode = m.Type.Code
	}
	return id
}

// PropertyType describes a property: its code, data type and, depending on
// the data type, the vocabulary or material type it is bound to.
type PropertyType struct {
	ID           ulid.ULID
	Code         string
	DataType     DataType
	Vocabulary   *Vocabulary
	MaterialType *MaterialType // nil accepts materials of any type
}

// Assignment links a property type to an entity type, optionally with a
// calculation script.
type Assignment struct {
	ID           ulid.ULID
	PropertyType *PropertyType
	Script       *Script
}

// IsDynamic reports whether properties of this assignment are computed by a
// dynamic property calculator.
func (a *Assignment) IsDynamic() bool {
	return a != nil && a.Script != nil && a.Script.Kind == ScriptKindDynamicProperty
}

// Property is a value held by an entity. At most one of the string value,
// the vocabulary term and the material reference is populated.
type Property struct {
	ID         ulid.ULID
	Assignment *Assignment
	value      string
	term       *VocabularyTerm
	material   *Material
}

// NewProperty creates a property holding a plain string value.
func NewProperty(assignment *Assignment, value string) *Property {
	p := &Property{ID: NewID(), Assignment: assignment}
	p.SetValue(value)
	return p
}

// Code returns the upper-cased property type code.
func (p *Property) Code() string {
	return strings.ToUpper(p.Assignment.PropertyType.Code)
}

// DataType returns the declared data type of the property.
func (p *Property) DataType() DataType {
	return p.Assignment.PropertyType.DataType
}

// Value returns the plain string value, or "" when a term or material is held.
func (p *Property) Value() string { return p.value }

// Term returns the vocabulary term, if any.
func (p *Property) Term() *VocabularyTerm { return p.term }

// Material returns the referenced material, if any.
func (p *Property) Material() *Material { return p.material }

// SetValue stores a plain string value and clears term and material.
func (p *Property) SetValue(value string) {
	p.Clear()
	p.value = value
}

// SetTerm stores a vocabulary term and clears the other representations.
func (p *Property) SetTerm(term *VocabularyTerm) {
	p.Clear()
	p.term = term
}

// SetMaterial stores a material reference and clears the other representations.
func (p *Property) SetMaterial(material *Material) {
	p.Clear()
	p.material = material
}

// Clear removes whatever the property holds.
func (p *Property) Clear() {
	p.value = ""
	p.term = nil
	p.material = nil
}

// Clone returns a copy sharing the assignment, term and material.
func (p *Property) Clone() *Property {
	c := *p
	return &c
}

// IsEmpty reports whether the property holds nothing.
func (p *Property) IsEmpty() bool {
	return p.value == "" && p.term == nil && p.material == nil
}

// AsString renders the property the way scripts see it: vocabulary terms by
// code, materials by identifier.
func (p *Property) AsString() string {
	switch {
	case p.term != nil:
		return p.term.Code
	case p.material != nil:
		return p.material.Identifier().String()
	default:
		return p.value
	}
}

// Entity is a domain object carrying properties and parent/child relations.
type Entity struct {
	ID         ulid.ULID
	Kind       EntityKind
	TypeCode   string
	Code       string
	Properties []*Property
	Parents    []*Entity
	Children   []*Entity
}

// Property returns the property with the given code (case-insensitive).
func (e *Entity) Property(code string) (*Property, bool) {
	for _, p := range e.Properties {
		if strings.EqualFold(p.Assignment.PropertyType.Code, code) {
			return p, true
		}
	}
	return nil, false
}

// HasDynamicProperties reports whether any property of the entity is dynamic.
func (e *Entity) HasDynamicProperties() bool {
	for _, p := range e.Properties {
		if p.Assignment.IsDynamic() {
			return true
		}
	}
	return false
}
