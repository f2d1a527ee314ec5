// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package evaluator_test

import (
	"context"
	"strings"
	"sync"

	"github.com/propeval/propeval/internal/calculator"
	"github.com/propeval/propeval/internal/calculator/expression"
	calclua "github.com/propeval/propeval/internal/calculator/lua"
	"github.com/propeval/propeval/internal/evaluator"
	"github.com/propeval/propeval/internal/property"
)

func newFactory() *calculator.Factory {
	return calculator.NewFactory(
		calculator.WithCompiler(property.PluginLua, calclua.NewCompiler()),
		calculator.WithCompiler(property.PluginExpression, expression.NewCompiler()),
	)
}

func newEvaluator(opts ...evaluator.Option) *evaluator.Evaluator {
	return evaluator.New(newFactory(), opts...)
}

func staticValue(code, value string) *property.Property {
	pt := &property.PropertyType{ID: property.NewID(), Code: code, DataType: property.DataTypeVarchar}
	return property.NewProperty(&property.Assignment{ID: property.NewID(), PropertyType: pt}, value)
}

func dynamicOf(pt *property.PropertyType, plugin property.PluginType, body string) *property.Property {
	script := &property.Script{
		ID:     property.NewID(),
		Name:   strings.ToLower(pt.Code) + "_calc",
		Body:   body,
		Kind:   property.ScriptKindDynamicProperty,
		Plugin: plugin,
	}
	return property.NewProperty(&property.Assignment{ID: property.NewID(), PropertyType: pt, Script: script}, "")
}

func dynamic(code, body string) *property.Property {
	return dynamicTyped(code, property.DataTypeVarchar, body)
}

func dynamicTyped(code string, dt property.DataType, body string) *property.Property {
	return dynamicOf(&property.PropertyType{ID: property.NewID(), Code: code, DataType: dt}, property.PluginLua, body)
}

func lookup(code string) string {
	return `entity:propertyValue("` + code + `")`
}

func sample(code string, props ...*property.Property) *property.Entity {
	return &property.Entity{
		ID:         property.NewID(),
		Kind:       property.KindSample,
		TypeCode:   "CELL",
		Code:       code,
		Properties: props,
	}
}

func valueOf(e *property.Entity, code string) string {
	p, ok := e.Property(code)
	if !ok {
		return "<missing>"
	}
	return p.AsString()
}

// materialStore is a MaterialLookup over a fixed set of materials.
type materialStore struct {
	mu        sync.Mutex
	materials []*property.Material
	calls     int
	err       error
}

func (s *materialStore) FindMaterial(_ context.Context, id property.MaterialIdentifier) (*property.Material, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	for _, m := range s.materials {
		if m.Identifier().Equal(id) {
			return m, nil
		}
	}
	return nil, nil
}
