// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package calculator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propeval/propeval/internal/calculator"
	"github.com/propeval/propeval/internal/calculator/calculatortest"
	"github.com/propeval/propeval/internal/property"
)

func constant(v string) calculator.Calculator {
	return calculator.CalculatorFunc(func(context.Context, calculator.EntityAdaptor) (string, error) {
		return v, nil
	})
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	registry := calculator.NewRegistry()
	require.NoError(t, registry.Register(calculator.Predeployed{Name: "Answer", Calculator: constant("42")}))

	got, ok := registry.Lookup("ANSWER")
	require.True(t, ok)
	assert.Equal(t, "answer", got.Name)
}

func TestRegistry_Register_Duplicate(t *testing.T) {
	registry := calculator.NewRegistry()
	require.NoError(t, registry.Register(calculator.Predeployed{Name: "x", Calculator: constant("")}))

	err := registry.Register(calculator.Predeployed{Name: "X", Calculator: constant("")})
	assert.ErrorIs(t, err, calculator.ErrDuplicateCalculator)
}

func TestRegistry_Register_Invalid(t *testing.T) {
	registry := calculator.NewRegistry()

	assert.ErrorIs(t, registry.Register(calculator.Predeployed{Name: " ", Calculator: constant("")}), calculator.ErrInvalidCalculatorName)

	err := registry.Register(calculator.Predeployed{Name: "nil"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "calculator cannot be nil")
}

func TestRegistry_ListIsSorted(t *testing.T) {
	names := calculator.DefaultRegistry().RegisteredNames()
	assert.Equal(t, []string{"child-codes", "code", "parent-codes", "property-count"}, names)
}

func TestRegistry_BuiltIns(t *testing.T) {
	entity := &calculatortest.Entity{
		EntityCode: "S1",
		Values:     map[string]string{"P1": "a", "P2": "b"},
		ParentList: []calculator.EntityAdaptor{
			&calculatortest.Entity{EntityCode: "P-B"},
			&calculatortest.Entity{EntityCode: "P-A"},
		},
	}
	registry := calculator.DefaultRegistry()

	tests := map[string]string{
		"code":           "S1",
		"property-count": "2",
		"parent-codes":   "P-A, P-B",
		"child-codes":    "",
	}
	for name, want := range tests {
		t.Run(name, func(t *testing.T) {
			calc, err := registry.Compile(&property.Script{Body: name, Plugin: property.PluginPredeployed})
			require.NoError(t, err)
			got, err := calc.Eval(context.Background(), entity)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestRegistry_Compile_Unknown(t *testing.T) {
	_, err := calculator.NewRegistry().Compile(&property.Script{Body: "nope"})
	var se *calculator.ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "Error occurred when evaluating 'nope': no predeployed calculator named 'nope'", se.Error())
}
