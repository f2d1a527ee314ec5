// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package evaluator

import (
	"context"
	"strings"

	"github.com/propeval/propeval/internal/calculator"
	"github.com/propeval/propeval/internal/property"
)

// CalculatorSource resolves the calculator of a script.
// *calculator.Factory implements it.
type CalculatorSource interface {
	Calculator(script *property.Script) (calculator.Calculator, error)
}

// Node is a dynamic property together with the thunk computing its raw value.
type Node struct {
	Code     string
	Property *property.Property
	Eval     func(ctx context.Context, entity calculator.EntityAdaptor) (string, error)
}

// Graph partitions the properties of one entity into static leaves and
// dynamic nodes. Edges between nodes are discovered while scripts run.
type Graph struct {
	Entity  *property.Entity
	Static  map[string]*property.Property
	Dynamic map[string]*Node
	Order   []string // dynamic codes in property order

	// Duplicates are dynamic properties whose code was already taken by an
	// earlier dynamic property of the entity. They are never evaluated.
	Duplicates []*property.Property
}

// BuildGraph classifies the properties of entity. Codes are upper-cased.
// Building compiles nothing; calculators are resolved when a thunk runs.
func BuildGraph(entity *property.Entity, calculators CalculatorSource) *Graph {
	g := &Graph{
		Entity:  entity,
		Static:  make(map[string]*property.Property),
		Dynamic: make(map[string]*Node),
	}
	for _, p := range entity.Properties {
		code := strings.ToUpper(p.Code())
		if !p.Assignment.IsDynamic() {
			g.Static[code] = p
			continue
		}
		if _, dup := g.Dynamic[code]; dup {
			g.Duplicates = append(g.Duplicates, p)
			continue
		}
		script := p.Assignment.Script
		g.Dynamic[code] = &Node{
			Code:     code,
			Property: p,
			Eval: func(ctx context.Context, entity calculator.EntityAdaptor) (string, error) {
				calc, err := calculators.Calculator(script)
				if err != nil {
					return "", err
				}
				return calc.Eval(ctx, entity)
			},
		}
		g.Order = append(g.Order, code)
	}
	return g
}

// Lookup returns the static property or dynamic node for code.
func (g *Graph) Lookup(code string) (*property.Property, *Node) {
	code = strings.ToUpper(code)
	if n, ok := g.Dynamic[code]; ok {
		return nil, n
	}
	return g.Static[code], nil
}
