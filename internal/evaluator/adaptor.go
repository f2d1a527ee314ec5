// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package evaluator

import (
	"strings"

	"github.com/propeval/propeval/internal/calculator"
)

// passEntity is the adaptor of the entity under evaluation. Lookups of
// dynamic properties go through the pass scheduler.
type passEntity struct {
	pass *pass
}

var _ calculator.EntityAdaptor = (*passEntity)(nil)

func (a *passEntity) Code() string { return a.pass.graph.Entity.Code }

func (a *passEntity) Kind() string { return string(a.pass.graph.Entity.Kind) }

func (a *passEntity) PropertyValue(code string) (string, error) {
	return a.pass.lookup(code)
}

func (a *passEntity) Properties() []calculator.PropertyAdaptor {
	props := a.pass.graph.Entity.Properties
	out := make([]calculator.PropertyAdaptor, 0, len(props))
	for _, p := range props {
		out = append(out, &passProperty{pass: a.pass, code: strings.ToUpper(p.Code())})
	}
	return out
}

func (a *passEntity) Parents() []calculator.EntityAdaptor {
	return a.pass.relatives.adaptors(a.pass.graph.Entity.Parents)
}

func (a *passEntity) Children() []calculator.EntityAdaptor {
	return a.pass.relatives.adaptors(a.pass.graph.Entity.Children)
}

// passProperty resolves its value through the scheduler when read.
type passProperty struct {
	pass *pass
	code string
}

func (p *passProperty) Code() string { return p.code }

func (p *passProperty) Value() (string, error) { return p.pass.lookup(p.code) }
