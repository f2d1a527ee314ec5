// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package evaluator

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/oops"

	"github.com/propeval/propeval/internal/calculator"
)

type nodeState int

const (
	notStarted nodeState = iota
	inProgress
	done
)

// pass holds the evaluation state of one entity. It is used by a single
// goroutine and discarded when the entity is finished.
type pass struct {
	ctx       context.Context
	graph     *Graph
	coercer   *coercer
	relatives *relatives

	state   map[string]nodeState
	results map[string]Result
	stack   []string
	cycles  map[string]*CycleError
	infra   error // first infrastructure error, fatal to the pass
}

func newPass(ctx context.Context, graph *Graph, c *coercer, rel *relatives) *pass {
	return &pass{
		ctx:       ctx,
		graph:     graph,
		coercer:   c,
		relatives: rel,
		state:     make(map[string]nodeState, len(graph.Dynamic)),
		results:   make(map[string]Result, len(graph.Dynamic)),
		cycles:    make(map[string]*CycleError),
	}
}

// evaluate computes the dynamic property code, evaluating the properties it
// looks up first. The returned error is an infrastructure error; script,
// cycle and validation failures are part of the Result.
func (p *pass) evaluate(code string) (Result, error) {
	if p.infra != nil {
		return Result{}, p.infra
	}
	if p.state[code] == done {
		return p.results[code], nil
	}
	node := p.graph.Dynamic[code]

	p.state[code] = inProgress
	p.stack = append(p.stack, code)
	raw, err := node.Eval(p.ctx, &passEntity{pass: p})
	p.stack = p.stack[:len(p.stack)-1]

	if p.infra != nil {
		return Result{}, p.infra
	}
	var cancelled *calculator.CancelledError
	if errors.As(err, &cancelled) {
		p.infra = oops.In("evaluator").Code("EVALUATION_CANCELLED").With("property", code).Wrap(err)
		return Result{}, p.infra
	}

	var result Result
	switch cycle := p.cycles[code]; {
	case cycle != nil:
		result = errorResult(code, KindCyclic, cycle.Error())
		result.Cycle = cycle.Path
	case err != nil:
		result = errorResult(code, KindScript, err.Error())
	default:
		result, err = p.coercer.coerce(p.ctx, code, node.Property.Assignment.PropertyType, raw)
		if err != nil {
			p.infra = err
			return Result{}, err
		}
	}

	p.state[code] = done
	p.results[code] = result
	return result, nil
}

// lookup serves PropertyValue calls of running scripts.
func (p *pass) lookup(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	static, node := p.graph.Lookup(code)
	if node == nil {
		if static == nil {
			return "", &calculator.UnknownPropertyError{Entity: p.graph.Entity.Code, Code: code}
		}
		return static.AsString(), nil
	}

	if p.state[code] == inProgress {
		return "", p.closeCycle(code)
	}

	result, err := p.evaluate(code)
	if err != nil {
		return "", errAborted
	}
	if !result.Failed() {
		return result.Legacy(), nil
	}
	if cycle := p.cycles[p.caller()]; cycle != nil {
		return "", cycle
	}
	return "", &DependencyError{Code: code, Message: result.Message}
}

// closeCycle marks every property on the stack from code to the top as part
// of the cycle. Members already on another cycle keep their first error.
func (p *pass) closeCycle(code string) *CycleError {
	start := 0
	for i, c := range p.stack {
		if c == code {
			start = i
			break
		}
	}
	members := p.stack[start:]
	path := make([]string, 0, len(members)+1)
	path = append(path, members...)
	path = append(path, code)

	cycle := &CycleError{Path: path}
	for _, m := range members {
		if _, marked := p.cycles[m]; !marked {
			p.cycles[m] = cycle
		}
	}
	return p.cycles[p.caller()]
}

// caller is the property whose script is running.
func (p *pass) caller() string {
	if len(p.stack) == 0 {
		return ""
	}
	return p.stack[len(p.stack)-1]
}
