// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

// Package expression evaluates EXPRESSION scripts: single govaluate
// expressions with a whitelisted function set bound to the entity.
package expression

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/propeval/propeval/internal/calculator"
	"github.com/propeval/propeval/internal/property"
)

// Compiler compiles EXPRESSION scripts.
type Compiler struct{}

// NewCompiler creates an expression compiler.
func NewCompiler() *Compiler {
	return &Compiler{}
}

// Compile validates the expression. Expressions are re-parsed per evaluation
// because the function set is bound to the entity.
func (c *Compiler) Compile(script *property.Script) (calculator.Calculator, error) {
	if strings.TrimSpace(script.Body) == "" {
		return nil, calculator.NewScriptError(script.Body, 0, errors.New("expression is empty"))
	}
	if _, err := govaluate.NewEvaluableExpressionWithFunctions(script.Body, functions(nil, nil)); err != nil {
		return nil, calculator.NewScriptError(script.Body, 0, err)
	}
	return &program{body: script.Body}, nil
}

type program struct {
	body string
}

// Eval evaluates the expression against entity. Bare variables and
// [bracketed] variables resolve to property values of the entity.
func (p *program) Eval(ctx context.Context, entity calculator.EntityAdaptor) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &calculator.CancelledError{Cause: err}
	}

	var lookupErr error
	record := func(err error) error {
		if lookupErr == nil {
			lookupErr = err
		}
		return err
	}

	expr, err := govaluate.NewEvaluableExpressionWithFunctions(p.body, functions(entity, record))
	if err != nil {
		return "", calculator.NewScriptError(p.body, 0, err)
	}
	result, runErr := expr.Eval(parameters{entity: entity, record: record})
	if err := calculator.Outcome(p.body, lookupErr, runErr); err != nil {
		return "", err
	}
	return format(p.body, result)
}

// parameters resolves expression variables lazily so only referenced
// properties are evaluated.
type parameters struct {
	entity calculator.EntityAdaptor
	record func(error) error
}

func (p parameters) Get(name string) (interface{}, error) {
	v, err := p.entity.PropertyValue(name)
	if err != nil {
		return nil, p.record(err)
	}
	return v, nil
}

// functions returns the whitelisted functions bound to entity. A nil entity
// yields the same names for validation.
func functions(entity calculator.EntityAdaptor, record func(error) error) map[string]govaluate.ExpressionFunction {
	return map[string]govaluate.ExpressionFunction{
		"propertyValue": func(args ...interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("propertyValue expects 1 argument, got %d", len(args))
			}
			v, err := entity.PropertyValue(fmt.Sprint(args[0]))
			if err != nil {
				return nil, record(err)
			}
			return v, nil
		},
		"code": func(...interface{}) (interface{}, error) {
			return entity.Code(), nil
		},
		"kind": func(...interface{}) (interface{}, error) {
			return entity.Kind(), nil
		},
		"propertyCount": func(...interface{}) (interface{}, error) {
			return float64(len(entity.Properties())), nil
		},
		"parentCount": func(...interface{}) (interface{}, error) {
			return float64(len(entity.Parents())), nil
		},
		"childCount": func(...interface{}) (interface{}, error) {
			return float64(len(entity.Children())), nil
		},
		"concat": func(args ...interface{}) (interface{}, error) {
			var b strings.Builder
			for _, a := range args {
				b.WriteString(stringify(a))
			}
			return b.String(), nil
		},
		"upper": func(args ...interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("upper expects 1 argument, got %d", len(args))
			}
			return strings.ToUpper(stringify(args[0])), nil
		},
		"lower": func(args ...interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("lower expects 1 argument, got %d", len(args))
			}
			return strings.ToLower(stringify(args[0])), nil
		},
		"number": func(args ...interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("number expects 1 argument, got %d", len(args))
			}
			if f, ok := args[0].(float64); ok {
				return f, nil
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(stringify(args[0])), 64)
			if err != nil {
				return nil, fmt.Errorf("'%v' is not a number", args[0])
			}
			return f, nil
		},
	}
}

func format(body string, v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string, bool, float64:
		return stringify(val), nil
	default:
		return "", calculator.NewScriptError(body, 0, fmt.Errorf("unsupported result type '%T'", v))
	}
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
