// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

// Package calculator defines the script execution boundary of the dynamic
// property evaluator: the entity adaptor a script sees, the Calculator that
// runs one script, and the Factory that selects a runtime per script.
package calculator

import (
	"context"
	"errors"
)

// PropertyAdaptor exposes one property of an entity to a script. Value of a
// dynamic property is resolved lazily and may fail like PropertyValue.
type PropertyAdaptor interface {
	Code() string
	Value() (string, error)
}

// EntityAdaptor exposes an entity to a script.
//
// PropertyValue on the entity under evaluation may trigger evaluation of other
// dynamic properties. Adaptors returned by Parents and Children expose stored
// values only.
type EntityAdaptor interface {
	Code() string
	Kind() string
	PropertyValue(code string) (string, error)
	Properties() []PropertyAdaptor
	Parents() []EntityAdaptor
	Children() []EntityAdaptor
}

// Calculator executes one calculation script against an entity.
type Calculator interface {
	Eval(ctx context.Context, entity EntityAdaptor) (string, error)
}

// CalculatorFunc adapts a function to the Calculator interface.
type CalculatorFunc func(ctx context.Context, entity EntityAdaptor) (string, error)

// Eval calls f.
func (f CalculatorFunc) Eval(ctx context.Context, entity EntityAdaptor) (string, error) {
	return f(ctx, entity)
}

// Aborter is implemented by lookup errors that must stop the running script
// and reach the caller unchanged instead of being reported as a script error.
type Aborter interface {
	error
	AbortsScript() bool
}

// IsAbort reports whether err carries an Aborter.
func IsAbort(err error) bool {
	var a Aborter
	return errors.As(err, &a) && a.AbortsScript()
}

// Outcome converts the error raised while running body into the error a
// Calculator returns: aborting lookup errors pass through, everything else
// becomes a ScriptError.
func Outcome(body string, lookupErr, runErr error) error {
	if lookupErr != nil {
		if IsAbort(lookupErr) {
			return lookupErr
		}
		return NewScriptError(body, 0, lookupErr)
	}
	if runErr == nil {
		return nil
	}
	if IsAbort(runErr) {
		return runErr
	}
	var se *ScriptError
	if errors.As(runErr, &se) {
		return se
	}
	return NewScriptError(body, 0, runErr)
}
