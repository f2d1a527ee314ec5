// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package calculator

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ScriptError reports a failure while compiling or running a script.
type ScriptError struct {
	Script string
	Line   int // 0 when the runtime did not report a line
	Cause  error
}

// NewScriptError creates a ScriptError.
func NewScriptError(script string, line int, cause error) *ScriptError {
	return &ScriptError{Script: script, Line: line, Cause: cause}
}

func (e *ScriptError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("Error occurred in line %d of the script when evaluating '%s': %s", e.Line, e.Script, e.causeText())
	}
	return fmt.Sprintf("Error occurred when evaluating '%s': %s", e.Script, e.causeText())
}

func (e *ScriptError) causeText() string {
	if e.Cause == nil {
		return "unknown error"
	}
	return e.Cause.Error()
}

// Unwrap returns the underlying cause.
func (e *ScriptError) Unwrap() error {
	return e.Cause
}

// TimeoutError reports that a script exceeded its execution budget.
type TimeoutError struct {
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("script execution timed out after %s", e.Limit)
}

// ContextCause maps a finished context to a script-level cause, reporting
// deadline expiry as a TimeoutError.
func ContextCause(ctx context.Context, limit time.Duration) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Limit: limit}
	}
	return err
}

// CancelledError reports that the evaluation was cancelled from outside the
// script. It aborts the script and is never stored as a property value.
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("evaluation cancelled: %v", e.Cause)
}

// Unwrap returns the context error.
func (e *CancelledError) Unwrap() error {
	return e.Cause
}

// AbortsScript marks cancellation as fatal to the running script.
func (e *CancelledError) AbortsScript() bool { return true }

// UnknownPropertyError reports a lookup of a property the entity does not have.
type UnknownPropertyError struct {
	Entity string
	Code   string
}

func (e *UnknownPropertyError) Error() string {
	return fmt.Sprintf("entity '%s' has no property '%s'", e.Entity, e.Code)
}
