// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package evaluator

import (
	"errors"
	"fmt"
	"strings"
)

// CycleError reports a cyclic dependency between dynamic properties. It is
// returned to the script that closed the cycle and aborts it.
type CycleError struct {
	Path []string // codes in traversal order, closed back to the first
}

func (e *CycleError) Error() string {
	return "cycle of dependencies found between dynamic properties: " + strings.Join(e.Path, " -> ")
}

// AbortsScript marks cycle errors as fatal to the running script.
func (e *CycleError) AbortsScript() bool { return true }

// DependencyError is returned to a script that looks up a dynamic property
// whose own evaluation failed.
type DependencyError struct {
	Code    string
	Message string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("Dynamic property '%s' could not be evaluated: %s", e.Code, e.Message)
}

// AbortsScript marks dependency errors as fatal to the running script.
func (e *DependencyError) AbortsScript() bool { return true }

// errAborted is returned to a script whose pass hit an infrastructure error.
// The infrastructure error itself is reported by the pass.
var errAborted = abortError("evaluation aborted")

type abortError string

func (e abortError) Error() string      { return string(e) }
func (e abortError) AbortsScript() bool { return true }

// ErrNotDynamic indicates the requested property is not computed by a script.
var ErrNotDynamic = errors.New("property is not dynamic")

// ErrUnknownProperty indicates the entity has no property with the requested code.
var ErrUnknownProperty = errors.New("unknown property")
