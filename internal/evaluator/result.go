// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package evaluator

import (
	"strings"

	"github.com/propeval/propeval/internal/property"
)

// ErrorPrefix starts every stored error value. It cannot appear at the start
// of a regular value entered by users.
const ErrorPrefix = "\uFFFD"

const errorMarker = ErrorPrefix + "ERROR: "

// Kind classifies an evaluation result.
type Kind int

// Result kinds.
const (
	KindOK Kind = iota
	KindCyclic
	KindScript
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindCyclic:
		return "cyclic"
	case KindScript:
		return "script"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Result is the outcome of evaluating one dynamic property.
type Result struct {
	Code     string
	Kind     Kind
	Value    string
	Term     *property.VocabularyTerm
	Material *property.Material
	Message  string   // error message for every kind but KindOK
	Cycle    []string // upper-cased codes of the cycle, for KindCyclic
}

// Failed reports whether the result is an error of any kind.
func (r Result) Failed() bool {
	return r.Kind != KindOK
}

// Legacy renders the result as the stored string value: the error marker for
// failures, otherwise the term code, material identifier or value.
func (r Result) Legacy() string {
	if r.Failed() {
		return ErrorValue(r.Message)
	}
	switch {
	case r.Term != nil:
		return r.Term.Code
	case r.Material != nil:
		return r.Material.Identifier().String()
	default:
		return r.Value
	}
}

// Apply writes the result onto p. Failures are stored as error values; an
// empty successful value clears the property.
func (r Result) Apply(p *property.Property) {
	switch {
	case r.Failed():
		p.SetValue(r.Legacy())
	case r.Term != nil:
		p.SetTerm(r.Term)
	case r.Material != nil:
		p.SetMaterial(r.Material)
	case r.Value == "":
		p.Clear()
	default:
		p.SetValue(r.Value)
	}
}

// ErrorValue encodes message as a stored error value.
func ErrorValue(message string) string {
	return errorMarker + message
}

// IsErrorValue reports whether a stored value is an error value.
func IsErrorValue(value string) bool {
	return strings.HasPrefix(value, ErrorPrefix)
}

// ErrorMessage returns the message of a stored error value.
func ErrorMessage(value string) (string, bool) {
	if !IsErrorValue(value) {
		return "", false
	}
	return strings.TrimPrefix(strings.TrimPrefix(value, ErrorPrefix), "ERROR: "), true
}

func okResult(code, value string) Result {
	return Result{Code: code, Kind: KindOK, Value: value}
}

func errorResult(code string, kind Kind, message string) Result {
	return Result{Code: code, Kind: kind, Message: message}
}
