// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

// Package calculatortest provides test helpers for calculator runtimes.
package calculatortest

import (
	"sort"
	"strings"

	"github.com/propeval/propeval/internal/calculator"
)

// Property is a static PropertyAdaptor.
type Property struct {
	PropCode  string
	PropValue string
}

// Code returns the property code.
func (p Property) Code() string { return p.PropCode }

// Value returns the property value.
func (p Property) Value() (string, error) { return p.PropValue, nil }

// Entity is an EntityAdaptor backed by maps. Lookups are recorded in Lookups.
type Entity struct {
	EntityCode string
	EntityKind string
	Values     map[string]string
	Errors     map[string]error // returned by PropertyValue for the given code
	ParentList []calculator.EntityAdaptor
	ChildList  []calculator.EntityAdaptor
	Lookups    []string
}

// Code returns the entity code.
func (e *Entity) Code() string { return e.EntityCode }

// Kind returns the entity kind.
func (e *Entity) Kind() string { return e.EntityKind }

// PropertyValue returns the configured value or error for code.
func (e *Entity) PropertyValue(code string) (string, error) {
	code = strings.ToUpper(code)
	e.Lookups = append(e.Lookups, code)
	if err, ok := e.Errors[code]; ok {
		return "", err
	}
	for k, v := range e.Values {
		if strings.EqualFold(k, code) {
			return v, nil
		}
	}
	return "", &calculator.UnknownPropertyError{Entity: e.EntityCode, Code: code}
}

// Properties returns the configured values sorted by code.
func (e *Entity) Properties() []calculator.PropertyAdaptor {
	codes := make([]string, 0, len(e.Values))
	for k := range e.Values {
		codes = append(codes, k)
	}
	sort.Strings(codes)
	props := make([]calculator.PropertyAdaptor, 0, len(codes))
	for _, c := range codes {
		props = append(props, Property{PropCode: strings.ToUpper(c), PropValue: e.Values[c]})
	}
	return props
}

// Parents returns the configured parents.
func (e *Entity) Parents() []calculator.EntityAdaptor { return e.ParentList }

// Children returns the configured children.
func (e *Entity) Children() []calculator.EntityAdaptor { return e.ChildList }

// AbortError is an error that aborts script execution.
type AbortError struct{ Msg string }

func (e *AbortError) Error() string { return e.Msg }

// AbortsScript marks the error as aborting.
func (e *AbortError) AbortsScript() bool { return true }
