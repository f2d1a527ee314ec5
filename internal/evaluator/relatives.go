// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package evaluator

import (
	"strings"

	"github.com/propeval/propeval/internal/calculator"
	"github.com/propeval/propeval/internal/property"
)

// relatives holds read-only copies of the parents and children reachable
// from a set of entities. Passes read relatives only through these copies,
// so an entity evaluated in parallel with its parent sees the parent's
// stored values, never the ones being written.
type relatives struct {
	frozen map[*property.Entity]*frozenEntity
}

// snapshotRelatives copies every entity reachable through parent and child
// links of entities. It must run before any of them is evaluated.
func snapshotRelatives(entities []*property.Entity) *relatives {
	r := &relatives{frozen: make(map[*property.Entity]*frozenEntity)}
	for _, e := range entities {
		for _, rel := range e.Parents {
			r.freeze(rel)
		}
		for _, rel := range e.Children {
			r.freeze(rel)
		}
	}
	return r
}

func (r *relatives) freeze(e *property.Entity) *frozenEntity {
	if f, ok := r.frozen[e]; ok {
		return f
	}
	f := &frozenEntity{
		code:   e.Code,
		kind:   string(e.Kind),
		values: make(map[string]string, len(e.Properties)),
	}
	r.frozen[e] = f
	for _, p := range e.Properties {
		code := strings.ToUpper(p.Code())
		if _, dup := f.values[code]; dup {
			continue
		}
		f.codes = append(f.codes, p.Code())
		f.values[code] = p.AsString()
	}
	for _, rel := range e.Parents {
		f.parents = append(f.parents, r.freeze(rel))
	}
	for _, rel := range e.Children {
		f.children = append(f.children, r.freeze(rel))
	}
	return f
}

// adaptors returns the snapshots of entities. The snapshot is shared by
// concurrent passes and is not modified here; an entity missing from it is
// copied into a private snapshot.
func (r *relatives) adaptors(entities []*property.Entity) []calculator.EntityAdaptor {
	out := make([]calculator.EntityAdaptor, 0, len(entities))
	for _, e := range entities {
		f, ok := r.frozen[e]
		if !ok {
			f = snapshotRelatives(nil).freeze(e)
		}
		out = append(out, f)
	}
	return out
}

// frozenEntity exposes a related entity with its stored values only. It
// never triggers evaluation and does not form dependency edges.
type frozenEntity struct {
	code     string
	kind     string
	codes    []string
	values   map[string]string
	parents  []*frozenEntity
	children []*frozenEntity
}

var _ calculator.EntityAdaptor = (*frozenEntity)(nil)

func (f *frozenEntity) Code() string { return f.code }

func (f *frozenEntity) Kind() string { return f.kind }

func (f *frozenEntity) PropertyValue(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	v, ok := f.values[code]
	if !ok {
		return "", &calculator.UnknownPropertyError{Entity: f.code, Code: code}
	}
	return v, nil
}

func (f *frozenEntity) Properties() []calculator.PropertyAdaptor {
	out := make([]calculator.PropertyAdaptor, 0, len(f.codes))
	for _, c := range f.codes {
		out = append(out, frozenProperty{code: c, value: f.values[strings.ToUpper(c)]})
	}
	return out
}

func (f *frozenEntity) Parents() []calculator.EntityAdaptor {
	return frozenList(f.parents)
}

func (f *frozenEntity) Children() []calculator.EntityAdaptor {
	return frozenList(f.children)
}

func frozenList(entities []*frozenEntity) []calculator.EntityAdaptor {
	out := make([]calculator.EntityAdaptor, len(entities))
	for i, e := range entities {
		out[i] = e
	}
	return out
}

type frozenProperty struct {
	code  string
	value string
}

func (p frozenProperty) Code() string { return p.code }

func (p frozenProperty) Value() (string, error) { return p.value, nil }
