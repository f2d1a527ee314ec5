// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package property

import (
	"context"
	"strings"

	"github.com/gobwas/glob"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Selector chooses the entities of an evaluation batch. Zero fields match
// everything.
type Selector struct {
	Kind        EntityKind
	TypeCode    string
	CodePattern string // glob over entity codes, case-insensitive
	IDs         []ulid.ULID
}

// Matcher returns a predicate implementing the selector.
func (s Selector) Matcher() (func(*Entity) bool, error) {
	var pattern glob.Glob
	if s.CodePattern != "" {
		g, err := glob.Compile(strings.ToUpper(s.CodePattern))
		if err != nil {
			return nil, oops.In("selector").Code("SELECTOR_INVALID").
				With("pattern", s.CodePattern).Wrap(err)
		}
		pattern = g
	}
	ids := make(map[ulid.ULID]struct{}, len(s.IDs))
	for _, id := range s.IDs {
		ids[id] = struct{}{}
	}

	return func(e *Entity) bool {
		if s.Kind != "" && e.Kind != s.Kind {
			return false
		}
		if s.TypeCode != "" && !strings.EqualFold(e.TypeCode, s.TypeCode) {
			return false
		}
		if pattern != nil && !pattern.Match(strings.ToUpper(e.Code)) {
			return false
		}
		if len(ids) > 0 {
			if _, ok := ids[e.ID]; !ok {
				return false
			}
		}
		return true
	}, nil
}

// EntitySource loads entities together with their properties, assignments
// and parent/child relations.
type EntitySource interface {
	ListEntities(ctx context.Context, sel Selector) ([]*Entity, error)
}

// Writer persists the property values of an entity.
type Writer interface {
	WriteProperties(ctx context.Context, entity *Entity) error
}

// MaterialLookup resolves material identifiers. It returns nil, nil when no
// material matches.
type MaterialLookup interface {
	FindMaterial(ctx context.Context, id MaterialIdentifier) (*Material, error)
}
