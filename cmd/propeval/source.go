// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package main

import (
	"context"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/propeval/propeval/internal/config"
	"github.com/propeval/propeval/internal/fixture"
	"github.com/propeval/propeval/internal/property"
)

// selectorFlags are the entity selection flags shared by evaluate and
// enqueue.
type selectorFlags struct {
	kind     string
	typeCode string
	code     string
	ids      []string
}

func (f *selectorFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.kind, "kind", "", "entity kind (SAMPLE, EXPERIMENT, DATA_SET, MATERIAL)")
	fs.StringVar(&f.typeCode, "type", "", "entity type code")
	fs.StringVar(&f.code, "code", "", "entity code glob, case-insensitive (e.g. 'CELL-*')")
	fs.StringSliceVar(&f.ids, "id", nil, "entity ID (repeatable)")
}

func (f *selectorFlags) selector() (property.Selector, error) {
	sel := property.Selector{TypeCode: f.typeCode, CodePattern: f.code}
	if f.kind != "" {
		kind := property.EntityKind(strings.ToUpper(f.kind))
		if !kind.Valid() {
			return property.Selector{}, oops.Code("CONFIG_INVALID").With("kind", f.kind).
				Errorf("unknown entity kind %q", f.kind)
		}
		sel.Kind = kind
	}
	for _, raw := range f.ids {
		id, err := property.ParseID(raw)
		if err != nil {
			return property.Selector{}, err
		}
		sel.IDs = append(sel.IDs, id)
	}
	if _, err := sel.Matcher(); err != nil {
		return property.Selector{}, err
	}
	return sel, nil
}

// entitySource is where a command reads entities from: a fixture file or
// the database.
type entitySource struct {
	Entities  EntityStore
	Materials property.MaterialLookup
	Fixture   *fixture.Store // nil for the database
	close     func()
}

func (s *entitySource) Close() {
	if s.close != nil {
		s.close()
	}
}

func openSource(ctx context.Context, deps *Deps, cfg *config.Config, fixturePath string) (*entitySource, error) {
	if fixturePath != "" {
		st, err := fixture.LoadFile(fixturePath)
		if err != nil {
			return nil, err
		}
		return &entitySource{Entities: st, Materials: st, Fixture: st}, nil
	}

	if err := cfg.RequireDatabase(); err != nil {
		return nil, oops.Wrapf(err, "no --fixture given")
	}
	backend, err := deps.BackendFactory(ctx, cfg.Database.URL)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	return &entitySource{Entities: backend.Entities, Materials: backend.Materials, close: backend.Close}, nil
}
