// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package store

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/propeval/propeval/internal/property"
)

// EntityRepository implements property.EntitySource and property.Writer
// using PostgreSQL.
type EntityRepository struct {
	pool  poolIface
	retry RetryPolicy
}

// NewEntityRepository creates a new PostgreSQL entity repository.
func NewEntityRepository(pool poolIface) *EntityRepository {
	return &EntityRepository{pool: pool, retry: DefaultRetryPolicy}
}

// WithRetryPolicy replaces the policy used for writes.
func (r *EntityRepository) WithRetryPolicy(p RetryPolicy) *EntityRepository {
	r.retry = p
	return r
}

const selectEntitiesSQL = `SELECT id, kind, type_code, code FROM entities
	WHERE ($1 = '' OR kind = $1)
	  AND ($2 = '' OR upper(type_code) = upper($2))
	  AND (cardinality($3::text[]) = 0 OR id = ANY($3))
	ORDER BY id`

const selectEntitiesByIDSQL = `SELECT id, kind, type_code, code FROM entities
	WHERE id = ANY($1) ORDER BY id`

const selectRelationshipsSQL = `SELECT parent_id, child_id FROM entity_relationships
	WHERE parent_id = ANY($1) OR child_id = ANY($1)
	ORDER BY parent_id, child_id`

const selectVocabulariesSQL = `SELECT v.id, v.code, t.id, t.code, t.label
	FROM vocabularies v
	LEFT JOIN vocabulary_terms t ON t.vocabulary_id = v.id
	ORDER BY v.code, t.code`

const selectAssignmentsSQL = `SELECT a.id, a.entity_kind, a.entity_type_code,
	       pt.id, pt.code, pt.data_type, pt.vocabulary_id,
	       mt.id, mt.code,
	       s.id, s.name, s.body, s.kind, s.plugin
	FROM entity_type_assignments a
	JOIN property_types pt ON pt.id = a.property_type_id
	LEFT JOIN material_types mt ON mt.id = pt.material_type_id
	LEFT JOIN scripts s ON s.id = a.script_id
	ORDER BY a.entity_kind, a.entity_type_code, a.ordinal, pt.code`

const selectPropertiesSQL = `SELECT p.id, p.entity_id, p.assignment_id, p.value, p.vocabulary_term_id,
	       m.id, m.code, mt.id, mt.code
	FROM entity_properties p
	LEFT JOIN materials m ON m.id = p.material_id
	LEFT JOIN material_types mt ON mt.id = m.material_type_id
	WHERE p.entity_id = ANY($1)`

const upsertPropertySQL = `INSERT INTO entity_properties
	    (id, entity_id, assignment_id, value, vocabulary_term_id, material_id, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, now())
	ON CONFLICT (entity_id, assignment_id) DO UPDATE
	SET value = EXCLUDED.value,
	    vocabulary_term_id = EXCLUDED.vocabulary_term_id,
	    material_id = EXCLUDED.material_id,
	    updated_at = now()`

// ListEntities loads the entities matching sel. Every entity carries one
// property per assignment of its type, its parents and its children.
// Related entities carry their own properties but no relations of their own.
func (r *EntityRepository) ListEntities(ctx context.Context, sel property.Selector) ([]*property.Entity, error) {
	match, err := sel.Matcher()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(sel.IDs))
	for _, id := range sel.IDs {
		ids = append(ids, id.String())
	}
	rows, err := r.pool.Query(ctx, selectEntitiesSQL, string(sel.Kind), sel.TypeCode, ids)
	if err != nil {
		return nil, oops.In("store").With("operation", "list entities").Wrap(err)
	}
	all, err := scanEntities(rows)
	if err != nil {
		return nil, err
	}

	selected := make([]*property.Entity, 0, len(all))
	for _, e := range all {
		if match(e) {
			selected = append(selected, e)
		}
	}
	if len(selected) == 0 {
		return nil, nil
	}
	if err := r.hydrate(ctx, selected); err != nil {
		return nil, err
	}
	return selected, nil
}

func scanEntities(rows pgx.Rows) ([]*property.Entity, error) {
	defer rows.Close()

	var entities []*property.Entity
	for rows.Next() {
		var id, kind string
		e := &property.Entity{}
		if err := rows.Scan(&id, &kind, &e.TypeCode, &e.Code); err != nil {
			return nil, oops.In("store").With("operation", "scan entity row").Wrap(err)
		}
		parsed, err := parseULID(id)
		if err != nil {
			return nil, err
		}
		e.ID = parsed
		e.Kind = property.EntityKind(kind)
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.In("store").With("operation", "iterate entities").Wrap(err)
	}
	return entities, nil
}

type relationship struct {
	parent, child string
}

// hydrate attaches properties and relations to the selected entities.
func (r *EntityRepository) hydrate(ctx context.Context, selected []*property.Entity) error {
	byID := make(map[string]*property.Entity, len(selected))
	isSelected := make(map[string]bool, len(selected))
	ids := make([]string, 0, len(selected))
	for _, e := range selected {
		id := e.ID.String()
		byID[id] = e
		isSelected[id] = true
		ids = append(ids, id)
	}

	links, err := r.relationships(ctx, ids)
	if err != nil {
		return err
	}
	var missing []string
	for _, l := range links {
		for _, id := range []string{l.parent, l.child} {
			if _, ok := byID[id]; !ok {
				byID[id] = nil
				missing = append(missing, id)
			}
		}
	}
	if len(missing) > 0 {
		rows, err := r.pool.Query(ctx, selectEntitiesByIDSQL, missing)
		if err != nil {
			return oops.In("store").With("operation", "load related entities").Wrap(err)
		}
		related, err := scanEntities(rows)
		if err != nil {
			return err
		}
		for _, e := range related {
			byID[e.ID.String()] = e
		}
	}

	cat, err := r.loadCatalog(ctx)
	if err != nil {
		return err
	}

	loaded := make([]string, 0, len(byID))
	for id, e := range byID {
		if e != nil {
			loaded = append(loaded, id)
		}
	}
	stored, err := r.storedProperties(ctx, cat, loaded)
	if err != nil {
		return err
	}

	for id, e := range byID {
		if e == nil {
			continue
		}
		for _, a := range cat.assignmentsFor(e.Kind, e.TypeCode) {
			p, ok := stored[id][a.ID]
			if !ok {
				p = &property.Property{ID: property.NewID(), Assignment: a}
			}
			e.Properties = append(e.Properties, p)
		}
	}

	for _, l := range links {
		parent, child := byID[l.parent], byID[l.child]
		if parent == nil || child == nil {
			continue
		}
		if isSelected[l.parent] {
			parent.Children = append(parent.Children, child)
		}
		if isSelected[l.child] {
			child.Parents = append(child.Parents, parent)
		}
	}
	return nil
}

func (r *EntityRepository) relationships(ctx context.Context, ids []string) ([]relationship, error) {
	rows, err := r.pool.Query(ctx, selectRelationshipsSQL, ids)
	if err != nil {
		return nil, oops.In("store").With("operation", "list relationships").Wrap(err)
	}
	defer rows.Close()

	var links []relationship
	for rows.Next() {
		var l relationship
		if err := rows.Scan(&l.parent, &l.child); err != nil {
			return nil, oops.In("store").With("operation", "scan relationship row").Wrap(err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.In("store").With("operation", "iterate relationships").Wrap(err)
	}
	return links, nil
}

// catalog holds the vocabularies and type assignments shared by all
// entities of a load.
type catalog struct {
	vocabularies map[string]*property.Vocabulary
	terms        map[string]*property.VocabularyTerm
	assignments  map[string][]*property.Assignment
	byID         map[ulid.ULID]*property.Assignment
}

func assignmentKey(kind property.EntityKind, typeCode string) string {
	return string(kind) + "/" + strings.ToUpper(typeCode)
}

func (c *catalog) assignmentsFor(kind property.EntityKind, typeCode string) []*property.Assignment {
	return c.assignments[assignmentKey(kind, typeCode)]
}

func (r *EntityRepository) loadCatalog(ctx context.Context) (*catalog, error) {
	cat := &catalog{
		vocabularies: make(map[string]*property.Vocabulary),
		terms:        make(map[string]*property.VocabularyTerm),
		assignments:  make(map[string][]*property.Assignment),
		byID:         make(map[ulid.ULID]*property.Assignment),
	}
	if err := r.loadVocabularies(ctx, cat); err != nil {
		return nil, err
	}
	if err := r.loadAssignments(ctx, cat); err != nil {
		return nil, err
	}
	return cat, nil
}

func (r *EntityRepository) loadVocabularies(ctx context.Context, cat *catalog) error {
	rows, err := r.pool.Query(ctx, selectVocabulariesSQL)
	if err != nil {
		return oops.In("store").With("operation", "list vocabularies").Wrap(err)
	}
	defer rows.Close()

	for rows.Next() {
		var vocabID, vocabCode string
		var termID, termCode, termLabel *string
		if err := rows.Scan(&vocabID, &vocabCode, &termID, &termCode, &termLabel); err != nil {
			return oops.In("store").With("operation", "scan vocabulary row").Wrap(err)
		}
		v, ok := cat.vocabularies[vocabID]
		if !ok {
			id, err := parseULID(vocabID)
			if err != nil {
				return err
			}
			v = &property.Vocabulary{ID: id, Code: vocabCode}
			cat.vocabularies[vocabID] = v
		}
		if termID == nil {
			continue
		}
		id, err := parseULID(*termID)
		if err != nil {
			return err
		}
		term := &property.VocabularyTerm{ID: id, Code: deref(termCode), Label: deref(termLabel)}
		v.Terms = append(v.Terms, term)
		cat.terms[*termID] = term
	}
	if err := rows.Err(); err != nil {
		return oops.In("store").With("operation", "iterate vocabularies").Wrap(err)
	}
	return nil
}

func (r *EntityRepository) loadAssignments(ctx context.Context, cat *catalog) error {
	rows, err := r.pool.Query(ctx, selectAssignmentsSQL)
	if err != nil {
		return oops.In("store").With("operation", "list assignments").Wrap(err)
	}
	defer rows.Close()

	types := make(map[string]*property.PropertyType)
	scripts := make(map[string]*property.Script)
	for rows.Next() {
		var (
			assignmentID, kind, typeCode string
			ptID, ptCode, dataType       string
			vocabID, mtID, mtCode        *string
			scriptID, scriptName         *string
			scriptBody, scriptKind       *string
			scriptPlugin                 *string
		)
		if err := rows.Scan(&assignmentID, &kind, &typeCode,
			&ptID, &ptCode, &dataType, &vocabID,
			&mtID, &mtCode,
			&scriptID, &scriptName, &scriptBody, &scriptKind, &scriptPlugin); err != nil {
			return oops.In("store").With("operation", "scan assignment row").Wrap(err)
		}

		pt, ok := types[ptID]
		if !ok {
			id, err := parseULID(ptID)
			if err != nil {
				return err
			}
			pt = &property.PropertyType{ID: id, Code: ptCode, DataType: property.DataType(dataType)}
			if vocabID != nil {
				pt.Vocabulary = cat.vocabularies[*vocabID]
			}
			if mtID != nil {
				mt, err := materialType(*mtID, deref(mtCode))
				if err != nil {
					return err
				}
				pt.MaterialType = mt
			}
			types[ptID] = pt
		}

		id, err := parseULID(assignmentID)
		if err != nil {
			return err
		}
		a := &property.Assignment{ID: id, PropertyType: pt}
		if scriptID != nil {
			s, ok := scripts[*scriptID]
			if !ok {
				sid, err := parseULID(*scriptID)
				if err != nil {
					return err
				}
				s = &property.Script{
					ID:     sid,
					Name:   deref(scriptName),
					Body:   deref(scriptBody),
					Kind:   property.ScriptKind(deref(scriptKind)),
					Plugin: property.PluginType(deref(scriptPlugin)),
				}
				scripts[*scriptID] = s
			}
			a.Script = s
		}

		key := assignmentKey(property.EntityKind(kind), typeCode)
		cat.assignments[key] = append(cat.assignments[key], a)
		cat.byID[id] = a
	}
	if err := rows.Err(); err != nil {
		return oops.In("store").With("operation", "iterate assignments").Wrap(err)
	}
	return nil
}

// storedProperties returns the persisted properties keyed by entity ID and
// assignment ID.
func (r *EntityRepository) storedProperties(ctx context.Context, cat *catalog, entityIDs []string) (map[string]map[ulid.ULID]*property.Property, error) {
	rows, err := r.pool.Query(ctx, selectPropertiesSQL, entityIDs)
	if err != nil {
		return nil, oops.In("store").With("operation", "list properties").Wrap(err)
	}
	defer rows.Close()

	stored := make(map[string]map[ulid.ULID]*property.Property)
	for rows.Next() {
		var (
			propID, entityID, assignmentID string
			value, termID                  *string
			materialID, materialCode       *string
			mtID, mtCode                   *string
		)
		if err := rows.Scan(&propID, &entityID, &assignmentID, &value, &termID,
			&materialID, &materialCode, &mtID, &mtCode); err != nil {
			return nil, oops.In("store").With("operation", "scan property row").Wrap(err)
		}

		aID, err := parseULID(assignmentID)
		if err != nil {
			return nil, err
		}
		a, ok := cat.byID[aID]
		if !ok {
			return nil, oops.In("store").Code("CORRUPT_ROW").
				With("assignment_id", assignmentID).Errorf("property references unknown assignment")
		}
		id, err := parseULID(propID)
		if err != nil {
			return nil, err
		}

		p := &property.Property{ID: id, Assignment: a}
		switch {
		case termID != nil:
			term, ok := cat.terms[*termID]
			if !ok {
				return nil, oops.In("store").Code("CORRUPT_ROW").
					With("term_id", *termID).Errorf("property references unknown vocabulary term")
			}
			p.SetTerm(term)
		case materialID != nil:
			mid, err := parseULID(*materialID)
			if err != nil {
				return nil, err
			}
			m := &property.Material{ID: mid, Code: deref(materialCode)}
			if mtID != nil {
				if m.Type, err = materialType(*mtID, deref(mtCode)); err != nil {
					return nil, err
				}
			}
			p.SetMaterial(m)
		case value != nil:
			p.SetValue(*value)
		}

		if stored[entityID] == nil {
			stored[entityID] = make(map[ulid.ULID]*property.Property)
		}
		stored[entityID][aID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, oops.In("store").With("operation", "iterate properties").Wrap(err)
	}
	return stored, nil
}

// WriteProperties upserts the dynamic properties of entity in a single
// transaction. Empty properties are stored with no value.
func (r *EntityRepository) WriteProperties(ctx context.Context, entity *property.Entity) error {
	var dynamic []*property.Property
	for _, p := range entity.Properties {
		if p.Assignment.IsDynamic() {
			dynamic = append(dynamic, p)
		}
	}
	if len(dynamic) == 0 {
		return nil
	}

	err := r.retry.do(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

		for _, p := range dynamic {
			value, termID, materialID := columns(p)
			if _, err := tx.Exec(ctx, upsertPropertySQL,
				p.ID.String(), entity.ID.String(), p.Assignment.ID.String(),
				value, termID, materialID); err != nil {
				return err
			}
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return oops.In("store").Code("STORE_WRITE_FAILED").
			With("entity", entity.Code).
			With("entity_id", entity.ID.String()).
			Wrap(err)
	}
	return nil
}

// columns maps a property onto its value, term and material columns.
func columns(p *property.Property) (value, termID, materialID any) {
	switch {
	case p.Term() != nil:
		return nil, p.Term().ID.String(), nil
	case p.Material() != nil:
		return nil, nil, p.Material().ID.String()
	case p.Value() != "":
		return p.Value(), nil, nil
	default:
		return nil, nil, nil
	}
}

func materialType(id, code string) (*property.MaterialType, error) {
	parsed, err := parseULID(id)
	if err != nil {
		return nil, err
	}
	return &property.MaterialType{ID: parsed, Code: code}, nil
}

func parseULID(s string) (ulid.ULID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return ulid.ULID{}, oops.In("store").Code("CORRUPT_ID").With("id", s).Wrap(err)
	}
	return id, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
