// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package fixture

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/propeval/propeval/internal/property"
)

// Store is an in-memory entity store built from a fixture. It implements
// property.EntitySource, property.Writer and property.MaterialLookup.
//
// ListEntities hands out copies, so concurrent evaluations never share
// mutable properties with the store.
type Store struct {
	mu        sync.RWMutex
	doc       Document
	entities  []*property.Entity
	byID      map[ulid.ULID]*property.Entity
	materials []*property.Material
	writes    int
}

// LoadFile reads and loads the fixture at path.
func LoadFile(path string) (*Store, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, oops.In("fixture").Code("FIXTURE_READ_FAILED").With("path", path).Wrap(err)
	}
	s, err := Load(data)
	if err != nil {
		return nil, oops.In("fixture").With("path", path).Wrap(err)
	}
	return s, nil
}

// Load validates data against the fixture schema and builds a Store.
func Load(data []byte) (*Store, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, oops.In("fixture").Code("FIXTURE_INVALID").Wrap(err)
	}
	return build(doc)
}

func invalid(format string, args ...any) error {
	return oops.In("fixture").Code("FIXTURE_INVALID").Errorf(format, args...)
}

// builder resolves the references between the sections of a document.
type builder struct {
	vocabularies  map[string]*property.Vocabulary
	materialTypes map[string]*property.MaterialType
	materials     []*property.Material
	scripts       map[string]*property.Script
	propertyTypes map[string]*property.PropertyType
	entityTypes   map[string][]*property.Assignment
}

func key(parts ...string) string {
	return strings.ToUpper(strings.Join(parts, "/"))
}

func build(doc Document) (*Store, error) {
	b := &builder{
		vocabularies:  make(map[string]*property.Vocabulary),
		materialTypes: make(map[string]*property.MaterialType),
		scripts:       make(map[string]*property.Script),
		propertyTypes: make(map[string]*property.PropertyType),
		entityTypes:   make(map[string][]*property.Assignment),
	}
	steps := []func(Document) error{
		b.addVocabularies,
		b.addMaterials,
		b.addScripts,
		b.addPropertyTypes,
		b.addEntityTypes,
	}
	for _, step := range steps {
		if err := step(doc); err != nil {
			return nil, err
		}
	}

	s := &Store{doc: doc, byID: make(map[ulid.ULID]*property.Entity), materials: b.materials}
	if err := s.addEntities(b, doc.Entities); err != nil {
		return nil, err
	}
	return s, nil
}

func (b *builder) addVocabularies(doc Document) error {
	for _, v := range doc.Vocabularies {
		k := key(v.Code)
		if _, dup := b.vocabularies[k]; dup {
			return invalid("duplicate vocabulary %q", v.Code)
		}
		vocab := &property.Vocabulary{ID: property.NewID(), Code: v.Code}
		for _, t := range v.Terms {
			if _, dup := vocab.FindTerm(t.Code); dup {
				return invalid("duplicate term %q in vocabulary %q", t.Code, v.Code)
			}
			vocab.Terms = append(vocab.Terms, &property.VocabularyTerm{ID: property.NewID(), Code: t.Code, Label: t.Label})
		}
		b.vocabularies[k] = vocab
	}
	return nil
}

func (b *builder) materialType(code string) *property.MaterialType {
	k := key(code)
	mt, ok := b.materialTypes[k]
	if !ok {
		mt = &property.MaterialType{ID: property.NewID(), Code: code}
		b.materialTypes[k] = mt
	}
	return mt
}

func (b *builder) addMaterials(doc Document) error {
	seen := make(map[string]bool)
	for _, m := range doc.Materials {
		k := key(m.Code, m.Type)
		if seen[k] {
			return invalid("duplicate material %q", property.MaterialIdentifier{Code: m.Code, TypeCode: m.Type}.String())
		}
		seen[k] = true
		b.materials = append(b.materials, &property.Material{ID: property.NewID(), Code: m.Code, Type: b.materialType(m.Type)})
	}
	return nil
}

func (b *builder) addScripts(doc Document) error {
	for _, sc := range doc.Scripts {
		k := key(sc.Name)
		if _, dup := b.scripts[k]; dup {
			return invalid("duplicate script %q", sc.Name)
		}
		kind := property.ScriptKind(sc.Kind)
		if kind == "" {
			kind = property.ScriptKindDynamicProperty
		}
		b.scripts[k] = &property.Script{
			ID:     property.NewID(),
			Name:   sc.Name,
			Body:   sc.Body,
			Kind:   kind,
			Plugin: property.PluginType(sc.Plugin),
		}
	}
	return nil
}

func (b *builder) addPropertyTypes(doc Document) error {
	for _, pt := range doc.PropertyTypes {
		k := key(pt.Code)
		if _, dup := b.propertyTypes[k]; dup {
			return invalid("duplicate property type %q", pt.Code)
		}
		t := &property.PropertyType{ID: property.NewID(), Code: pt.Code, DataType: property.DataType(pt.DataType)}
		switch t.DataType {
		case property.DataTypeControlledVocabulary:
			vocab, ok := b.vocabularies[key(pt.Vocabulary)]
			if !ok {
				return invalid("property type %q references unknown vocabulary %q", pt.Code, pt.Vocabulary)
			}
			t.Vocabulary = vocab
		case property.DataTypeMaterial:
			if pt.MaterialType != "" {
				t.MaterialType = b.materialType(pt.MaterialType)
			}
		}
		b.propertyTypes[k] = t
	}
	return nil
}

func (b *builder) addEntityTypes(doc Document) error {
	for _, et := range doc.EntityTypes {
		k := key(et.Kind, et.Code)
		if _, dup := b.entityTypes[k]; dup {
			return invalid("duplicate entity type %s %q", et.Kind, et.Code)
		}
		assignments := make([]*property.Assignment, 0, len(et.Properties))
		for _, a := range et.Properties {
			pt, ok := b.propertyTypes[key(a.Type)]
			if !ok {
				return invalid("entity type %q references unknown property type %q", et.Code, a.Type)
			}
			assignment := &property.Assignment{ID: property.NewID(), PropertyType: pt}
			if a.Script != "" {
				sc, ok := b.scripts[key(a.Script)]
				if !ok {
					return invalid("property %q of entity type %q references unknown script %q", a.Type, et.Code, a.Script)
				}
				assignment.Script = sc
			}
			assignments = append(assignments, assignment)
		}
		b.entityTypes[k] = assignments
	}
	return nil
}

func (s *Store) addEntities(b *builder, docs []Entity) error {
	byCode := make(map[string]*property.Entity, len(docs))
	for _, d := range docs {
		if _, dup := byCode[key(d.Code)]; dup {
			return invalid("duplicate entity code %q", d.Code)
		}
		assignments, ok := b.entityTypes[key(d.Kind, d.Type)]
		if !ok {
			return invalid("entity %q has unknown type %s %q", d.Code, d.Kind, d.Type)
		}

		e := &property.Entity{ID: property.NewID(), Kind: property.EntityKind(d.Kind), TypeCode: d.Type, Code: d.Code}
		for _, a := range assignments {
			p := &property.Property{ID: property.NewID(), Assignment: a}
			if raw, ok := lookupValue(d.Properties, a.PropertyType.Code); ok {
				if err := s.setStored(p, raw, b); err != nil {
					return oops.In("fixture").With("entity", d.Code).Wrap(err)
				}
			}
			e.Properties = append(e.Properties, p)
		}
		for code := range d.Properties {
			if _, ok := e.Property(code); !ok {
				return invalid("entity %q sets property %q which its type does not assign", d.Code, code)
			}
		}

		byCode[key(d.Code)] = e
		s.entities = append(s.entities, e)
		s.byID[e.ID] = e
	}

	for _, d := range docs {
		child := byCode[key(d.Code)]
		for _, parentCode := range d.Parents {
			parent, ok := byCode[key(parentCode)]
			if !ok {
				return invalid("entity %q references unknown parent %q", d.Code, parentCode)
			}
			child.Parents = append(child.Parents, parent)
			parent.Children = append(parent.Children, child)
		}
	}
	return nil
}

func lookupValue(values map[string]string, code string) (string, bool) {
	for k, v := range values {
		if strings.EqualFold(k, code) {
			return v, true
		}
	}
	return "", false
}

// setStored puts a stored fixture value into p. Values that carry the
// error marker are kept verbatim.
func (s *Store) setStored(p *property.Property, raw string, b *builder) error {
	if raw == "" || strings.HasPrefix(raw, "\uFFFD") {
		p.SetValue(raw)
		return nil
	}
	pt := p.Assignment.PropertyType
	switch pt.DataType {
	case property.DataTypeControlledVocabulary:
		term, ok := pt.Vocabulary.FindTerm(raw)
		if !ok {
			return invalid("property %q: %q is not a term of vocabulary %q", pt.Code, raw, pt.Vocabulary.Code)
		}
		p.SetTerm(term)
	case property.DataTypeMaterial:
		id, err := property.ParseMaterialIdentifier(raw)
		if err != nil {
			return err
		}
		if !id.HasType() && pt.MaterialType != nil {
			id.TypeCode = pt.MaterialType.Code
		}
		m := findMaterial(b.materials, id)
		if m == nil {
			return invalid("property %q: unknown material %q", pt.Code, id.String())
		}
		p.SetMaterial(m)
	default:
		p.SetValue(raw)
	}
	return nil
}

func findMaterial(materials []*property.Material, id property.MaterialIdentifier) *property.Material {
	var found *property.Material
	for _, m := range materials {
		if !strings.EqualFold(m.Code, id.Code) {
			continue
		}
		if id.HasType() && (m.Type == nil || !strings.EqualFold(m.Type.Code, id.TypeCode)) {
			continue
		}
		if found != nil {
			return nil
		}
		found = m
	}
	return found
}

// ListEntities returns copies of the entities matching sel, in fixture
// order. Parents and children are copied one level deep.
func (s *Store) ListEntities(_ context.Context, sel property.Selector) ([]*property.Entity, error) {
	match, err := sel.Matcher()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*property.Entity
	for _, e := range s.entities {
		if !match(e) {
			continue
		}
		c := copyEntity(e)
		for _, p := range e.Parents {
			c.Parents = append(c.Parents, copyEntity(p))
		}
		for _, ch := range e.Children {
			c.Children = append(c.Children, copyEntity(ch))
		}
		out = append(out, c)
	}
	return out, nil
}

func copyEntity(e *property.Entity) *property.Entity {
	c := &property.Entity{ID: e.ID, Kind: e.Kind, TypeCode: e.TypeCode, Code: e.Code}
	c.Properties = make([]*property.Property, len(e.Properties))
	for i, p := range e.Properties {
		c.Properties[i] = p.Clone()
	}
	return c
}

// WriteProperties stores the dynamic property values of entity.
func (s *Store) WriteProperties(_ context.Context, entity *property.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[entity.ID]
	if !ok {
		return oops.In("fixture").Code("ENTITY_NOT_FOUND").With("entity", entity.Code).Errorf("entity is not part of the fixture")
	}
	for _, p := range entity.Properties {
		if !p.Assignment.IsDynamic() {
			continue
		}
		for i, sp := range stored.Properties {
			if sp.Assignment == p.Assignment {
				stored.Properties[i] = p.Clone()
			}
		}
	}
	s.writes++
	return nil
}

// Writes returns how many entities have been written.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// FindMaterial resolves id case-insensitively. Without a type the code must
// be unambiguous.
func (s *Store) FindMaterial(_ context.Context, id property.MaterialIdentifier) (*property.Material, error) {
	return findMaterial(s.materials, id), nil
}

// Marshal renders the fixture with the current property values.
func (s *Store) Marshal() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc := s.doc
	doc.Entities = make([]Entity, len(s.doc.Entities))
	for i, d := range s.doc.Entities {
		e := s.entities[i]
		values := make(map[string]string)
		for _, p := range e.Properties {
			if !p.IsEmpty() {
				values[p.Code()] = p.AsString()
			}
		}
		d.Properties = values
		if len(values) == 0 {
			d.Properties = nil
		}
		doc.Entities[i] = d
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, oops.In("fixture").Code("FIXTURE_MARSHAL_FAILED").Wrap(err)
	}
	return data, nil
}

// Codes returns the entity codes in the fixture, sorted.
func (s *Store) Codes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	codes := make([]string, 0, len(s.entities))
	for _, e := range s.entities {
		codes = append(codes, e.Code)
	}
	sort.Strings(codes)
	return codes
}
