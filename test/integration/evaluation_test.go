// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

//go:build integration

package integration

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/propeval/propeval/internal/calculator"
	"github.com/propeval/propeval/internal/calculator/expression"
	calclua "github.com/propeval/propeval/internal/calculator/lua"
	"github.com/propeval/propeval/internal/evaluator"
	"github.com/propeval/propeval/internal/property"
	"github.com/propeval/propeval/internal/store"
	"github.com/propeval/propeval/internal/worker"
)

// seedCells creates SAMPLE/CELL entities P1 (COUNT 3) and its child S1
// (COUNT 8) whose type carries one static and six dynamic properties.
func seedCells() {
	id := func() string { return ulid.Make().String() }
	vocab, small, large := id(), id(), id()
	count, label, double, size, parents, loopA, loopB := id(), id(), id(), id(), id(), id(), id()
	sLabel, sDouble, sSize, sParents, sLoopA, sLoopB := id(), id(), id(), id(), id(), id()
	aCount := id()
	p1, s1 := id(), id()

	statements := []struct {
		sql  string
		args []any
	}{
		{`INSERT INTO vocabularies (id, code) VALUES ($1, 'SIZE')`, []any{vocab}},
		{`INSERT INTO vocabulary_terms (id, vocabulary_id, code, label) VALUES ($1, $3, 'SMALL', 'Small'), ($2, $3, 'LARGE', 'Large')`,
			[]any{small, large, vocab}},
		{`INSERT INTO property_types (id, code, data_type, vocabulary_id) VALUES
			($1, 'COUNT', 'INTEGER', NULL), ($2, 'LABEL', 'VARCHAR', NULL), ($3, 'DOUBLE_COUNT', 'INTEGER', NULL),
			($4, 'SIZE', 'CONTROLLEDVOCABULARY', $8), ($5, 'PARENTS', 'VARCHAR', NULL),
			($6, 'LOOP_A', 'VARCHAR', NULL), ($7, 'LOOP_B', 'VARCHAR', NULL)`,
			[]any{count, label, double, size, parents, loopA, loopB, vocab}},
		{`INSERT INTO scripts (id, name, body, kind, plugin) VALUES
			($1, 'label', 'entity:code() .. "-" .. entity:propertyValue("COUNT")', 'DYNAMIC_PROPERTY', 'LUA'),
			($2, 'double-count', 'number([COUNT]) * 2', 'DYNAMIC_PROPERTY', 'EXPRESSION'),
			($3, 'size', 'if tonumber(entity:propertyValue("DOUBLE_COUNT")) > 10 then return "large" end return "small"', 'DYNAMIC_PROPERTY', 'LUA'),
			($4, 'parents', 'parent-codes', 'DYNAMIC_PROPERTY', 'PREDEPLOYED'),
			($5, 'loop-a', 'entity:propertyValue("LOOP_B")', 'DYNAMIC_PROPERTY', 'LUA'),
			($6, 'loop-b', 'entity:propertyValue("LOOP_A")', 'DYNAMIC_PROPERTY', 'LUA')`,
			[]any{sLabel, sDouble, sSize, sParents, sLoopA, sLoopB}},
		{`INSERT INTO entity_type_assignments (id, entity_kind, entity_type_code, property_type_id, script_id, ordinal) VALUES
			($1, 'SAMPLE', 'CELL', $2, NULL, 0),
			($3, 'SAMPLE', 'CELL', $4, $5, 1), ($6, 'SAMPLE', 'CELL', $7, $8, 2),
			($9, 'SAMPLE', 'CELL', $10, $11, 3), ($12, 'SAMPLE', 'CELL', $13, $14, 4),
			($15, 'SAMPLE', 'CELL', $16, $17, 5), ($18, 'SAMPLE', 'CELL', $19, $20, 6)`,
			[]any{aCount, count,
				id(), label, sLabel, id(), double, sDouble,
				id(), size, sSize, id(), parents, sParents,
				id(), loopA, sLoopA, id(), loopB, sLoopB}},
		{`INSERT INTO entities (id, kind, type_code, code) VALUES ($1, 'SAMPLE', 'CELL', 'P1'), ($2, 'SAMPLE', 'CELL', 'S1')`,
			[]any{p1, s1}},
		{`INSERT INTO entity_properties (id, entity_id, assignment_id, value) VALUES ($1, $2, $5, '3'), ($3, $4, $5, '8')`,
			[]any{id(), p1, id(), s1, aCount}},
		{`INSERT INTO entity_relationships (parent_id, child_id) VALUES ($1, $2)`, []any{p1, s1}},
	}
	for _, s := range statements {
		_, err := env.pool.Exec(env.ctx, s.sql, s.args...)
		Expect(err).NotTo(HaveOccurred(), s.sql)
	}
}

func newWorker(entities *store.EntityRepository, queue *store.QueueRepository) *worker.Worker {
	factory := calculator.NewFactory(
		calculator.WithCompiler(property.PluginLua, calclua.NewCompiler(calclua.WithTimeout(time.Second))),
		calculator.WithCompiler(property.PluginExpression, expression.NewCompiler()),
	)
	materials, err := evaluator.NewCachingMaterialLookup(store.NewMaterialRepository(env.pool), 16)
	Expect(err).NotTo(HaveOccurred())

	ev := evaluator.New(factory, evaluator.WithMaterialLookup(materials))
	driver := evaluator.NewDriver(ev, evaluator.WithWriter(entities), evaluator.WithWorkers(2))
	return worker.New(worker.Config{BatchSize: 1, MaxAttempts: 2}, queue, entities, driver)
}

func storedValues(entities *store.EntityRepository, code string) map[string]string {
	list, err := entities.ListEntities(env.ctx, property.Selector{CodePattern: code})
	Expect(err).NotTo(HaveOccurred())
	Expect(list).To(HaveLen(1))

	values := map[string]string{}
	for _, p := range list[0].Properties {
		values[strings.ToUpper(p.Code())] = p.AsString()
	}
	return values
}

var _ = Describe("Queued evaluation", func() {
	var (
		entities *store.EntityRepository
		queue    *store.QueueRepository
	)

	BeforeEach(func() {
		env.reset()
		seedCells()
		entities = store.NewEntityRepository(env.pool)
		queue = store.NewQueueRepository(env.pool)
	})

	It("evaluates the selected entities and stores the results", func() {
		id, err := queue.Enqueue(env.ctx, property.Selector{Kind: property.KindSample, TypeCode: "cell"})
		Expect(err).NotTo(HaveOccurred())

		n, err := newWorker(entities, queue).RunOnce(env.ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		req, err := queue.Get(env.ctx, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(req.Status).To(Equal(store.StatusDone))
		Expect(req.Attempts).To(Equal(1))
		Expect(req.Evaluated).To(Equal(2))
		Expect(req.Failed).To(Equal(0))

		s1 := storedValues(entities, "S1")
		Expect(s1).To(HaveKeyWithValue("COUNT", "8"))
		Expect(s1).To(HaveKeyWithValue("LABEL", "S1-8"))
		Expect(s1).To(HaveKeyWithValue("DOUBLE_COUNT", "16"))
		Expect(s1).To(HaveKeyWithValue("SIZE", "LARGE"))
		Expect(s1).To(HaveKeyWithValue("PARENTS", "P1"))
		Expect(evaluator.IsErrorValue(s1["LOOP_A"])).To(BeTrue())
		Expect(evaluator.IsErrorValue(s1["LOOP_B"])).To(BeTrue())

		p1 := storedValues(entities, "P1")
		Expect(p1).To(HaveKeyWithValue("DOUBLE_COUNT", "6"))
		Expect(p1).To(HaveKeyWithValue("SIZE", "SMALL"))
		Expect(p1).To(HaveKeyWithValue("PARENTS", ""))
	})

	It("overwrites earlier results when evaluated again", func() {
		w := newWorker(entities, queue)
		for range 2 {
			_, err := queue.Enqueue(env.ctx, property.Selector{CodePattern: "S1"})
			Expect(err).NotTo(HaveOccurred())
			_, err = w.RunOnce(env.ctx)
			Expect(err).NotTo(HaveOccurred())
		}

		var rows int
		Expect(env.pool.QueryRow(env.ctx,
			`SELECT count(*) FROM entity_properties ep JOIN entities e ON e.id = ep.entity_id WHERE e.code = 'S1'`).
			Scan(&rows)).To(Succeed())
		Expect(rows).To(Equal(7), "one row per assignment")
		Expect(storedValues(entities, "S1")).To(HaveKeyWithValue("LABEL", "S1-8"))
	})

	It("leaves nothing to claim once every request is done", func() {
		_, err := queue.Enqueue(env.ctx, property.Selector{CodePattern: "P*"})
		Expect(err).NotTo(HaveOccurred())

		w := newWorker(entities, queue)
		n, err := w.RunOnce(env.ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		n, err = w.RunOnce(env.ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
		Expect(w.Ready()).To(BeTrue())
	})
})
