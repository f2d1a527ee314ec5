// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

//go:build integration

package store_test

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/propeval/propeval/internal/property"
	"github.com/propeval/propeval/internal/store"
	"github.com/propeval/propeval/internal/store/storetest"
)

// seed creates a SAMPLE/CELL type with a static NAME and a dynamic LABEL,
// a parent P1 and a child S1.
func seed(ctx context.Context, pool *pgxpool.Pool) (parent, child string) {
	id := func() string { return ulid.Make().String() }
	parent, child = id(), id()
	namePT, labelPT, script := id(), id(), id()
	nameA, labelA := id(), id()

	statements := []struct {
		sql  string
		args []any
	}{
		{`INSERT INTO property_types (id, code, data_type) VALUES ($1, 'NAME', 'VARCHAR'), ($2, 'LABEL', 'VARCHAR')`,
			[]any{namePT, labelPT}},
		{`INSERT INTO scripts (id, name, body, kind, plugin) VALUES ($1, 'label', 'entity:code() .. "-" .. entity:propertyValue("NAME")', 'DYNAMIC_PROPERTY', 'LUA')`,
			[]any{script}},
		{`INSERT INTO entity_type_assignments (id, entity_kind, entity_type_code, property_type_id, script_id, ordinal)
		  VALUES ($1, 'SAMPLE', 'CELL', $2, NULL, 0), ($3, 'SAMPLE', 'CELL', $4, $5, 1)`,
			[]any{nameA, namePT, labelA, labelPT, script}},
		{`INSERT INTO entities (id, kind, type_code, code) VALUES ($1, 'SAMPLE', 'CELL', 'P1'), ($2, 'SAMPLE', 'CELL', 'S1')`,
			[]any{parent, child}},
		{`INSERT INTO entity_properties (id, entity_id, assignment_id, value) VALUES ($1, $2, $3, 'parent'), ($4, $5, $3, 'child')`,
			[]any{id(), parent, nameA, id(), child}},
		{`INSERT INTO entity_relationships (parent_id, child_id) VALUES ($1, $2)`,
			[]any{parent, child}},
	}
	for _, s := range statements {
		_, err := pool.Exec(ctx, s.sql, s.args...)
		Expect(err).NotTo(HaveOccurred())
	}
	return parent, child
}

var _ = Describe("Repositories", func() {
	var (
		ctx  context.Context
		db   *storetest.Database
		pool *pgxpool.Pool
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		db, err = storetest.Start(ctx)
		Expect(err).NotTo(HaveOccurred())
		pool = db.Pool
	})

	AfterEach(func() {
		db.Stop(ctx)
	})

	Describe("EntityRepository", func() {
		It("loads entities with relations and persists dynamic values", func() {
			_, child := seed(ctx, pool)
			repo := store.NewEntityRepository(pool)

			entities, err := repo.ListEntities(ctx, property.Selector{CodePattern: "S*"})
			Expect(err).NotTo(HaveOccurred())
			Expect(entities).To(HaveLen(1))

			s1 := entities[0]
			Expect(s1.ID.String()).To(Equal(child))
			Expect(s1.Parents).To(HaveLen(1))
			Expect(s1.Parents[0].Code).To(Equal("P1"))

			label, ok := s1.Property("LABEL")
			Expect(ok).To(BeTrue())
			Expect(label.IsEmpty()).To(BeTrue())

			label.SetValue("S1-child")
			Expect(repo.WriteProperties(ctx, s1)).To(Succeed())

			reloaded, err := repo.ListEntities(ctx, property.Selector{CodePattern: "S1"})
			Expect(err).NotTo(HaveOccurred())
			stored, _ := reloaded[0].Property("LABEL")
			Expect(stored.Value()).To(Equal("S1-child"))

			stored.Clear()
			Expect(repo.WriteProperties(ctx, reloaded[0])).To(Succeed())
			cleared, err := repo.ListEntities(ctx, property.Selector{CodePattern: "S1"})
			Expect(err).NotTo(HaveOccurred())
			final, _ := cleared[0].Property("LABEL")
			Expect(final.IsEmpty()).To(BeTrue())
		})
	})

	Describe("QueueRepository", func() {
		It("hands each pending request to one claimer", func() {
			queue := store.NewQueueRepository(pool)
			id, err := queue.Enqueue(ctx, property.Selector{Kind: property.KindSample})
			Expect(err).NotTo(HaveOccurred())

			first, err := queue.Claim(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(first).To(HaveLen(1))
			Expect(first[0].ID).To(Equal(id))

			second, err := queue.Claim(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(BeEmpty())

			Expect(queue.Fail(ctx, id, "boom", 2)).To(Succeed())
			req, err := queue.Get(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Status).To(Equal(store.StatusPending))

			_, err = queue.Claim(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(queue.Complete(ctx, id, 3, 1)).To(Succeed())

			req, err = queue.Get(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Status).To(Equal(store.StatusDone))
			Expect(req.Attempts).To(Equal(2))
			Expect(req.Evaluated).To(Equal(3))
		})
	})

	Describe("MaterialRepository", func() {
		It("matches codes case-insensitively", func() {
			typeID, materialID := ulid.Make().String(), ulid.Make().String()
			_, err := pool.Exec(ctx, `INSERT INTO material_types (id, code) VALUES ($1, 'BACTERIUM')`, typeID)
			Expect(err).NotTo(HaveOccurred())
			_, err = pool.Exec(ctx, `INSERT INTO materials (id, code, material_type_id) VALUES ($1, 'BAC1', $2)`, materialID, typeID)
			Expect(err).NotTo(HaveOccurred())

			m, err := store.NewMaterialRepository(pool).FindMaterial(ctx,
				property.MaterialIdentifier{Code: "bac1", TypeCode: "bacterium"})
			Expect(err).NotTo(HaveOccurred())
			Expect(m).NotTo(BeNil())
			Expect(m.Identifier().String()).To(Equal("BAC1 (BACTERIUM)"))
		})
	})
})
