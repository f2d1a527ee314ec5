// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

//go:build integration

// Package integration runs end-to-end evaluation tests against PostgreSQL.
package integration

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/propeval/propeval/internal/store/storetest"
)

func TestIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Integration Suite")
}

// testEnv holds the database shared by all specs.
type testEnv struct {
	ctx  context.Context
	pool *pgxpool.Pool
	db   *storetest.Database
}

var env *testEnv

var _ = BeforeSuite(func() {
	ctx := context.Background()
	db, err := storetest.Start(ctx)
	Expect(err).NotTo(HaveOccurred())
	env = &testEnv{ctx: ctx, pool: db.Pool, db: db}
})

var _ = AfterSuite(func() {
	if env != nil {
		env.db.Stop(env.ctx)
	}
})

// reset empties every table between specs.
func (e *testEnv) reset() {
	Expect(e.db.Truncate(e.ctx)).To(Succeed())
}
