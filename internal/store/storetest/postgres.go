// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

// Package storetest starts migrated PostgreSQL databases for integration
// suites.
package storetest

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/propeval/propeval/internal/store"
)

// Image is the PostgreSQL image the suites run against.
const Image = "postgres:16-alpine"

// Tables lists every table in truncation order.
var Tables = []string{
	"evaluation_requests", "entity_relationships", "entity_properties", "entities",
	"entity_type_assignments", "property_types", "scripts", "materials", "material_types",
	"vocabulary_terms", "vocabularies",
}

// Database is a running container with the schema applied.
type Database struct {
	URL       string
	Pool      *pgxpool.Pool
	container *postgres.PostgresContainer
}

// Start runs a PostgreSQL container and migrates it to the latest version.
func Start(ctx context.Context) (*Database, error) {
	container, err := postgres.Run(ctx, Image,
		postgres.WithDatabase("propeval_test"),
		postgres.WithUsername("propeval"),
		postgres.WithPassword("propeval"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, oops.In("storetest").Code("CONTAINER_START_FAILED").Wrap(err)
	}

	db := &Database{container: container}
	if err := db.init(ctx); err != nil {
		db.Stop(ctx)
		return nil, err
	}
	return db, nil
}

func (d *Database) init(ctx context.Context) error {
	url, err := d.container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return oops.In("storetest").Wrap(err)
	}
	d.URL = url

	migrator, err := store.NewMigrator(url)
	if err != nil {
		return err
	}
	upErr := migrator.Up()
	if closeErr := migrator.Close(); upErr == nil {
		upErr = closeErr
	}
	if upErr != nil {
		return upErr
	}

	d.Pool, err = store.Open(ctx, url)
	return err
}

// Truncate empties every table.
func (d *Database) Truncate(ctx context.Context) error {
	sql := "TRUNCATE "
	for i, t := range Tables {
		if i > 0 {
			sql += ", "
		}
		sql += t
	}
	_, err := d.Pool.Exec(ctx, sql+" CASCADE")
	if err != nil {
		return oops.In("storetest").With("operation", "truncate").Wrap(err)
	}
	return nil
}

// Stop closes the pool and terminates the container.
func (d *Database) Stop(ctx context.Context) {
	if d.Pool != nil {
		d.Pool.Close()
	}
	if d.container != nil {
		_ = d.container.Terminate(ctx)
	}
}
