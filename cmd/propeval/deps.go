// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/propeval/propeval/internal/calculator"
	"github.com/propeval/propeval/internal/calculator/expression"
	calclua "github.com/propeval/propeval/internal/calculator/lua"
	"github.com/propeval/propeval/internal/config"
	"github.com/propeval/propeval/internal/evaluator"
	"github.com/propeval/propeval/internal/observability"
	"github.com/propeval/propeval/internal/property"
	"github.com/propeval/propeval/internal/store"
	"github.com/propeval/propeval/internal/worker"
)

// Deps contains injectable dependencies for the CLI commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// MigratorFactory creates a migrator from a database URL.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (Migrator, error)

	// BackendFactory connects the database-backed repositories.
	// Default: openBackend
	BackendFactory func(ctx context.Context, url string) (*Backend, error)

	// ObservabilityServerFactory creates the metrics and health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, registrars ...observability.Registrar) ObservabilityServer
}

func (d *Deps) withDefaults() *Deps {
	out := &Deps{}
	if d != nil {
		*out = *d
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(url string) (Migrator, error) {
			return store.NewMigrator(url)
		}
	}
	if out.BackendFactory == nil {
		out.BackendFactory = openBackend
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, registrars ...observability.Registrar) ObservabilityServer {
			return observability.NewServer(addr, ready, registrars...)
		}
	}
	return out
}

// Migrator wraps the methods used by migrate from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Status() (*store.MigrationStatus, error)
	Close() error
}

// EntityStore loads entities and writes their properties back.
type EntityStore interface {
	property.EntitySource
	property.Writer
}

// RequestQueue wraps the queue operations used by enqueue, request and worker.
type RequestQueue interface {
	worker.Queue
	Enqueue(ctx context.Context, sel property.Selector) (ulid.ULID, error)
	Get(ctx context.Context, id ulid.ULID) (*store.Request, error)
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// Backend bundles the repositories of one database connection.
type Backend struct {
	Entities  EntityStore
	Materials property.MaterialLookup
	Queue     RequestQueue
	close     func()
}

// Close releases the connection pool.
func (b *Backend) Close() {
	if b.close != nil {
		b.close()
	}
}

func openBackend(ctx context.Context, url string) (*Backend, error) {
	pool, err := store.Open(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Backend{
		Entities:  store.NewEntityRepository(pool),
		Materials: store.NewMaterialRepository(pool),
		Queue:     store.NewQueueRepository(pool),
		close:     pool.Close,
	}, nil
}

// newFactory wires the script back-ends.
func newFactory(cfg *config.Config, logger *slog.Logger) *calculator.Factory {
	return calculator.NewFactory(
		calculator.WithCompiler(property.PluginLua, calclua.NewCompiler(
			calclua.WithTimeout(cfg.Evaluation.ScriptTimeout),
			calclua.WithLogger(logger),
		)),
		calculator.WithCompiler(property.PluginExpression, expression.NewCompiler()),
	)
}

// newEvaluator builds an evaluator whose material lookups are cached.
func newEvaluator(cfg *config.Config, logger *slog.Logger, materials property.MaterialLookup) (*evaluator.Evaluator, error) {
	opts := []evaluator.Option{evaluator.WithLogger(logger)}
	if materials != nil {
		cached, err := evaluator.NewCachingMaterialLookup(materials, cfg.Evaluation.MaterialCacheSize)
		if err != nil {
			return nil, err
		}
		opts = append(opts, evaluator.WithMaterialLookup(cached))
	}
	return evaluator.New(newFactory(cfg, logger), opts...), nil
}
