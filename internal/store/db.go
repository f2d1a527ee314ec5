// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

// Package store persists entities, properties and queued evaluation
// requests in PostgreSQL.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// poolIface is the subset of *pgxpool.Pool used by the repositories.
// pgxmock.PgxPoolIface satisfies it in tests.
type poolIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, oops.In("store").Code("DB_CONNECT_FAILED").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.In("store").Code("DB_CONNECT_FAILED").Wrap(err)
	}
	return pool, nil
}

// RetryPolicy bounds retries of transient database failures.
type RetryPolicy struct {
	Attempts uint64
	Base     time.Duration
	Max      time.Duration
}

// DefaultRetryPolicy retries serialization failures, deadlocks and lost
// connections up to three times.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Base: 50 * time.Millisecond, Max: time.Second}

func (p RetryPolicy) backoff() retry.Backoff {
	b := retry.NewExponential(p.Base)
	b = retry.WithCappedDuration(p.Max, b)
	return retry.WithMaxRetries(p.Attempts, b)
}

// do runs fn, retrying while it fails with a transient error.
func (p RetryPolicy) do(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if isTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.SerializationFailure ||
		pgErr.Code == pgerrcode.DeadlockDetected ||
		pgerrcode.IsConnectionException(pgErr.Code)
}
