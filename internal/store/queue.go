// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/propeval/propeval/internal/property"
)

// RequestStatus is the lifecycle state of a queued evaluation request.
type RequestStatus string

// Request states.
const (
	StatusPending RequestStatus = "pending"
	StatusRunning RequestStatus = "running"
	StatusDone    RequestStatus = "done"
	StatusFailed  RequestStatus = "failed"
)

// ErrRequestNotFound is returned when a request ID is unknown.
var ErrRequestNotFound = errors.New("evaluation request not found")

// Request is a queued batch evaluation.
type Request struct {
	ID        ulid.ULID
	Selector  property.Selector
	Status    RequestStatus
	Attempts  int
	Evaluated int
	Failed    int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// QueueRepository stores evaluation requests. Workers claim pending
// requests with FOR UPDATE SKIP LOCKED so several may share one queue.
type QueueRepository struct {
	pool  poolIface
	retry RetryPolicy
}

// NewQueueRepository creates a new PostgreSQL queue repository.
func NewQueueRepository(pool poolIface) *QueueRepository {
	return &QueueRepository{pool: pool, retry: DefaultRetryPolicy}
}

// WithRetryPolicy replaces the policy used for claims and updates.
func (r *QueueRepository) WithRetryPolicy(p RetryPolicy) *QueueRepository {
	r.retry = p
	return r
}

const requestColumns = `id, kind, type_code, code_pattern, entity_ids, status,
	attempts, evaluated, failed, last_error, created_at, updated_at`

const claimRequestsSQL = `UPDATE evaluation_requests
	SET status = 'running', attempts = attempts + 1, updated_at = now()
	WHERE id IN (
	    SELECT id FROM evaluation_requests
	    WHERE status = 'pending'
	    ORDER BY id
	    LIMIT $1
	    FOR UPDATE SKIP LOCKED)
	RETURNING ` + requestColumns

const failRequestSQL = `UPDATE evaluation_requests
	SET status = CASE WHEN attempts >= $3 THEN 'failed' ELSE 'pending' END,
	    last_error = $2, updated_at = now()
	WHERE id = $1`

// Enqueue records a pending request for sel and returns its ID.
func (r *QueueRepository) Enqueue(ctx context.Context, sel property.Selector) (ulid.ULID, error) {
	if _, err := sel.Matcher(); err != nil {
		return ulid.ULID{}, err
	}
	id := property.NewID()
	ids := make([]string, 0, len(sel.IDs))
	for _, e := range sel.IDs {
		ids = append(ids, e.String())
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO evaluation_requests (id, kind, type_code, code_pattern, entity_ids)
		 VALUES ($1, $2, $3, $4, $5)`,
		id.String(), string(sel.Kind), sel.TypeCode, sel.CodePattern, ids)
	if err != nil {
		return ulid.ULID{}, oops.In("store").With("operation", "enqueue request").Wrap(err)
	}
	return id, nil
}

// Claim marks up to limit pending requests as running and returns them,
// oldest first.
func (r *QueueRepository) Claim(ctx context.Context, limit int) ([]*Request, error) {
	var claimed []*Request
	err := r.retry.do(ctx, func(ctx context.Context) error {
		rows, err := r.pool.Query(ctx, claimRequestsSQL, limit)
		if err != nil {
			return err
		}
		claimed, err = scanRequests(rows)
		return err
	})
	if err != nil {
		return nil, oops.In("store").With("operation", "claim requests").With("limit", limit).Wrap(err)
	}
	return claimed, nil
}

// Get returns the request with the given ID.
func (r *QueueRepository) Get(ctx context.Context, id ulid.ULID) (*Request, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+requestColumns+` FROM evaluation_requests WHERE id = $1`, id.String())
	if err != nil {
		return nil, oops.In("store").With("operation", "get request").With("request_id", id.String()).Wrap(err)
	}
	reqs, err := scanRequests(rows)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, oops.In("store").Code("REQUEST_NOT_FOUND").With("request_id", id.String()).Wrap(ErrRequestNotFound)
	}
	return reqs[0], nil
}

// Complete marks a request done with its batch counts.
func (r *QueueRepository) Complete(ctx context.Context, id ulid.ULID, evaluated, failed int) error {
	err := r.retry.do(ctx, func(ctx context.Context) error {
		_, err := r.pool.Exec(ctx,
			`UPDATE evaluation_requests
			 SET status = 'done', evaluated = $2, failed = $3, last_error = '', updated_at = now()
			 WHERE id = $1`,
			id.String(), evaluated, failed)
		return err
	})
	if err != nil {
		return oops.In("store").With("operation", "complete request").With("request_id", id.String()).Wrap(err)
	}
	return nil
}

// Fail records cause on a request. It returns to pending until it has been
// attempted maxAttempts times, then it is marked failed.
func (r *QueueRepository) Fail(ctx context.Context, id ulid.ULID, cause string, maxAttempts int) error {
	err := r.retry.do(ctx, func(ctx context.Context) error {
		_, err := r.pool.Exec(ctx, failRequestSQL, id.String(), cause, maxAttempts)
		return err
	})
	if err != nil {
		return oops.In("store").With("operation", "fail request").With("request_id", id.String()).Wrap(err)
	}
	return nil
}

func scanRequests(rows pgx.Rows) ([]*Request, error) {
	defer rows.Close()

	var reqs []*Request
	for rows.Next() {
		var (
			id, kind, status string
			entityIDs        []string
		)
		req := &Request{}
		if err := rows.Scan(&id, &kind, &req.Selector.TypeCode, &req.Selector.CodePattern, &entityIDs, &status,
			&req.Attempts, &req.Evaluated, &req.Failed, &req.LastError, &req.CreatedAt, &req.UpdatedAt); err != nil {
			return nil, oops.In("store").With("operation", "scan request row").Wrap(err)
		}
		parsed, err := parseULID(id)
		if err != nil {
			return nil, err
		}
		req.ID = parsed
		req.Status = RequestStatus(status)
		req.Selector.Kind = property.EntityKind(kind)
		for _, raw := range entityIDs {
			eid, err := parseULID(raw)
			if err != nil {
				return nil, err
			}
			req.Selector.IDs = append(req.Selector.IDs, eid)
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.In("store").With("operation", "iterate requests").Wrap(err)
	}
	return reqs, nil
}
