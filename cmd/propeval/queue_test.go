// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package main

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propeval/propeval/internal/property"
	"github.com/propeval/propeval/internal/store"
	"github.com/propeval/propeval/pkg/errutil"
)

// memoryQueue is an in-memory RequestQueue.
type memoryQueue struct {
	mu       sync.Mutex
	requests map[ulid.ULID]*store.Request
	order    []ulid.ULID
}

func newMemoryQueue() *memoryQueue {
	return &memoryQueue{requests: map[ulid.ULID]*store.Request{}}
}

func (q *memoryQueue) Enqueue(_ context.Context, sel property.Selector) (ulid.ULID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := property.NewID()
	now := time.Now()
	q.requests[id] = &store.Request{ID: id, Selector: sel, Status: store.StatusPending, CreatedAt: now, UpdatedAt: now}
	q.order = append(q.order, id)
	return id, nil
}

func (q *memoryQueue) Get(_ context.Context, id ulid.ULID) (*store.Request, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	req, ok := q.requests[id]
	if !ok {
		return nil, oops.Code("REQUEST_NOT_FOUND").Wrap(store.ErrRequestNotFound)
	}
	cp := *req
	return &cp, nil
}

func (q *memoryQueue) Claim(_ context.Context, limit int) ([]*store.Request, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var claimed []*store.Request
	for _, id := range q.order {
		req := q.requests[id]
		if req.Status != store.StatusPending || len(claimed) == limit {
			continue
		}
		req.Status = store.StatusRunning
		req.Attempts++
		cp := *req
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (q *memoryQueue) Complete(_ context.Context, id ulid.ULID, evaluated, failed int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	req := q.requests[id]
	req.Status, req.Evaluated, req.Failed = store.StatusDone, evaluated, failed
	return nil
}

func (q *memoryQueue) Fail(_ context.Context, id ulid.ULID, cause string, maxAttempts int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	req := q.requests[id]
	req.LastError = cause
	req.Status = store.StatusPending
	if req.Attempts >= maxAttempts {
		req.Status = store.StatusFailed
	}
	return nil
}

func (q *memoryQueue) status(id ulid.ULID) store.RequestStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.requests[id].Status
}

func TestEnqueueAndRequestCommands(t *testing.T) {
	queue := newMemoryQueue()
	deps := fixtureBackend(t, &recordingStore{Store: loadCells(t)}, queue)

	out, _, err := execute(t, deps, "enqueue", "--kind", "sample", "--code", "C*", "--database-url", "postgres://db.test/propeval")
	require.NoError(t, err)

	id, err := property.ParseID(strings.TrimSpace(out))
	require.NoError(t, err)
	req, err := queue.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, property.KindSample, req.Selector.Kind)
	assert.Equal(t, "C*", req.Selector.CodePattern)

	out, _, err = execute(t, deps, "request", id.String(), "--database-url", "postgres://db.test/propeval")
	require.NoError(t, err)

	var view requestView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Equal(t, id.String(), view.ID)
	assert.Equal(t, "pending", view.Status)
	assert.Equal(t, "SAMPLE", view.Kind)
}

func TestRequestCommand_Errors(t *testing.T) {
	deps := fixtureBackend(t, &recordingStore{Store: loadCells(t)}, newMemoryQueue())

	_, _, err := execute(t, deps, "request", "not-a-ulid", "--database-url", "postgres://db.test/propeval")
	require.Error(t, err)

	_, _, err = execute(t, deps, "request", property.NewID().String(), "--database-url", "postgres://db.test/propeval")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "REQUEST_NOT_FOUND")
}

func TestEnqueueCommand_RequiresDatabase(t *testing.T) {
	_, _, err := execute(t, nil, "enqueue", "--code", "C1")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "DATABASE_URL_MISSING")
}
