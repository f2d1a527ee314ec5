// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propeval/propeval/internal/property"
	"github.com/propeval/propeval/pkg/errutil"
)

var requestRowColumns = []string{
	"id", "kind", "type_code", "code_pattern", "entity_ids", "status",
	"attempts", "evaluated", "failed", "last_error", "created_at", "updated_at",
}

func TestQueueRepository_Enqueue(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	entity := ulid.Make()
	mock.ExpectExec(`INSERT INTO evaluation_requests`).
		WithArgs(pgxmock.AnyArg(), "SAMPLE", "CELL", "S-*", []string{entity.String()}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := NewQueueRepository(mock).Enqueue(context.Background(), property.Selector{
		Kind:        property.KindSample,
		TypeCode:    "CELL",
		CodePattern: "S-*",
		IDs:         []ulid.ULID{entity},
	})
	require.NoError(t, err)
	assert.NotEqual(t, ulid.ULID{}, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueRepository_EnqueueRejectsInvalidSelector(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewQueueRepository(mock).Enqueue(context.Background(), property.Selector{CodePattern: "[a"})
	errutil.AssertErrorCode(t, err, "SELECTOR_INVALID")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueRepository_Claim(t *testing.T) {
	id, entity := ulid.Make(), ulid.Make()
	now := time.Now()

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantLen   int
		wantErr   bool
	}{
		{
			name: "claims pending requests",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
					WithArgs(5).
					WillReturnRows(pgxmock.NewRows(requestRowColumns).
						AddRow(id.String(), "SAMPLE", "", "S*", []string{entity.String()}, "running",
							1, 0, 0, "", now, now))
			},
			wantLen: 1,
		},
		{
			name: "empty queue",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).WillReturnRows(pgxmock.NewRows(requestRowColumns))
			},
		},
		{
			name: "retries deadlock",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.DeadlockDetected})
				mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).WillReturnRows(pgxmock.NewRows(requestRowColumns))
			},
		},
		{
			name: "permanent failure",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).WillReturnError(errors.New("relation does not exist"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			tt.setupMock(mock)

			reqs, err := NewQueueRepository(mock).WithRetryPolicy(fastRetry()).Claim(context.Background(), 5)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				require.Len(t, reqs, tt.wantLen)
			}
			if tt.wantLen > 0 {
				req := reqs[0]
				assert.Equal(t, id, req.ID)
				assert.Equal(t, StatusRunning, req.Status)
				assert.Equal(t, 1, req.Attempts)
				assert.Equal(t, property.KindSample, req.Selector.Kind)
				assert.Equal(t, "S*", req.Selector.CodePattern)
				assert.Equal(t, []ulid.ULID{entity}, req.Selector.IDs)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestQueueRepository_Get(t *testing.T) {
	id := ulid.Make()

	t.Run("found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		now := time.Now()
		mock.ExpectQuery(`FROM evaluation_requests WHERE id`).
			WithArgs(id.String()).
			WillReturnRows(pgxmock.NewRows(requestRowColumns).
				AddRow(id.String(), "", "CELL", "", []string{}, "done", 1, 12, 2, "", now, now))

		req, err := NewQueueRepository(mock).Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, StatusDone, req.Status)
		assert.Equal(t, 12, req.Evaluated)
		assert.Equal(t, 2, req.Failed)
		assert.Equal(t, "CELL", req.Selector.TypeCode)
	})

	t.Run("missing", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`FROM evaluation_requests WHERE id`).WillReturnRows(pgxmock.NewRows(requestRowColumns))

		_, err = NewQueueRepository(mock).Get(context.Background(), id)
		require.ErrorIs(t, err, ErrRequestNotFound)
		errutil.AssertErrorCode(t, err, "REQUEST_NOT_FOUND")
	})
}

func TestQueueRepository_CompleteAndFail(t *testing.T) {
	id := ulid.Make()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`SET status = 'done'`).
		WithArgs(id.String(), 10, 1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`attempts >= \$3`).
		WithArgs(id.String(), "source unavailable", 3).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`attempts >= \$3`).
		WillReturnError(errors.New("connection reset"))

	repo := NewQueueRepository(mock).WithRetryPolicy(fastRetry())
	require.NoError(t, repo.Complete(context.Background(), id, 10, 1))
	require.NoError(t, repo.Fail(context.Background(), id, "source unavailable", 3))

	err = repo.Fail(context.Background(), id, "again", 3)
	require.Error(t, err)
	errutil.AssertErrorContext(t, err, "request_id", id.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}
