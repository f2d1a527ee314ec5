// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package evaluator_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propeval/propeval/internal/evaluator"
	"github.com/propeval/propeval/internal/property"
)

func TestCachingMaterialLookup(t *testing.T) {
	gene := &property.Material{Code: "BRCA1", Type: &property.MaterialType{Code: "GENE"}}
	store := &materialStore{materials: []*property.Material{gene}}
	cache, err := evaluator.NewCachingMaterialLookup(store, 8)
	require.NoError(t, err)
	ctx := context.Background()

	for range 3 {
		m, err := cache.FindMaterial(ctx, property.MaterialIdentifier{Code: "brca1", TypeCode: "gene"})
		require.NoError(t, err)
		assert.Same(t, gene, m)
	}
	assert.Equal(t, 1, store.calls)

	for range 2 {
		m, err := cache.FindMaterial(ctx, property.MaterialIdentifier{Code: "NOPE", TypeCode: "GENE"})
		require.NoError(t, err)
		assert.Nil(t, m)
	}
	assert.Equal(t, 2, store.calls, "misses are cached")
	assert.Equal(t, 2, cache.Len())

	cache.Purge()
	assert.Zero(t, cache.Len())
}

func TestCachingMaterialLookup_ErrorsAreNotCached(t *testing.T) {
	store := &materialStore{err: errors.New("timeout")}
	cache, err := evaluator.NewCachingMaterialLookup(store, 0)
	require.NoError(t, err)

	id := property.MaterialIdentifier{Code: "X", TypeCode: "T"}
	_, err = cache.FindMaterial(context.Background(), id)
	require.Error(t, err)

	store.err = nil
	_, err = cache.FindMaterial(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls)
}
