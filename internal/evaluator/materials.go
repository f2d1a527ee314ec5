// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package evaluator

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/oops"

	"github.com/propeval/propeval/internal/property"
)

// DefaultMaterialCacheSize is the number of identifiers kept by
// NewCachingMaterialLookup when size is not positive.
const DefaultMaterialCacheSize = 1024

// CachingMaterialLookup caches the answers of another MaterialLookup,
// including misses. Lookup errors are not cached.
type CachingMaterialLookup struct {
	next  property.MaterialLookup
	cache *lru.Cache[string, *property.Material]
}

var _ property.MaterialLookup = (*CachingMaterialLookup)(nil)

// NewCachingMaterialLookup wraps next with an LRU cache of the given size.
func NewCachingMaterialLookup(next property.MaterialLookup, size int) (*CachingMaterialLookup, error) {
	if size <= 0 {
		size = DefaultMaterialCacheSize
	}
	cache, err := lru.New[string, *property.Material](size)
	if err != nil {
		return nil, oops.In("evaluator").With("size", size).Wrap(err)
	}
	return &CachingMaterialLookup{next: next, cache: cache}, nil
}

// FindMaterial returns the cached material for id or asks the wrapped lookup.
func (c *CachingMaterialLookup) FindMaterial(ctx context.Context, id property.MaterialIdentifier) (*property.Material, error) {
	key := strings.ToUpper(id.String())
	if m, ok := c.cache.Get(key); ok {
		return m, nil
	}
	m, err := c.next.FindMaterial(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, m)
	return m, nil
}

// Purge drops all cached entries.
func (c *CachingMaterialLookup) Purge() {
	c.cache.Purge()
}

// Len returns the number of cached identifiers.
func (c *CachingMaterialLookup) Len() int {
	return c.cache.Len()
}
