// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package store

import (
	"context"

	"github.com/samber/oops"

	"github.com/propeval/propeval/internal/property"
)

// MaterialRepository implements property.MaterialLookup using PostgreSQL.
type MaterialRepository struct {
	pool poolIface
}

// NewMaterialRepository creates a new PostgreSQL material repository.
func NewMaterialRepository(pool poolIface) *MaterialRepository {
	return &MaterialRepository{pool: pool}
}

const findMaterialSQL = `SELECT m.id, m.code, mt.id, mt.code
	FROM materials m
	JOIN material_types mt ON mt.id = m.material_type_id
	WHERE upper(m.code) = upper($1)
	  AND ($2 = '' OR upper(mt.code) = upper($2))
	ORDER BY m.id
	LIMIT 2`

// FindMaterial resolves id case-insensitively. It returns nil, nil when no
// material matches, or when id has no type and the code is ambiguous.
func (r *MaterialRepository) FindMaterial(ctx context.Context, id property.MaterialIdentifier) (*property.Material, error) {
	rows, err := r.pool.Query(ctx, findMaterialSQL, id.Code, id.TypeCode)
	if err != nil {
		return nil, oops.In("store").With("operation", "find material").With("material", id.String()).Wrap(err)
	}
	defer rows.Close()

	var found []*property.Material
	for rows.Next() {
		var materialID, code, typeID, typeCode string
		if err := rows.Scan(&materialID, &code, &typeID, &typeCode); err != nil {
			return nil, oops.In("store").With("operation", "scan material row").Wrap(err)
		}
		mid, err := parseULID(materialID)
		if err != nil {
			return nil, err
		}
		mt, err := materialType(typeID, typeCode)
		if err != nil {
			return nil, err
		}
		found = append(found, &property.Material{ID: mid, Code: code, Type: mt})
	}
	if err := rows.Err(); err != nil {
		return nil, oops.In("store").With("operation", "iterate materials").Wrap(err)
	}

	if len(found) != 1 {
		return nil, nil
	}
	return found[0], nil
}
