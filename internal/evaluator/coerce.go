// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package evaluator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/propeval/propeval/internal/property"
)

// TimestampLayout is the stored form of TIMESTAMP values.
const TimestampLayout = "2006-01-02 15:04:05 -0700"

var timestampInputs = []string{
	TimestampLayout,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// coercer converts raw script output to the declared data type of a property.
type coercer struct {
	materials property.MaterialLookup
}

// coerce validates raw against pt. Validation failures are returned as
// results; the error is reserved for failing material lookups.
func (c *coercer) coerce(ctx context.Context, code string, pt *property.PropertyType, raw string) (Result, error) {
	if raw == "" {
		return okResult(code, ""), nil
	}

	switch pt.DataType {
	case property.DataTypeInteger:
		if _, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err != nil {
			return invalid(code, "Integer value '%s' has improper format.", raw), nil
		}
		return okResult(code, strings.TrimSpace(raw)), nil

	case property.DataTypeReal:
		if _, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err != nil {
			return invalid(code, "Double value '%s' has improper format.", raw), nil
		}
		return okResult(code, strings.TrimSpace(raw)), nil

	case property.DataTypeBoolean:
		switch b := strings.ToLower(strings.TrimSpace(raw)); b {
		case "true", "false":
			return okResult(code, b), nil
		}
		return invalid(code, "Boolean value '%s' has improper format.", raw), nil

	case property.DataTypeTimestamp:
		for _, layout := range timestampInputs {
			if t, err := time.Parse(layout, strings.TrimSpace(raw)); err == nil {
				return okResult(code, t.Format(TimestampLayout)), nil
			}
		}
		return invalid(code, "Date value '%s' has improper format.", raw), nil

	case property.DataTypeControlledVocabulary:
		return c.vocabularyTerm(code, pt, raw), nil

	case property.DataTypeMaterial:
		return c.material(ctx, code, pt, raw)

	default:
		return okResult(code, raw), nil
	}
}

func (c *coercer) vocabularyTerm(code string, pt *property.PropertyType, raw string) Result {
	vocab := pt.Vocabulary
	if vocab == nil {
		return invalid(code, "Property type '%s' has no controlled vocabulary.", strings.ToUpper(pt.Code))
	}
	term, ok := vocab.FindTerm(strings.TrimSpace(raw))
	if !ok {
		return invalid(code, "Vocabulary value '%s' is not valid. It must exist in '%s' controlled vocabulary [%s]",
			strings.ToUpper(raw), vocab.Code, strings.Join(vocab.TermCodes(), ", "))
	}
	return Result{Code: code, Kind: KindOK, Term: term}
}

func (c *coercer) material(ctx context.Context, code string, pt *property.PropertyType, raw string) (Result, error) {
	id, err := property.ParseMaterialIdentifier(raw)
	if err != nil {
		return invalid(code, "Material identifier '%s' has improper format.", raw), nil
	}
	switch {
	case !id.HasType():
		if pt.MaterialType == nil {
			return invalid(code, "Material identifier '%s' has improper format.", raw), nil
		}
		id.TypeCode = pt.MaterialType.Code
	case pt.MaterialType != nil && !strings.EqualFold(id.TypeCode, pt.MaterialType.Code):
		return invalid(code, "Material '%s' is of wrong type. Expected: '%s'.", id.String(), pt.MaterialType.Code), nil
	}

	var material *property.Material
	if c.materials != nil {
		material, err = c.materials.FindMaterial(ctx, id)
		if err != nil {
			return Result{}, oops.In("evaluator").Code("MATERIAL_LOOKUP_FAILED").
				With("property", code).With("material", id.String()).Wrap(err)
		}
	}
	if material == nil {
		return invalid(code, "No material could be found for identifier '%s'.", id.String()), nil
	}
	if pt.MaterialType != nil && (material.Type == nil || !strings.EqualFold(material.Type.Code, pt.MaterialType.Code)) {
		return invalid(code, "Material '%s' is of wrong type. Expected: '%s'.",
			material.Identifier().String(), pt.MaterialType.Code), nil
	}
	return Result{Code: code, Kind: KindOK, Material: material}, nil
}

func invalid(code, format string, args ...any) Result {
	return errorResult(code, KindValidation, fmt.Sprintf(format, args...))
}
