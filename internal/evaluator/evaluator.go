// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

// Package evaluator computes dynamic properties: it discovers dependencies
// between the dynamic properties of an entity while their scripts run,
// isolates cycles and script failures as per-property error values, coerces
// results to the declared data types and drives batches of entities.
package evaluator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/propeval/propeval/internal/calculator"
	"github.com/propeval/propeval/internal/property"
)

// Evaluator evaluates the dynamic properties of single entities. It holds no
// per-entity state and is safe for concurrent use.
type Evaluator struct {
	calculators CalculatorSource
	coercer     *coercer
	logger      *slog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithMaterialLookup sets the lookup resolving MATERIAL results.
func WithMaterialLookup(m property.MaterialLookup) Option {
	return func(e *Evaluator) { e.coercer.materials = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) { e.logger = logger }
}

// New creates an evaluator resolving scripts through calculators.
func New(calculators CalculatorSource, opts ...Option) *Evaluator {
	e := &Evaluator{
		calculators: calculators,
		coercer:     &coercer{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EntityReport lists the results of one entity pass in property order.
type EntityReport struct {
	EntityID ulid.ULID
	Code     string
	Results  []Result
	Duration time.Duration
}

// Failed returns the results that are errors.
func (r *EntityReport) Failed() []Result {
	var failed []Result
	for _, res := range r.Results {
		if res.Failed() {
			failed = append(failed, res)
		}
	}
	return failed
}

// Result returns the result for code.
func (r *EntityReport) Result(code string) (Result, bool) {
	for _, res := range r.Results {
		if strings.EqualFold(res.Code, code) {
			return res, true
		}
	}
	return Result{}, false
}

// EvaluateEntity evaluates every dynamic property of entity and writes the
// results onto its properties. Nothing is written when an infrastructure
// error aborts the pass.
func (e *Evaluator) EvaluateEntity(ctx context.Context, entity *property.Entity) (*EntityReport, error) {
	return e.evaluateEntity(ctx, entity, snapshotRelatives([]*property.Entity{entity}))
}

func (e *Evaluator) evaluateEntity(ctx context.Context, entity *property.Entity, rel *relatives) (*EntityReport, error) {
	start := time.Now()
	graph := BuildGraph(entity, e.calculators)
	p := newPass(ctx, graph, e.coercer, rel)

	results := make([]Result, 0, len(graph.Order))
	for _, code := range graph.Order {
		r, err := p.evaluate(code)
		if err != nil {
			return nil, oops.In("evaluator").Code("ENTITY_EVALUATION_FAILED").
				With("entity", entity.Code).With("property", code).Wrap(err)
		}
		results = append(results, r)
	}

	for i, code := range graph.Order {
		results[i].Apply(graph.Dynamic[code].Property)
	}
	for _, dup := range graph.Duplicates {
		code := strings.ToUpper(dup.Code())
		r := invalid(code, "Dynamic property '%s' is assigned more than once.", code)
		r.Apply(dup)
		results = append(results, r)
	}
	recordResults(results)

	report := &EntityReport{EntityID: entity.ID, Code: entity.Code, Results: results, Duration: time.Since(start)}
	for _, r := range report.Failed() {
		e.logger.DebugContext(ctx, "dynamic property evaluated with error",
			"entity", entity.Code, "property", r.Code, "kind", r.Kind.String(), "message", r.Message)
	}
	return report, nil
}

// EvaluateProperty evaluates one dynamic property, including the dynamic
// properties it depends on, and writes only that property.
func (e *Evaluator) EvaluateProperty(ctx context.Context, entity *property.Entity, code string) (Result, error) {
	graph := BuildGraph(entity, e.calculators)
	static, node := graph.Lookup(code)
	if node == nil {
		if static == nil {
			return Result{}, oops.In("evaluator").Code("PROPERTY_NOT_FOUND").
				With("entity", entity.Code).With("property", code).Wrap(ErrUnknownProperty)
		}
		return Result{}, oops.In("evaluator").Code("PROPERTY_NOT_DYNAMIC").
			With("entity", entity.Code).With("property", code).Wrap(ErrNotDynamic)
	}

	r, err := newPass(ctx, graph, e.coercer, snapshotRelatives([]*property.Entity{entity})).evaluate(node.Code)
	if err != nil {
		return Result{}, oops.In("evaluator").Code("ENTITY_EVALUATION_FAILED").
			With("entity", entity.Code).With("property", node.Code).Wrap(err)
	}
	r.Apply(node.Property)
	recordResults([]Result{r})
	return r, nil
}

// EvaluateScript runs an ad-hoc script against entity and returns its raw
// result. Nothing is coerced or written; dynamic properties the script looks
// up are evaluated in a private pass.
func (e *Evaluator) EvaluateScript(ctx context.Context, entity *property.Entity, script *property.Script) (string, error) {
	calc, err := e.calculators.Calculator(script)
	if err != nil {
		return "", err
	}
	p := newPass(ctx, BuildGraph(entity, e.calculators), e.coercer, snapshotRelatives([]*property.Entity{entity}))
	value, err := calc.Eval(ctx, &passEntity{pass: p})
	if p.infra != nil {
		return "", oops.In("evaluator").Code("ENTITY_EVALUATION_FAILED").With("entity", entity.Code).Wrap(p.infra)
	}
	var cancelled *calculator.CancelledError
	if errors.As(err, &cancelled) {
		return "", oops.In("evaluator").Code("EVALUATION_CANCELLED").With("entity", entity.Code).Wrap(err)
	}
	if err != nil {
		if calculator.IsAbort(err) {
			return "", calculator.NewScriptError(script.Body, 0, err)
		}
		return "", err
	}
	return value, nil
}
