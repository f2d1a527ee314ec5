// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/propeval/propeval/internal/logging"
	"github.com/propeval/propeval/internal/property"
	"github.com/propeval/propeval/pkg/errutil"
)

var tracer = otel.Tracer("propeval/evaluator")

// EntityFailure records an entity whose evaluation or write-back failed.
type EntityFailure struct {
	EntityID ulid.ULID
	Code     string
	Err      error
}

// BatchReport summarizes one driver run.
type BatchReport struct {
	RunID    ulid.ULID
	Entities []*EntityReport // successful entities in input order
	Failures []EntityFailure // failed entities in input order
	Duration time.Duration
}

// Evaluated returns the number of entities evaluated successfully.
func (r *BatchReport) Evaluated() int { return len(r.Entities) }

// PropertyErrors returns the number of dynamic properties that hold an error value.
func (r *BatchReport) PropertyErrors() int {
	n := 0
	for _, e := range r.Entities {
		n += len(e.Failed())
	}
	return n
}

// Driver evaluates batches of entities and writes the results back.
type Driver struct {
	evaluator *Evaluator
	writer    property.Writer
	workers   int
	logger    *slog.Logger
	tracer    trace.Tracer
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithWorkers sets the number of entities evaluated in parallel.
// Values below one use GOMAXPROCS.
func WithWorkers(n int) DriverOption {
	return func(d *Driver) { d.workers = n }
}

// WithWriter sets the write-back target. Without a writer results are only
// applied to the in-memory entities.
func WithWriter(w property.Writer) DriverOption {
	return func(d *Driver) { d.writer = w }
}

// WithDriverLogger sets the logger.
func WithDriverLogger(logger *slog.Logger) DriverOption {
	return func(d *Driver) { d.logger = logger }
}

// WithTracer sets the tracer that opens one span per entity.
func WithTracer(t trace.Tracer) DriverOption {
	return func(d *Driver) { d.tracer = t }
}

// NewDriver creates a batch driver around evaluator.
func NewDriver(evaluator *Evaluator, opts ...DriverOption) *Driver {
	d := &Driver{evaluator: evaluator, logger: evaluator.logger, tracer: tracer}
	for _, opt := range opts {
		opt(d)
	}
	if d.workers < 1 {
		d.workers = runtime.GOMAXPROCS(0)
	}
	return d
}

type entityOutcome struct {
	report  *EntityReport
	failure *EntityFailure
}

// Run evaluates entities, each in its own error boundary: a failing or
// panicking entity is recorded in the report and the batch continues.
// Related entities are read from a snapshot taken before the first entity
// starts. The returned error is non-nil only when ctx ends before the batch
// finished; entities interrupted by it are failures and nothing is written
// for them.
func (d *Driver) Run(ctx context.Context, entities []*property.Entity) (*BatchReport, error) {
	start := time.Now()
	runID := property.NewID()
	ctx = logging.WithRunID(ctx, runID)

	rel := snapshotRelatives(entities)
	outcomes := make([]entityOutcome, len(entities))
	g := new(errgroup.Group)
	g.SetLimit(d.workers)

	var stopped error
	for i, entity := range entities {
		if err := ctx.Err(); err != nil {
			stopped = err
			break
		}
		g.Go(func() error {
			outcomes[i] = d.runEntity(ctx, runID, entity, rel)
			return nil
		})
	}
	_ = g.Wait()
	if stopped == nil {
		stopped = ctx.Err()
	}

	report := &BatchReport{RunID: runID}
	for _, o := range outcomes {
		switch {
		case o.report != nil:
			report.Entities = append(report.Entities, o.report)
		case o.failure != nil:
			report.Failures = append(report.Failures, *o.failure)
		}
	}
	report.Duration = time.Since(start)

	d.logger.InfoContext(ctx, "evaluation batch finished",
		"entities", len(entities),
		"evaluated", report.Evaluated(),
		"failed", len(report.Failures),
		"property_errors", report.PropertyErrors(),
		"duration", report.Duration)

	if stopped != nil {
		return report, oops.In("evaluator").Code("BATCH_CANCELLED").With("run_id", runID.String()).Wrap(stopped)
	}
	return report, nil
}

// runEntity is the per-entity error boundary.
func (d *Driver) runEntity(ctx context.Context, runID ulid.ULID, entity *property.Entity, rel *relatives) (out entityOutcome) {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "evaluator.entity",
		trace.WithAttributes(
			attribute.String("entity.id", entity.ID.String()),
			attribute.String("entity.code", entity.Code),
			attribute.String("entity.kind", string(entity.Kind)),
			attribute.String("evaluation.run_id", runID.String()),
		),
	)
	defer func() {
		if r := recover(); r != nil {
			err := oops.In("evaluator").Code("ENTITY_EVALUATION_PANIC").
				With("entity", entity.Code).Errorf("panic during evaluation: %v", r)
			errutil.LogError(ctx, d.logger, "entity evaluation panicked", err)
			recordEntity(StatusPanic, time.Since(start))
			out = entityOutcome{failure: &EntityFailure{EntityID: entity.ID, Code: entity.Code, Err: err}}
		}
		if out.failure != nil {
			span.RecordError(out.failure.Err)
			span.SetStatus(codes.Error, out.failure.Err.Error())
		} else if out.report != nil {
			span.SetAttributes(attribute.Int("evaluation.property_errors", len(out.report.Failed())))
		}
		span.End()
	}()

	fail := func(err error) entityOutcome {
		errutil.LogError(ctx, d.logger, "entity evaluation failed", err)
		recordEntity(StatusFailed, time.Since(start))
		return entityOutcome{failure: &EntityFailure{EntityID: entity.ID, Code: entity.Code, Err: err}}
	}
	cancelled := func() entityOutcome {
		return fail(oops.In("evaluator").Code("BATCH_CANCELLED").With("entity", entity.Code).Wrap(ctx.Err()))
	}

	if ctx.Err() != nil {
		return cancelled()
	}
	if !entity.HasDynamicProperties() {
		recordEntity(StatusSuccess, time.Since(start))
		return entityOutcome{report: &EntityReport{EntityID: entity.ID, Code: entity.Code}}
	}

	report, err := d.evaluator.evaluateEntity(ctx, entity, rel)
	if ctx.Err() != nil {
		return cancelled()
	}
	if err != nil {
		return fail(err)
	}
	if d.writer != nil {
		if err := d.writer.WriteProperties(ctx, entity); err != nil {
			return fail(oops.In("evaluator").Code("PROPERTY_WRITE_FAILED").
				With("entity", entity.Code).Wrap(err))
		}
	}
	recordEntity(StatusSuccess, time.Since(start))
	return entityOutcome{report: report}
}

// Error implements error for a failure so it can be logged or wrapped.
func (f EntityFailure) Error() string {
	return fmt.Sprintf("entity %s: %v", f.Code, f.Err)
}
