// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

// Package worker consumes queued evaluation requests. Each claimed request
// selects a batch of entities that is loaded, evaluated and written back.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/propeval/propeval/internal/evaluator"
	"github.com/propeval/propeval/internal/property"
	"github.com/propeval/propeval/internal/store"
	"github.com/propeval/propeval/pkg/errutil"
)

// Queue is the request queue consumed by a Worker.
type Queue interface {
	Claim(ctx context.Context, limit int) ([]*store.Request, error)
	Complete(ctx context.Context, id ulid.ULID, evaluated, failed int) error
	Fail(ctx context.Context, id ulid.ULID, cause string, maxAttempts int) error
}

// BatchRunner evaluates a batch of entities.
type BatchRunner interface {
	Run(ctx context.Context, entities []*property.Entity) (*evaluator.BatchReport, error)
}

// Config tunes a Worker.
type Config struct {
	PollInterval time.Duration // delay between polls of an empty queue
	BatchSize    int           // requests claimed per poll
	MaxAttempts  int           // attempts before a request is marked failed
}

// Worker polls the queue and runs claimed requests.
type Worker struct {
	cfg    Config
	queue  Queue
	source property.EntitySource
	runner BatchRunner
	logger *slog.Logger

	ready  atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a worker.
func New(cfg Config, queue Queue, source property.EntitySource, runner BatchRunner) *Worker {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Worker{
		cfg:    cfg,
		queue:  queue,
		source: source,
		runner: runner,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger.
func (w *Worker) WithLogger(logger *slog.Logger) *Worker {
	w.logger = logger
	return w
}

// RunOnce claims one batch of requests and processes them. It returns the
// number of requests claimed. Failures of individual requests are recorded
// on the request; only a failed claim is returned as an error.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	reqs, err := w.queue.Claim(ctx, w.cfg.BatchSize)
	if err != nil {
		w.ready.Store(false)
		return 0, oops.In("worker").Code("CLAIM_FAILED").Wrap(err)
	}
	w.ready.Store(true)

	for _, req := range reqs {
		w.process(ctx, req)
	}
	return len(reqs), nil
}

func (w *Worker) process(ctx context.Context, req *store.Request) {
	logger := w.logger.With("request_id", req.ID.String(), "attempt", req.Attempts)
	start := time.Now()

	report, err := w.evaluate(ctx, req)
	if err != nil {
		errutil.LogError(ctx, logger, "evaluation request failed", err)
		RequestsProcessed.WithLabelValues(OutcomeFailed).Inc()
		if ferr := w.queue.Fail(context.WithoutCancel(ctx), req.ID, err.Error(), w.cfg.MaxAttempts); ferr != nil {
			errutil.LogError(ctx, logger, "record request failure", ferr)
		}
		return
	}

	RequestsProcessed.WithLabelValues(OutcomeDone).Inc()
	if err := w.queue.Complete(ctx, req.ID, report.Evaluated(), len(report.Failures)); err != nil {
		errutil.LogError(ctx, logger, "record request completion", err)
		return
	}
	logger.InfoContext(ctx, "evaluation request done",
		"run_id", report.RunID.String(),
		"evaluated", report.Evaluated(),
		"failed", len(report.Failures),
		"duration", time.Since(start))
}

func (w *Worker) evaluate(ctx context.Context, req *store.Request) (*evaluator.BatchReport, error) {
	entities, err := w.source.ListEntities(ctx, req.Selector)
	if err != nil {
		return nil, oops.In("worker").With("request_id", req.ID.String()).Wrapf(err, "load entities")
	}
	report, err := w.runner.Run(ctx, entities)
	if err != nil {
		return nil, oops.In("worker").With("request_id", req.ID.String()).Wrapf(err, "run batch")
	}
	return report, nil
}

// Start polls the queue in the background until ctx ends or Stop is
// called. A poll that claimed requests is followed immediately by another.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop stops polling and waits for the request in progress.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// Ready reports whether the last claim reached the queue.
func (w *Worker) Ready() bool {
	return w.ready.Load()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		n, err := w.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			errutil.LogError(ctx, w.logger, "poll evaluation queue", err)
		}
		next := w.cfg.PollInterval
		if n > 0 {
			next = 0
		}
		timer.Reset(next)
	}
}
