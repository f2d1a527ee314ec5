// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package main

import (
	"context"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/propeval/propeval/internal/evaluator"
	"github.com/propeval/propeval/internal/worker"
)

// Default timeout for stopping the metrics server.
const shutdownTimeout = 10 * time.Second

func newWorkerCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume the evaluation queue",
		Long: `Claim queued evaluation requests, evaluate the selected entities and
write the results back until interrupted. Metrics and health probes are
served on --metrics-addr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd, deps)
		},
	}

	cmd.Flags().Int("workers", 0, "entities evaluated in parallel (default from config)")
	cmd.Flags().Duration("script-timeout", 0, "execution budget of one Lua script (default from config)")
	cmd.Flags().Duration("poll-interval", 0, "delay between polls of an empty queue (default from config)")
	cmd.Flags().Int("batch-size", 0, "requests claimed per poll (default from config)")
	cmd.Flags().Int("max-attempts", 0, "attempts before a request is marked failed (default from config)")
	cmd.Flags().String("metrics-addr", "", "metrics/health HTTP address (default from config)")

	return cmd
}

func runWorker(cmd *cobra.Command, deps *Deps) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}
	ctx := cmd.Context()

	backend, err := deps.BackendFactory(ctx, cfg.Database.URL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer backend.Close()

	ev, err := newEvaluator(cfg, logger, backend.Materials)
	if err != nil {
		return err
	}
	driver := evaluator.NewDriver(ev,
		evaluator.WithWorkers(cfg.Evaluation.Workers),
		evaluator.WithWriter(backend.Entities),
		evaluator.WithDriverLogger(logger))

	w := worker.New(worker.Config{
		PollInterval: cfg.Worker.PollInterval,
		BatchSize:    cfg.Worker.BatchSize,
		MaxAttempts:  cfg.Worker.MaxAttempts,
	}, backend.Queue, backend.Entities, driver).WithLogger(logger)

	var serverErrs <-chan error
	if cfg.Metrics.Addr != "" {
		srv := deps.ObservabilityServerFactory(cfg.Metrics.Addr, w.Ready,
			evaluator.RegisterMetrics, worker.RegisterMetrics)
		serverErrs, err = srv.Start()
		if err != nil {
			return oops.Code("METRICS_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Stop(stopCtx); err != nil {
				logger.Warn("stop metrics server", "error", err)
			}
		}()
		logger.InfoContext(ctx, "metrics server listening", "addr", srv.Addr())
	}

	logger.InfoContext(ctx, "worker started",
		"poll_interval", cfg.Worker.PollInterval,
		"batch_size", cfg.Worker.BatchSize,
		"workers", cfg.Evaluation.Workers)
	w.Start(ctx)
	defer w.Stop()

	select {
	case <-ctx.Done():
		logger.InfoContext(ctx, "worker stopping")
		return nil
	case err, ok := <-serverErrs:
		if !ok {
			return nil
		}
		return oops.Code("METRICS_SERVER_FAILED").Wrap(err)
	}
}
