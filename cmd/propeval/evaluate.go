// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/propeval/propeval/internal/evaluator"
	"github.com/propeval/propeval/internal/xdg"
)

// evaluateConfig holds configuration for the evaluate command.
type evaluateConfig struct {
	fixture      string
	writeFixture string
	output       string
	dryRun       bool
	selection    selectorFlags
}

// Validate checks that the flag combination is usable.
func (cfg *evaluateConfig) Validate() error {
	if err := validateOutput(cfg.output); err != nil {
		return err
	}
	if cfg.writeFixture != "" {
		if cfg.fixture == "" {
			return oops.Code("CONFIG_INVALID").Errorf("--write-fixture requires --fixture")
		}
		if cfg.dryRun {
			return oops.Code("CONFIG_INVALID").Errorf("--write-fixture cannot be combined with --dry-run")
		}
	}
	return nil
}

func newEvaluateCmd(deps *Deps) *cobra.Command {
	cfg := &evaluateConfig{}

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate dynamic properties of the selected entities",
		Long: `Evaluate every dynamic property of the selected entities and write the
results back. Entities come from --fixture, or from the database when no
fixture is given. Script failures are stored as error values and do not
fail the command; entities that could not be evaluated or written do.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEvaluate(cmd, cfg, deps)
		},
	}

	cmd.Flags().StringVar(&cfg.fixture, "fixture", "", "YAML fixture to read entities from")
	cmd.Flags().StringVar(&cfg.writeFixture, "write-fixture", "", "write the evaluated fixture to this path")
	cmd.Flags().StringVarP(&cfg.output, "output", "o", outputText, "report format (text or json)")
	cmd.Flags().BoolVar(&cfg.dryRun, "dry-run", false, "evaluate without writing results")
	cmd.Flags().Int("workers", 0, "entities evaluated in parallel (default from config)")
	cmd.Flags().Duration("script-timeout", 0, "execution budget of one Lua script (default from config)")
	cfg.selection.register(cmd.Flags())

	return cmd
}

func runEvaluate(cmd *cobra.Command, cfg *evaluateConfig, deps *Deps) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	sel, err := cfg.selection.selector()
	if err != nil {
		return err
	}
	appCfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	src, err := openSource(ctx, deps, appCfg, cfg.fixture)
	if err != nil {
		return err
	}
	defer src.Close()

	entities, err := src.Entities.ListEntities(ctx, sel)
	if err != nil {
		return oops.With("operation", "load entities").Wrap(err)
	}
	logger.InfoContext(ctx, "evaluating entities", "entities", len(entities), "dry_run", cfg.dryRun)

	ev, err := newEvaluator(appCfg, logger, src.Materials)
	if err != nil {
		return err
	}
	opts := []evaluator.DriverOption{
		evaluator.WithWorkers(appCfg.Evaluation.Workers),
		evaluator.WithDriverLogger(logger),
	}
	if !cfg.dryRun {
		opts = append(opts, evaluator.WithWriter(src.Entities))
	}

	report, runErr := evaluator.NewDriver(ev, opts...).Run(ctx, entities)
	if err := writeReport(cmd.OutOrStdout(), cfg.output, report); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}

	if cfg.writeFixture != "" {
		if err := writeFixture(src, cfg.writeFixture); err != nil {
			return err
		}
	}

	if n := len(report.Failures); n > 0 {
		return oops.Code("BATCH_INCOMPLETE").With("failed", n).
			Errorf("%d of %d entities could not be evaluated", n, len(entities))
	}
	return nil
}

func writeFixture(src *entitySource, path string) error {
	data, err := src.Fixture.Marshal()
	if err != nil {
		return err
	}
	if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return oops.Code("FIXTURE_WRITE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
