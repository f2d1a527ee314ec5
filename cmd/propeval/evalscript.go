// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/propeval/propeval/internal/property"
)

// evalScriptConfig holds configuration for the eval-script command.
type evalScriptConfig struct {
	fixture string
	entity  string
	plugin  string
	body    string
	file    string
}

// Validate checks that exactly one script source and an entity are given.
func (cfg *evalScriptConfig) Validate() error {
	if cfg.entity == "" {
		return oops.Code("CONFIG_INVALID").Errorf("--entity is required")
	}
	if (cfg.body == "") == (cfg.file == "") {
		return oops.Code("CONFIG_INVALID").Errorf("exactly one of --script or --file is required")
	}
	switch property.PluginType(strings.ToUpper(cfg.plugin)) {
	case property.PluginLua, property.PluginExpression, property.PluginPredeployed:
	default:
		return oops.Code("CONFIG_INVALID").With("plugin", cfg.plugin).
			Errorf("plugin must be LUA, EXPRESSION or PREDEPLOYED, got %q", cfg.plugin)
	}
	return nil
}

func newEvalScriptCmd(deps *Deps) *cobra.Command {
	cfg := &evalScriptConfig{}

	cmd := &cobra.Command{
		Use:   "eval-script",
		Short: "Run an ad-hoc script against one entity",
		Long: `Run a script against one entity and print its raw result. Nothing is
coerced or written. Dynamic properties the script reads are evaluated
first, so the script sees the values a full evaluation would produce.`,
		Example: `  propeval eval-script --fixture cells.yaml --entity C1 --script 'entity:code()'
  propeval eval-script --entity C1 --plugin EXPRESSION --script 'number([COUNT]) + 1'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEvalScript(cmd, cfg, deps)
		},
	}

	cmd.Flags().StringVar(&cfg.fixture, "fixture", "", "YAML fixture to read entities from")
	cmd.Flags().StringVar(&cfg.entity, "entity", "", "code of the entity to run against")
	cmd.Flags().StringVar(&cfg.plugin, "plugin", string(property.PluginLua), "script plugin (LUA, EXPRESSION or PREDEPLOYED)")
	cmd.Flags().StringVar(&cfg.body, "script", "", "script body")
	cmd.Flags().StringVar(&cfg.file, "file", "", "read the script body from a file")
	cmd.Flags().Duration("script-timeout", 0, "execution budget of one Lua script (default from config)")

	return cmd
}

func runEvalScript(cmd *cobra.Command, cfg *evalScriptConfig, deps *Deps) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	body := cfg.body
	if cfg.file != "" {
		data, err := os.ReadFile(cfg.file)
		if err != nil {
			return oops.Code("SCRIPT_READ_FAILED").With("path", cfg.file).Wrap(err)
		}
		body = string(data)
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

	entities, err := src.Entities.ListEntities(ctx, property.Selector{CodePattern: glob.QuoteMeta(cfg.entity)})
	if err != nil {
		return oops.With("operation", "load entity").Wrap(err)
	}
	if len(entities) != 1 {
		return oops.Code("ENTITY_NOT_FOUND").With("entity", cfg.entity).With("matches", len(entities)).
			Errorf("expected one entity with code %q, found %d", cfg.entity, len(entities))
	}

	ev, err := newEvaluator(appCfg, logger, src.Materials)
	if err != nil {
		return err
	}
	script := &property.Script{
		ID:     property.NewID(),
		Name:   "eval-script",
		Body:   body,
		Kind:   property.ScriptKindDynamicProperty,
		Plugin: property.PluginType(strings.ToUpper(cfg.plugin)),
	}
	value, err := ev.EvaluateScript(ctx, entities[0], script)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), value)
	return err
}
