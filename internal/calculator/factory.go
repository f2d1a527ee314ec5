// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package calculator

import (
	"fmt"
	"sort"
	"sync"

	"github.com/propeval/propeval/internal/property"
)

// Compiler turns a script into a Calculator for one plugin type.
// Compile errors should be returned as *ScriptError.
type Compiler interface {
	Compile(script *property.Script) (Calculator, error)
}

// Factory selects the compiler for a script's plugin type and caches the
// compiled calculators. It is safe for concurrent use once constructed.
type Factory struct {
	compilers map[property.PluginType]Compiler
	cache     sync.Map // cacheKey -> compiled
}

type cacheKey struct {
	plugin property.PluginType
	name   string
	body   string
}

type compiled struct {
	calc Calculator
	err  error
}

// Option configures a Factory.
type Option func(*Factory)

// WithCompiler registers the compiler used for plugin.
func WithCompiler(plugin property.PluginType, c Compiler) Option {
	return func(f *Factory) {
		f.compilers[plugin] = c
	}
}

// NewFactory creates a factory. PREDEPLOYED scripts resolve against the shared
// registry unless another compiler is given for them.
func NewFactory(opts ...Option) *Factory {
	f := &Factory{compilers: map[property.PluginType]Compiler{
		property.PluginPredeployed: SharedRegistry(),
	}}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Calculator returns the calculator for script, compiling it on first use.
// Compile failures are cached as well, so a broken script is reported with the
// same error for every entity of a batch.
func (f *Factory) Calculator(script *property.Script) (Calculator, error) {
	key := cacheKey{plugin: script.Plugin, name: script.Name, body: script.Body}
	if v, ok := f.cache.Load(key); ok {
		c := v.(compiled)
		return c.calc, c.err
	}

	compiler, ok := f.compilers[script.Plugin]
	if !ok {
		return nil, NewScriptError(script.Body, 0, fmt.Errorf("unsupported script plugin type '%s'", script.Plugin))
	}
	calc, err := compiler.Compile(script)
	v, _ := f.cache.LoadOrStore(key, compiled{calc: calc, err: err})
	c := v.(compiled)
	return c.calc, c.err
}

// Plugins returns the plugin types the factory can compile.
func (f *Factory) Plugins() []property.PluginType {
	plugins := make([]property.PluginType, 0, len(f.compilers))
	for p := range f.compilers {
		plugins = append(plugins, p)
	}
	sort.Slice(plugins, func(i, j int) bool { return plugins[i] < plugins[j] })
	return plugins
}
