// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

// Package lua runs dynamic property scripts in a sandboxed Lua runtime.
package lua

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// safeLibrary represents a Lua library that is safe to load in sandboxed state.
type safeLibrary struct {
	name string
	fn   lua.LGFunction
}

// defaultSafeLibraries returns the list of libraries safe to load.
// Safe: base, table, string, math.
// Blocked: os, io, debug, package, coroutine, channel.
func defaultSafeLibraries() []safeLibrary {
	return []safeLibrary{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
}

// StateFactory creates sandboxed Lua states with only safe libraries.
type StateFactory struct {
	// libraries allows overriding the default safe libraries for testing.
	libraries []safeLibrary
	logger    *slog.Logger
}

// NewStateFactory creates a new state factory. Output of the Lua print
// function is sent to logger at debug level; a nil logger uses slog.Default.
func NewStateFactory(logger *slog.Logger) *StateFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateFactory{
		libraries: defaultSafeLibraries(),
		logger:    logger,
	}
}

// unsafeBaseFunctions lists base library functions that must be blocked.
// They either reach the filesystem or compile code outside the evaluator.
var unsafeBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load", "require", "collectgarbage"}

// NewState creates a fresh Lua state with only safe libraries loaded and ctx
// attached, so cancellation and deadlines of ctx stop running scripts.
func (f *StateFactory) NewState(ctx context.Context) (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		IncludeGoStackTrace: false,
	})

	for _, lib := range f.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("failed to open library %s: %w", lib.name, err)
		}
	}

	for _, fn := range unsafeBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}
	L.SetGlobal("print", L.NewFunction(f.print))

	if ctx != nil {
		L.SetContext(ctx)
	}
	return L, nil
}

func (f *StateFactory) print(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	f.logger.Debug("script output", "text", strings.Join(parts, "\t"))
	return 0
}
