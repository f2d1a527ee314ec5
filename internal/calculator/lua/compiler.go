// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package lua

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/propeval/propeval/internal/calculator"
	"github.com/propeval/propeval/internal/property"
)

// chunkName is the source name reported in Lua error positions.
const chunkName = "script"

// calculateFunc is the global a chunk script may define; it is called with
// the entity and its result becomes the property value.
const calculateFunc = "calculate"

// DefaultTimeout bounds a single script execution.
const DefaultTimeout = 5 * time.Second

var linePrefix = regexp.MustCompile(`^` + chunkName + `:(\d+):\s*`)

// Compiler compiles LUA scripts into calculators.
type Compiler struct {
	factory *StateFactory
	timeout time.Duration
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithTimeout sets the execution budget of a single script run.
// Zero disables the limit.
func WithTimeout(d time.Duration) Option {
	return func(c *Compiler) { c.timeout = d }
}

// WithLogger sets the logger receiving script print output.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Compiler) { c.factory = NewStateFactory(logger) }
}

// NewCompiler creates a Lua compiler.
func NewCompiler(opts ...Option) *Compiler {
	c := &Compiler{factory: NewStateFactory(nil), timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile parses the script body. A body that is a single expression is
// evaluated as that expression; anything else runs as a chunk whose return
// value, or the result of its calculate(entity) function, is the value.
func (c *Compiler) Compile(script *property.Script) (calculator.Calculator, error) {
	proto, err := compileSource("return "+script.Body, script.Body)
	if err == nil {
		return &program{script: script.Body, proto: proto, compiler: c}, nil
	}
	proto, err = compileSource(script.Body, script.Body)
	if err != nil {
		return nil, err
	}
	return &program{script: script.Body, proto: proto, compiler: c, chunk: true}, nil
}

func compileSource(source, body string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(strings.NewReader(source), chunkName)
	if err != nil {
		var perr *parse.Error
		if errors.As(err, &perr) {
			return nil, calculator.NewScriptError(body, perr.Pos.Line, errors.New(perr.Message))
		}
		return nil, calculator.NewScriptError(body, 0, err)
	}
	proto, err := lua.Compile(chunk, chunkName)
	if err != nil {
		return nil, calculator.NewScriptError(body, 0, err)
	}
	return proto, nil
}

// program is a compiled Lua script. The function prototype is immutable and
// shared by all runs; every run gets a fresh state.
type program struct {
	script   string
	proto    *lua.FunctionProto
	compiler *Compiler
	chunk    bool
}

// Eval runs the script against entity.
func (p *program) Eval(ctx context.Context, entity calculator.EntityAdaptor) (string, error) {
	parent := ctx
	if p.compiler.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.compiler.timeout)
		defer cancel()
	}

	L, err := p.compiler.factory.NewState(ctx)
	if err != nil {
		return "", calculator.NewScriptError(p.script, 0, err)
	}
	defer L.Close()

	rec := &lookupRecorder{}
	registerEntityType(L, rec)
	registerPropertyType(L, rec)
	self := newEntity(L, entity)
	L.SetGlobal("entity", self)

	ret, runErr := p.run(L, self)
	if err := parent.Err(); err != nil {
		return "", &calculator.CancelledError{Cause: err}
	}
	if rec.abort != nil {
		return "", rec.abort
	}
	if ctx.Err() != nil {
		return "", calculator.NewScriptError(p.script, 0, calculator.ContextCause(ctx, p.compiler.timeout))
	}
	if runErr != nil {
		if rec.last != nil && raisedBy(runErr, rec.last) {
			return "", calculator.NewScriptError(p.script, errorLine(runErr), rec.last)
		}
		return "", p.scriptError(runErr)
	}
	return p.convert(ret)
}

// raisedBy reports whether the error that ended the script is the lookup
// error lookupErr. A lookup error caught with pcall is not.
func raisedBy(runErr, lookupErr error) bool {
	var apiErr *lua.ApiError
	if !errors.As(runErr, &apiErr) || apiErr.Object == nil {
		return false
	}
	return strings.HasSuffix(apiErr.Object.String(), lookupErr.Error())
}

func (p *program) run(L *lua.LState, self lua.LValue) (lua.LValue, error) {
	if err := L.CallByParam(lua.P{
		Fn:      L.NewFunctionFromProto(p.proto),
		NRet:    1,
		Protect: true,
	}); err != nil {
		return nil, err
	}
	ret := L.Get(-1)
	L.Pop(1)
	if !p.chunk {
		return ret, nil
	}

	fn, ok := L.GetGlobal(calculateFunc).(*lua.LFunction)
	if !ok {
		return ret, nil
	}
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, self); err != nil {
		return nil, err
	}
	ret = L.Get(-1)
	L.Pop(1)
	return ret, nil
}

func (p *program) scriptError(err error) *calculator.ScriptError {
	line, msg := splitPosition(err)
	return calculator.NewScriptError(p.script, line, errors.New(msg))
}

func errorLine(err error) int {
	if err == nil {
		return 0
	}
	line, _ := splitPosition(err)
	return line
}

// splitPosition separates the "script:N:" prefix Lua puts on runtime errors
// from the message.
func splitPosition(err error) (int, string) {
	msg := err.Error()
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		msg = apiErr.Object.String()
	}
	m := linePrefix.FindStringSubmatch(msg)
	if m == nil {
		return 0, msg
	}
	line, _ := strconv.Atoi(m[1])
	return line, msg[len(m[0]):]
}

// convert renders a Lua result as a property value. nil becomes the empty
// string, integral numbers lose their fraction.
func (p *program) convert(v lua.LValue) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case *lua.LNilType:
		return "", nil
	case lua.LString:
		return string(val), nil
	case lua.LBool:
		return strconv.FormatBool(bool(val)), nil
	case lua.LNumber:
		return formatNumber(float64(val)), nil
	case *lua.LUserData:
		if e, ok := val.Value.(calculator.EntityAdaptor); ok {
			return e.Code(), nil
		}
	}
	return "", calculator.NewScriptError(p.script, 0, fmt.Errorf("unsupported result type '%s'", v.Type()))
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
