// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Propeval Contributors

package lua

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/propeval/propeval/internal/calculator"
)

const (
	entityTypeName   = "propeval.entity"
	propertyTypeName = "propeval.property"
)

// lookupRecorder keeps errors raised by property lookups so they can be
// reported unchanged after the Lua call unwinds. The first aborting error
// ends the script even when pcall caught it; other lookup errors only
// matter if they are what ended the script.
type lookupRecorder struct {
	abort error
	last  error
}

func (r *lookupRecorder) record(err error) {
	if !calculator.IsAbort(err) {
		r.last = err
		return
	}
	if r.abort == nil {
		r.abort = err
	}
}

// entityMethod implements one method of the entity object. arg is the stack
// index of the first argument after the optional self.
type entityMethod func(L *lua.LState, e calculator.EntityAdaptor, arg int) int

func entityMethods(rec *lookupRecorder) map[string]entityMethod {
	return map[string]entityMethod{
		"code": func(L *lua.LState, e calculator.EntityAdaptor, _ int) int {
			L.Push(lua.LString(e.Code()))
			return 1
		},
		"kind": func(L *lua.LState, e calculator.EntityAdaptor, _ int) int {
			L.Push(lua.LString(e.Kind()))
			return 1
		},
		"propertyValue": func(L *lua.LState, e calculator.EntityAdaptor, arg int) int {
			code := L.CheckString(arg)
			value, err := e.PropertyValue(code)
			if err != nil {
				rec.record(err)
				L.RaiseError("%s", err.Error())
				return 0
			}
			L.Push(lua.LString(value))
			return 1
		},
		"properties": func(L *lua.LState, e calculator.EntityAdaptor, _ int) int {
			props := e.Properties()
			t := L.CreateTable(len(props), 0)
			for _, p := range props {
				t.Append(newProperty(L, p))
			}
			L.Push(t)
			return 1
		},
		"parents": func(L *lua.LState, e calculator.EntityAdaptor, _ int) int {
			L.Push(entityList(L, e.Parents()))
			return 1
		},
		"children": func(L *lua.LState, e calculator.EntityAdaptor, _ int) int {
			L.Push(entityList(L, e.Children()))
			return 1
		},
	}
}

// registerEntityType installs the metatable shared by all entity userdata.
// Methods are bound to their userdata on access, so entity:code() and
// entity.code() are equivalent.
func registerEntityType(L *lua.LState, rec *lookupRecorder) {
	methods := entityMethods(rec)
	mt := L.NewTypeMetatable(entityTypeName)
	L.SetField(mt, "__index", L.NewFunction(func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		name := L.CheckString(2)
		method, ok := methods[name]
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		e := ud.Value.(calculator.EntityAdaptor)
		L.Push(L.NewFunction(func(L *lua.LState) int {
			arg := 1
			if L.Get(1) == ud {
				arg = 2
			}
			return method(L, e, arg)
		}))
		return 1
	}))
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		L.Push(lua.LString(ud.Value.(calculator.EntityAdaptor).Code()))
		return 1
	}))
}

// registerPropertyType installs the metatable of property userdata returned
// by entity:properties(). value() is resolved on call.
func registerPropertyType(L *lua.LState, rec *lookupRecorder) {
	mt := L.NewTypeMetatable(propertyTypeName)
	L.SetField(mt, "__index", L.NewFunction(func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		p := ud.Value.(calculator.PropertyAdaptor)
		switch L.CheckString(2) {
		case "code":
			L.Push(L.NewFunction(func(L *lua.LState) int {
				L.Push(lua.LString(p.Code()))
				return 1
			}))
		case "value":
			L.Push(L.NewFunction(func(L *lua.LState) int {
				v, err := p.Value()
				if err != nil {
					rec.record(err)
					L.RaiseError("%s", err.Error())
					return 0
				}
				L.Push(lua.LString(v))
				return 1
			}))
		default:
			L.Push(lua.LNil)
		}
		return 1
	}))
}

func newProperty(L *lua.LState, p calculator.PropertyAdaptor) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = p
	L.SetMetatable(ud, L.GetTypeMetatable(propertyTypeName))
	return ud
}

func newEntity(L *lua.LState, e calculator.EntityAdaptor) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = e
	L.SetMetatable(ud, L.GetTypeMetatable(entityTypeName))
	return ud
}

func entityList(L *lua.LState, entities []calculator.EntityAdaptor) *lua.LTable {
	t := L.CreateTable(len(entities), 0)
	for _, e := range entities {
		t.Append(newEntity(L, e))
	}
	return t
}
