package migration

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/dshills/prefkit/internal/prefs"
)

// DefaultScriptTimeout bounds one script run.
const DefaultScriptTimeout = 5 * time.Second

type scriptConfig struct {
	timeout time.Duration
}

// ScriptOption configures a Lua migration.
type ScriptOption func(*scriptConfig)

// WithScriptTimeout overrides DefaultScriptTimeout.
func WithScriptTimeout(d time.Duration) ScriptOption {
	return func(c *scriptConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Script compiles a Lua migration. The script sees a global table
// "prefs" bound to the transaction:
//
//	prefs.get(key)              -> value, kind   (nil when absent)
//	prefs.has(key)              -> boolean
//	prefs.set(key, value[, kind])                (nil value removes)
//	prefs.remove(key)
//	prefs.rename(old, new)      -> boolean
//	prefs.keys()                -> array of keys
//
// kind is one of bool, int, long, float, double, string, stringset. When
// omitted, numbers keep the existing key's numeric kind, then fall back to
// int, long or double by magnitude. Calling error() fails the migration.
func Script(from, to int, name, source string, opts ...ScriptOption) (Migration, error) {
	cfg := scriptConfig{timeout: DefaultScriptTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return Migration{}, fmt.Errorf("parse script %s: %w", name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return Migration{}, fmt.Errorf("compile script %s: %w", name, err)
	}

	return Migration{
		From:        from,
		To:          to,
		Description: "script " + name,
		Apply: func(ctx context.Context, m *prefs.Mutable) error {
			return runScript(ctx, proto, m, cfg.timeout)
		},
	}, nil
}

func runScript(ctx context.Context, proto *lua.FunctionProto, m *prefs.Mutable, timeout time.Duration) error {
	L := newSandbox()
	defer L.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	L.SetContext(ctx)

	L.SetGlobal("prefs", bindPrefs(L, m))
	L.Push(L.NewFunctionFromProto(proto))
	if err := L.PCall(0, 0, nil); err != nil {
		return fmt.Errorf("script %s: %w", proto.SourceName, err)
	}
	return nil
}

// newSandbox opens only the base, table, string and math libraries and
// removes the loaders that could reach the filesystem.
func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

func bindPrefs(L *lua.LState, m *prefs.Mutable) *lua.LTable {
	t := L.NewTable()
	L.SetFuncs(t, map[string]lua.LGFunction{
		"get": func(L *lua.LState) int {
			v, ok := m.Get(L.CheckString(1))
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(toLua(L, v))
			L.Push(lua.LString(v.Kind().String()))
			return 2
		},
		"has": func(L *lua.LState) int {
			_, ok := m.Get(L.CheckString(1))
			L.Push(lua.LBool(ok))
			return 1
		},
		"set": func(L *lua.LState) int {
			key := L.CheckString(1)
			val := L.Get(2)
			if val == lua.LNil {
				m.Remove(key)
				return 0
			}
			existing, _ := m.Get(key)
			v, err := fromLua(val, L.OptString(3, ""), existing.Kind())
			if err != nil {
				L.RaiseError("prefs.set(%q): %v", key, err)
				return 0
			}
			m.Set(key, v)
			return 0
		},
		"remove": func(L *lua.LState) int {
			m.Remove(L.CheckString(1))
			return 0
		},
		"rename": func(L *lua.LState) int {
			from, to := L.CheckString(1), L.CheckString(2)
			v, ok := m.Get(from)
			if ok {
				m.Set(to, v)
				m.Remove(from)
			}
			L.Push(lua.LBool(ok))
			return 1
		},
		"keys": func(L *lua.LState) int {
			keys := L.NewTable()
			for _, k := range m.Keys() {
				keys.Append(lua.LString(k))
			}
			L.Push(keys)
			return 1
		},
	})
	return t
}

func toLua(L *lua.LState, v prefs.Value) lua.LValue {
	switch v.Kind() {
	case prefs.KindBool:
		b, _ := v.Bool()
		return lua.LBool(b)
	case prefs.KindInt:
		n, _ := v.Int()
		return lua.LNumber(n)
	case prefs.KindLong:
		n, _ := v.Long()
		return lua.LNumber(n)
	case prefs.KindFloat:
		f, _ := v.Float()
		return lua.LNumber(f)
	case prefs.KindDouble:
		f, _ := v.Double()
		return lua.LNumber(f)
	case prefs.KindString:
		s, _ := v.Str()
		return lua.LString(s)
	case prefs.KindStringSet:
		members, _ := v.StringSet()
		t := L.NewTable()
		for _, s := range members {
			t.Append(lua.LString(s))
		}
		return t
	default:
		return lua.LNil
	}
}

var kindNames = map[string]prefs.Kind{
	"bool":      prefs.KindBool,
	"int":       prefs.KindInt,
	"long":      prefs.KindLong,
	"float":     prefs.KindFloat,
	"double":    prefs.KindDouble,
	"string":    prefs.KindString,
	"stringset": prefs.KindStringSet,
}

func fromLua(v lua.LValue, kindName string, existing prefs.Kind) (prefs.Value, error) {
	kind := prefs.KindInvalid
	if kindName != "" {
		k, ok := kindNames[kindName]
		if !ok {
			return prefs.Value{}, fmt.Errorf("unknown kind %q", kindName)
		}
		kind = k
	}

	switch lv := v.(type) {
	case lua.LBool:
		if kind != prefs.KindInvalid && kind != prefs.KindBool {
			return prefs.Value{}, fmt.Errorf("boolean cannot be stored as %s", kind)
		}
		return prefs.BoolValue(bool(lv)), nil

	case lua.LNumber:
		f := float64(lv)
		if kind == prefs.KindInvalid {
			kind = numericKind(f, existing)
		}
		switch kind {
		case prefs.KindInt:
			if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
				return prefs.Value{}, fmt.Errorf("%v is not a 32-bit integer", f)
			}
			return prefs.IntValue(int32(f)), nil
		case prefs.KindLong:
			// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
			if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
				return prefs.Value{}, fmt.Errorf("%v is not a 64-bit integer", f)
			}
			return prefs.LongValue(int64(f)), nil
		case prefs.KindFloat:
			return prefs.FloatValue(float32(f)), nil
		case prefs.KindDouble:
			return prefs.DoubleValue(f), nil
		case prefs.KindString:
			return prefs.StringValue(lv.String()), nil
		}
		return prefs.Value{}, fmt.Errorf("number cannot be stored as %s", kind)

	case lua.LString:
		if kind != prefs.KindInvalid && kind != prefs.KindString {
			return prefs.Value{}, fmt.Errorf("string cannot be stored as %s", kind)
		}
		return prefs.StringValue(string(lv)), nil

	case *lua.LTable:
		if kind != prefs.KindInvalid && kind != prefs.KindStringSet {
			return prefs.Value{}, fmt.Errorf("table cannot be stored as %s", kind)
		}
		var members []string
		lv.ForEach(func(_, item lua.LValue) {
			members = append(members, item.String())
		})
		return prefs.StringSetValue(members), nil
	}
	return prefs.Value{}, fmt.Errorf("unsupported Lua type %s", v.Type())
}

func numericKind(f float64, existing prefs.Kind) prefs.Kind {
	switch existing {
	case prefs.KindInt, prefs.KindLong, prefs.KindFloat, prefs.KindDouble:
		return existing
	}
	switch {
	case f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f):
		return prefs.KindDouble
	case f >= math.MinInt32 && f <= math.MaxInt32:
		return prefs.KindInt
	case f >= math.MinInt64 && f < math.MaxInt64:
		return prefs.KindLong
	default:
		return prefs.KindDouble
	}
}
