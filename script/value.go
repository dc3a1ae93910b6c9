package script

import (
	"fmt"
	"sort"

	lua "github.com/yuin/gopher-lua"
)

// ToLua converts a JSON-like Go value into its Lua representation. The
// conversion is total for the subset the manual and fs backends produce:
// nil, bool, string, int/int64/float64, []any, []string, and map[string]any.
func ToLua(L *lua.LState, v any) (lua.LValue, error) {
	switch vv := v.(type) {
	case nil:
		return lua.LNil, nil
	case bool:
		return lua.LBool(vv), nil
	case string:
		return lua.LString(vv), nil
	case int:
		return lua.LNumber(vv), nil
	case int64:
		return lua.LNumber(vv), nil
	case float64:
		return lua.LNumber(vv), nil
	case []string:
		tbl := L.NewTable()
		for i, el := range vv {
			tbl.RawSetInt(i+1, lua.LString(el))
		}
		return tbl, nil
	case []any:
		tbl := L.NewTable()
		for i, el := range vv {
			lv, err := ToLua(L, el)
			if err != nil {
				return nil, err
			}
			tbl.RawSetInt(i+1, lv)
		}
		return tbl, nil
	case map[string]any:
		tbl := L.NewTable()
		for k, el := range vv {
			lv, err := ToLua(L, el)
			if err != nil {
				return nil, err
			}
			tbl.RawSetString(k, lv)
		}
		return tbl, nil
	default:
		return nil, fmt.Errorf("script: unsupported value type %T", v)
	}
}

// FromLua converts a Lua value back into a JSON-like Go value. Scripts'
// return values are discarded by the adapter, but FromLua is kept for
// testing the conversion and for any future caller that needs the inverse.
func FromLua(lv lua.LValue) (any, error) {
	switch v := lv.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(v), nil
	case lua.LString:
		return string(v), nil
	case lua.LNumber:
		return float64(v), nil
	case *lua.LTable:
		return fromLuaTable(v)
	default:
		return nil, fmt.Errorf("script: unsupported Lua value type %T", lv)
	}
}

func fromLuaTable(tbl *lua.LTable) (any, error) {
	length := tbl.Len()
	isArray := length > 0

	keys := make([]string, 0)
	tbl.ForEach(func(k, _ lua.LValue) {
		if _, ok := k.(lua.LString); ok {
			keys = append(keys, k.String())
		}
	})

	if isArray && len(keys) == 0 {
		out := make([]any, 0, length)
		for i := 1; i <= length; i++ {
			el, err := FromLua(tbl.RawGetInt(i))
			if err != nil {
				return nil, err
			}
			out = append(out, el)
		}
		return out, nil
	}

	sort.Strings(keys)
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		el, err := FromLua(tbl.RawGetString(k))
		if err != nil {
			return nil, err
		}
		out[k] = el
	}
	return out, nil
}
