package luaunit

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/zot/hotswap/internal/scene"
)

const nodeMetatable = "hotswap.node"

// registerUIModule installs the ui global for one Lua state. depth is the
// component nesting level of the instance this state builds.
func (d *Definer) registerUIModule(L *lua.LState, depth int) {
	mt := L.NewTypeMetatable(nodeMetatable)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"id": func(L *lua.LState) int {
			L.Push(lua.LString(checkNodeArg(L, 1).ID()))
			return 1
		},
		"type": func(L *lua.LState) int {
			L.Push(lua.LString(checkNodeArg(L, 1).TypeName()))
			return 1
		},
	}))
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		n := checkNodeArg(L, 1)
		L.Push(lua.LString("node<" + n.TypeName() + ">"))
		return 1
	}))

	uiMod := L.NewTable()

	builtin := func(t scene.ElementType) lua.LGFunction {
		return func(L *lua.LState) int {
			fields := L.OptTable(1, L.NewTable())
			args, children := splitFields(L, fields)
			n, err := t.New(args)
			if err != nil {
				L.RaiseError("%s: %v", t.QualifiedName(), err)
			}
			for _, c := range children {
				n.AddChild(c)
			}
			L.Push(pushNode(L, n))
			return 1
		}
	}
	L.SetField(uiMod, "box", L.NewFunction(builtin(scene.Box)))
	L.SetField(uiMod, "label", L.NewFunction(builtin(scene.Label)))
	L.SetField(uiMod, "button", L.NewFunction(builtin(scene.Button)))

	// ui.component(name [, props]) builds the current definition of name
	L.SetField(uiMod, "component", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		props := L.OptTable(2, L.NewTable())
		args, _ := luaToGo(props).(map[string]any)
		if args == nil {
			args = map[string]any{}
		}
		if d.catalog == nil {
			L.RaiseError("ui.component(%q): no catalog", name)
		}
		t, ok := d.catalog.Lookup(name)
		if !ok {
			L.RaiseError("ui.component(%q): unknown component", name)
		}
		var n *scene.Node
		var err error
		if lt, ok := t.(*Type); ok {
			n, err = lt.newAt(depth+1, args)
		} else {
			n, err = t.New(args)
		}
		if err != nil {
			L.RaiseError("ui.component(%q): %v", name, err)
		}
		L.Push(pushNode(L, n))
		return 1
	}))

	// ui.log([level,] message)
	L.SetField(uiMod, "log", L.NewFunction(func(L *lua.LState) int {
		level := 0
		msg := ""
		if L.GetTop() >= 2 {
			level = L.CheckInt(1)
			msg = L.CheckString(2)
		} else {
			msg = L.CheckString(1)
		}
		d.config.Log(level, "[lua] %s", msg)
		return 0
	}))

	L.SetGlobal("ui", uiMod)
}

// splitFields separates the children list from the other fields of a ui.* call.
func splitFields(L *lua.LState, fields *lua.LTable) (map[string]any, []*scene.Node) {
	args := make(map[string]any)
	var children []*scene.Node
	fields.ForEach(func(k, v lua.LValue) {
		key, ok := k.(lua.LString)
		if !ok {
			return
		}
		if key == "children" {
			list, ok := v.(*lua.LTable)
			if !ok {
				L.RaiseError("children must be a list of nodes")
			}
			for i := 1; i <= list.Len(); i++ {
				c, ok := checkNode(list.RawGetInt(i))
				if !ok {
					L.RaiseError("children[%d] is not a node", i)
				}
				children = append(children, c)
			}
			return
		}
		if key == "class" {
			if list, ok := v.(*lua.LTable); ok {
				var classes []string
				for i := 1; i <= list.Len(); i++ {
					classes = append(classes, list.RawGetInt(i).String())
				}
				args["class"] = strings.Join(classes, " ")
				return
			}
		}
		args[string(key)] = luaToGo(v)
	})
	return args, children
}

func pushNode(L *lua.LState, n *scene.Node) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = n
	L.SetMetatable(ud, L.GetTypeMetatable(nodeMetatable))
	return ud
}

func checkNode(v lua.LValue) (*scene.Node, bool) {
	ud, ok := v.(*lua.LUserData)
	if !ok {
		return nil, false
	}
	n, ok := ud.Value.(*scene.Node)
	return n, ok && n != nil
}

func checkNodeArg(L *lua.LState, i int) *scene.Node {
	n, ok := checkNode(L.Get(i))
	if !ok {
		L.ArgError(i, "node expected")
	}
	return n
}

// luaToGo converts plain Lua data. Functions and userdata become nil.
func luaToGo(v lua.LValue) any {
	switch v := v.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if n := v.Len(); n > 0 {
			arr := make([]any, n)
			for i := 1; i <= n; i++ {
				arr[i-1] = luaToGo(v.RawGetInt(i))
			}
			return arr
		}
		m := make(map[string]any)
		v.ForEach(func(key, value lua.LValue) {
			if ks, ok := key.(lua.LString); ok && !strings.HasPrefix(string(ks), "_") {
				m[string(ks)] = luaToGo(value)
			}
		})
		return m
	default:
		return nil
	}
}

func goToLua(L *lua.LState, v any) lua.LValue {
	switch v := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case string:
		return lua.LString(v)
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case []any:
		tbl := L.CreateTable(len(v), 0)
		for _, item := range v {
			tbl.Append(goToLua(L, item))
		}
		return tbl
	case []string:
		tbl := L.CreateTable(len(v), 0)
		for _, item := range v {
			tbl.Append(lua.LString(item))
		}
		return tbl
	case map[string]any:
		tbl := L.CreateTable(0, len(v))
		for k, item := range v {
			tbl.RawSetString(k, goToLua(L, item))
		}
		return tbl
	default:
		return lua.LNil
	}
}
