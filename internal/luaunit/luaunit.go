// Package luaunit defines compiled units written in Lua.
//
// A unit is a Lua chunk returning a table. A table with a build function
// defines an element type; build(props) returns the node tree of one
// instance, built with the ui module:
//
//	return {
//	  build = function(props)
//	    return ui.box{ class = "header", children = { ui.label{ text = props.city } } }
//	  end,
//	}
//
// Any other table defines a plain module whose fields are exported as values.
package luaunit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
	"github.com/zot/hotswap/internal/config"
	"github.com/zot/hotswap/internal/redefine"
	"github.com/zot/hotswap/internal/scene"
	"github.com/zot/hotswap/internal/typeid"
)

// MaxDepth bounds ui.component nesting, so self-referencing units fail
// instead of recursing forever.
const MaxDepth = 32

// DefaultTimeout bounds one run of a unit chunk or of its build function.
const DefaultTimeout = 5 * time.Second

var (
	// ErrNotTable is returned when a unit does not evaluate to a table.
	ErrNotTable = errors.New("luaunit: unit must return a table")
	// ErrNameMismatch is returned when a unit declares a name other than its path.
	ErrNameMismatch = errors.New("luaunit: declared name does not match unit path")
)

// Definer compiles Lua units. Each Define runs in a new Lua state.
type Definer struct {
	config  *config.Config
	catalog *scene.Catalog

	mu      sync.Mutex
	defined int
	timeout time.Duration
}

var _ redefine.Definer = (*Definer)(nil)

// NewDefiner creates a definer whose element types resolve ui.component
// through catalog.
func NewDefiner(cfg *config.Config, catalog *scene.Catalog) *Definer {
	return &Definer{config: cfg, catalog: catalog, timeout: DefaultTimeout}
}

// SetTimeout changes how long a unit may run before it is aborted.
// Zero or less restores DefaultTimeout.
func (d *Definer) SetTimeout(timeout time.Duration) *Definer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d.mu.Lock()
	d.timeout = timeout
	d.mu.Unlock()
	return d
}

// Defined returns how many definitions have succeeded.
func (d *Definer) Defined() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.defined
}

// Define implements redefine.Definer.
func (d *Definer) Define(qualifiedName string, data []byte) (typeid.Handle, error) {
	chunk, err := parse.Parse(bytes.NewReader(data), qualifiedName)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", qualifiedName, err)
	}
	proto, err := lua.Compile(chunk, qualifiedName)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", qualifiedName, err)
	}

	L, done := d.newState(0)
	defer done()
	tbl, err := evaluate(L, proto)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", qualifiedName, err)
	}
	if declared, ok := tbl.RawGetString("name").(lua.LString); ok && string(declared) != qualifiedName {
		return nil, fmt.Errorf("%w: %s declares %q", ErrNameMismatch, qualifiedName, string(declared))
	}

	digest := redefine.Digest(data)
	var handle typeid.Handle
	switch build := tbl.RawGetString("build").(type) {
	case *lua.LFunction:
		d.config.Log(3, "LuaUnit: defined element type %s (%s)", qualifiedName, digest[:12])
		handle = &Type{name: qualifiedName, proto: proto, digest: digest, definer: d}
	case *lua.LNilType:
		d.config.Log(3, "LuaUnit: defined module %s", qualifiedName)
		handle = &Module{name: qualifiedName, digest: digest, exports: exports(tbl)}
	default:
		return nil, fmt.Errorf("%s: build must be a function, got %s", qualifiedName, build.Type())
	}

	d.mu.Lock()
	d.defined++
	d.mu.Unlock()
	return handle, nil
}

// newState returns a fresh state whose execution is cut off after the
// definer's timeout. done releases both.
func (d *Definer) newState(depth int) (*lua.LState, func()) {
	d.mu.Lock()
	timeout := d.timeout
	d.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	L.SetContext(ctx)
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	d.registerUIModule(L, depth)
	return L, func() {
		L.Close()
		cancel()
	}
}

// evaluate runs a compiled unit and returns the table it produced.
func evaluate(L *lua.LState, proto *lua.FunctionProto) (*lua.LTable, error) {
	L.Push(L.NewFunctionFromProto(proto))
	if err := L.PCall(0, 1, nil); err != nil {
		return nil, err
	}
	ret := L.Get(-1)
	L.Pop(1)
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("%w, got %s", ErrNotTable, ret.Type())
	}
	return tbl, nil
}

// Type is an element type defined by a Lua unit. It is immutable; every
// instance is built in its own Lua state.
type Type struct {
	name    string
	proto   *lua.FunctionProto
	digest  string
	definer *Definer
}

var _ scene.ElementType = (*Type)(nil)

// QualifiedName implements typeid.Handle.
func (t *Type) QualifiedName() string { return t.name }

// Digest returns the sha256 of the unit bytes this type was defined from.
func (t *Type) Digest() string { return t.digest }

// New implements scene.ElementType.
func (t *Type) New(args map[string]any) (*scene.Node, error) {
	return t.newAt(0, args)
}

func (t *Type) newAt(depth int, args map[string]any) (*scene.Node, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("%s: component nesting deeper than %d", t.name, MaxDepth)
	}
	L, done := t.definer.newState(depth)
	defer done()

	tbl, err := evaluate(L, t.proto)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.name, err)
	}
	build, ok := tbl.RawGetString("build").(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%s: build is not a function", t.name)
	}
	if err := L.CallByParam(lua.P{Fn: build, NRet: 1, Protect: true}, goToLua(L, args)); err != nil {
		return nil, fmt.Errorf("%s: build: %w", t.name, err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	built, ok := checkNode(ret)
	if !ok {
		return nil, fmt.Errorf("%s: build must return a ui node, got %s", t.name, ret.Type())
	}
	return adopt(t, args, built), nil
}

// adopt makes a node of type t out of the root built by its unit: the
// construction args stay with the new node, everything else moves over.
func adopt(t *Type, args map[string]any, built *scene.Node) *scene.Node {
	n := scene.NewNode(t, args)
	if n.ID() == "" && built.ID() != "" {
		n.SetID(built.ID())
	}
	for _, class := range built.StyleClasses() {
		n.AddStyleClass(class)
	}
	for k, v := range built.Props() {
		n.SetProp(k, v)
	}
	for _, c := range built.Children() {
		n.AddChild(c)
	}
	return n
}

// Module is a non-element unit.
type Module struct {
	name    string
	digest  string
	exports map[string]any
}

// QualifiedName implements typeid.Handle.
func (m *Module) QualifiedName() string { return m.name }

// Digest returns the sha256 of the unit bytes.
func (m *Module) Digest() string { return m.digest }

// Exports returns the module's exported values.
func (m *Module) Exports() map[string]any { return m.exports }

func exports(tbl *lua.LTable) map[string]any {
	out := make(map[string]any)
	tbl.ForEach(func(k, v lua.LValue) {
		key, ok := k.(lua.LString)
		if !ok {
			return
		}
		if _, fn := v.(*lua.LFunction); fn {
			return
		}
		out[string(key)] = luaToGo(v)
	})
	return out
}
