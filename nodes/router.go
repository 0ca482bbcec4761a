package nodes

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/orkarun/orka/core"
)

// RouterBranch pairs a boolean Lua expression with the node ids to enqueue
// when it evaluates true (spec §4.4.5). Expression sees a Lua table
// `outputs` indexed by node id, each entry holding `result`, `status`, and
// (when the result is a plain string or number) a convenience `value`
// field, plus the ambient `loop_number` and `input` globals.
type RouterBranch struct {
	Name       string
	Expression string
	Queue      []string
}

// RouterNode evaluates Conditions in declared order and enqueues the first
// matching branch's Queue; the spec deliberately leaves the condition
// language unpinned (§9 Open Question), so this implementation picks a
// small embedded-Lua predicate surface as its concrete default rather than
// inventing a bespoke expression grammar.
type RouterNode struct {
	Base
	Conditions []RouterBranch
	Default    []string
}

var _ core.Node = (*RouterNode)(nil)

// NewRouterNode builds a RouterNode. defaultQueue is enqueued when no
// condition matches.
func NewRouterNode(id string, conditions []RouterBranch, defaultQueue []string) *RouterNode {
	return &RouterNode{
		Base:       Base{NodeID: id},
		Conditions: conditions,
		Default:    defaultQueue,
	}
}

func (r *RouterNode) Run(ctx context.Context, rc *core.RunContext) (core.Output, error) {
	for _, branch := range r.Conditions {
		matched, err := evalCondition(branch.Expression, rc)
		if err != nil {
			return errorOutput(r.NodeID, fmt.Errorf("router %s: condition %q: %w", r.NodeID, branch.Name, err)), nil
		}
		if matched {
			return successOutput(r.NodeID, map[string]interface{}{
				"matched_branch": branch.Name,
				"queue":          branch.Queue,
			}, map[string]interface{}{MetaNextQueue: branch.Queue}), nil
		}
	}
	return successOutput(r.NodeID, map[string]interface{}{
		"matched_branch": "",
		"queue":          r.Default,
	}, map[string]interface{}{MetaNextQueue: r.Default}), nil
}

// evalCondition runs expr as a Lua expression (implicitly `return <expr>`
// unless expr already starts with "return") against a table view of
// rc.PreviousOutputs, and interprets the result as a boolean.
func evalCondition(expr string, rc *core.RunContext) (bool, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.StringLibName, lua.OpenString},
		{lua.TabLibName, lua.OpenTable},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{Fn: L.NewFunction(lib.fn), NRet: 0, Protect: true}, lua.LString(lib.name)); err != nil {
			return false, err
		}
	}

	L.SetGlobal("outputs", outputsToLuaTable(L, rc))
	L.SetGlobal("loop_number", lua.LNumber(rc.LoopNumber))
	L.SetGlobal("input", goValueToLua(L, rc.Input))

	script := expr
	trimmed := trimLeadingSpace(expr)
	if len(trimmed) < 6 || trimmed[:6] != "return" {
		script = "return (" + expr + ")"
	}

	if err := L.DoString(script); err != nil {
		return false, err
	}
	ret := L.Get(-1)
	L.Pop(1)
	return lua.LVAsBool(ret), nil
}

func trimLeadingSpace(s string) string {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n') {
		i++
	}
	return s[i:]
}

func outputsToLuaTable(L *lua.LState, rc *core.RunContext) *lua.LTable {
	tbl := L.NewTable()
	for id, out := range rc.PreviousOutputs {
		entry := L.NewTable()
		entry.RawSetString("status", lua.LString(out.Status))
		entry.RawSetString("result", goValueToLua(L, out.Result))
		switch v := out.Result.(type) {
		case string:
			entry.RawSetString("value", lua.LString(v))
		case float64:
			entry.RawSetString("value", lua.LNumber(v))
		case int:
			entry.RawSetString("value", lua.LNumber(v))
		}
		tbl.RawSetString(id, entry)
	}
	return tbl
}

func goValueToLua(L *lua.LState, v interface{}) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(t)
	case bool:
		return lua.LBool(t)
	case float64:
		return lua.LNumber(t)
	case int:
		return lua.LNumber(t)
	case map[string]interface{}:
		tbl := L.NewTable()
		for k, val := range t {
			tbl.RawSetString(k, goValueToLua(L, val))
		}
		return tbl
	case []interface{}:
		tbl := L.NewTable()
		for i, val := range t {
			tbl.RawSetInt(i+1, goValueToLua(L, val))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", t))
	}
}
