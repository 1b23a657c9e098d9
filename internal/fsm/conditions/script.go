package conditions

import (
	"fmt"
	"strings"
	"time"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"

	"github.com/eraflo/FallGuys/internal/blackboard"
	"github.com/eraflo/FallGuys/internal/fsm"
)

const scriptResult = "__result"

// ScriptCondition evaluates a tengo boolean expression against a snapshot of
// the store. The expression sees `store` (a map of the store's scalar and
// vector values), `tick`, `is_server`, `is_client` and `is_owner`.
//
// Vectors appear as maps with x, y (and z) keys and durations as seconds.
// Values of other types are omitted from the snapshot.
type ScriptCondition struct {
	expr     string
	compiled *tengo.Compiled
}

// Script compiles expr once. Evaluation runs on a clone of the compiled
// program so one condition may be shared by many entities.
func Script(expr string) (*ScriptCondition, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, fmt.Errorf("conditions: empty script")
	}
	script := tengo.NewScript([]byte(scriptResult + " := bool(" + trimmed + ")"))
	_ = script.Add("store", map[string]any{})
	_ = script.Add("tick", 0)
	_ = script.Add("is_server", false)
	_ = script.Add("is_client", false)
	_ = script.Add("is_owner", false)
	script.SetImports(stdlib.GetModuleMap("math", "text"))
	compiled, err := script.Compile()
	if err != nil {
		return nil, fmt.Errorf("conditions: compile %q: %w", trimmed, err)
	}
	return &ScriptCondition{expr: trimmed, compiled: compiled}, nil
}

// MustScript is Script for statically known expressions; it panics on error.
func MustScript(expr string) *ScriptCondition {
	condition, err := Script(expr)
	if err != nil {
		panic(err)
	}
	return condition
}

// Expr returns the source expression.
func (c *ScriptCondition) Expr() string {
	if c == nil {
		return ""
	}
	return c.expr
}

// Met implements fsm.Condition. Runtime errors count as unsatisfied.
func (c *ScriptCondition) Met(bb *blackboard.Store) bool {
	if c == nil || c.compiled == nil {
		return false
	}
	run := c.compiled.Clone()
	if err := run.Set("store", snapshot(bb)); err != nil {
		return false
	}
	_ = run.Set("tick", int64(bb.Tick()))
	_ = run.Set("is_server", bb.IsServer())
	_ = run.Set("is_client", bb.IsClient())
	_ = run.Set("is_owner", bb.IsOwner())
	if err := run.Run(); err != nil {
		return false
	}
	return run.Get(scriptResult).Bool()
}

var _ fsm.Condition = (*ScriptCondition)(nil)

func snapshot(bb *blackboard.Store) map[string]any {
	out := make(map[string]any, bb.Len())
	for _, key := range bb.Keys() {
		raw, _ := bb.Value(key)
		switch v := raw.(type) {
		case bool, string, int, int64, float64:
			out[key] = v
		case int32:
			out[key] = int64(v)
		case uint64:
			out[key] = int64(v)
		case float32:
			out[key] = float64(v)
		case time.Duration:
			out[key] = v.Seconds()
		case blackboard.Vec2:
			out[key] = map[string]any{"x": v.X, "y": v.Y}
		case blackboard.Vec3:
			out[key] = map[string]any{"x": v.X, "y": v.Y, "z": v.Z}
		}
	}
	return out
}
