package authoring

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/eraflo/FallGuys/internal/behavior"
	"github.com/eraflo/FallGuys/internal/fsm"
	"github.com/eraflo/FallGuys/internal/fsm/conditions"
)

// Args are the arguments of a condition reference.
type Args map[string]any

// String returns the string argument name or def.
func (a Args) String(name, def string) string {
	if v, ok := a[name].(string); ok {
		return v
	}
	return def
}

// Require returns the non-empty string argument name.
func (a Args) Require(name string) (string, error) {
	v := strings.TrimSpace(a.String(name, ""))
	if v == "" {
		return "", fmt.Errorf("missing argument %q", name)
	}
	return v, nil
}

// Float returns the numeric argument name or def.
func (a Args) Float(name string, def float64) float64 {
	switch v := a[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// Duration returns the argument name as a duration. Numbers are seconds,
// strings use time.ParseDuration.
func (a Args) Duration(name string, def time.Duration) (time.Duration, error) {
	raw, ok := a[name]
	if !ok {
		return def, nil
	}
	if s, isString := raw.(string); isString {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("argument %q: %w", name, err)
		}
		return d, nil
	}
	return time.Duration(a.Float(name, def.Seconds()) * float64(time.Second)), nil
}

// ConditionFactory builds a condition from document arguments.
type ConditionFactory func(args Args) (fsm.Condition, error)

// Registry names the code a document may reference: conditions, state hooks
// and simple behaviors.
type Registry struct {
	conditions map[string]ConditionFactory
	hooks      map[string]fsm.Hooks
	simple     map[string]behavior.Simple
}

// NewRegistry returns a registry preloaded with the built-in conditions.
func NewRegistry() *Registry {
	r := &Registry{
		conditions: make(map[string]ConditionFactory),
		hooks:      make(map[string]fsm.Hooks),
		simple:     make(map[string]behavior.Simple),
	}
	for name, factory := range builtinConditions {
		r.conditions[name] = factory
	}
	return r
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// RegisterCondition adds a condition factory.
func (r *Registry) RegisterCondition(name string, factory ConditionFactory) error {
	key := normalize(name)
	if key == "" || factory == nil {
		return fmt.Errorf("authoring: invalid condition registration %q", name)
	}
	if _, exists := r.conditions[key]; exists {
		return fmt.Errorf("authoring: condition %q already registered", name)
	}
	r.conditions[key] = factory
	return nil
}

// RegisterHooks adds a named hook set states may `use`.
func (r *Registry) RegisterHooks(name string, hooks fsm.Hooks) error {
	key := normalize(name)
	if key == "" {
		return fmt.Errorf("authoring: empty hook set name")
	}
	if _, exists := r.hooks[key]; exists {
		return fmt.Errorf("authoring: hook set %q already registered", name)
	}
	r.hooks[key] = hooks
	return nil
}

// RegisterSimple adds a named simple behavior.
func (r *Registry) RegisterSimple(name string, logic behavior.Simple) error {
	key := normalize(name)
	if key == "" {
		return fmt.Errorf("authoring: empty simple behavior name")
	}
	if _, exists := r.simple[key]; exists {
		return fmt.Errorf("authoring: simple behavior %q already registered", name)
	}
	r.simple[key] = logic
	return nil
}

// Condition builds the condition registered under name.
func (r *Registry) Condition(name string, args Args) (fsm.Condition, error) {
	factory, ok := r.conditions[normalize(name)]
	if !ok {
		return nil, fmt.Errorf("unknown condition %q", name)
	}
	cond, err := factory(args)
	if err != nil {
		return nil, fmt.Errorf("condition %q: %w", name, err)
	}
	return cond, nil
}

// Hooks returns the hook set registered under name.
func (r *Registry) Hooks(name string) (fsm.Hooks, bool) {
	hooks, ok := r.hooks[normalize(name)]
	return hooks, ok
}

// Simple returns the simple behavior registered under name.
func (r *Registry) Simple(name string) (behavior.Simple, bool) {
	logic, ok := r.simple[normalize(name)]
	return logic, ok
}

// ConditionNames lists the registered condition names.
func (r *Registry) ConditionNames() []string {
	names := make([]string, 0, len(r.conditions))
	for name := range r.conditions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var builtinConditions = map[string]ConditionFactory{
	"always": func(Args) (fsm.Condition, error) {
		return fsm.All(), nil
	},
	"has_key": func(args Args) (fsm.Condition, error) {
		key, err := args.Require("key")
		if err != nil {
			return nil, err
		}
		return conditions.HasKey(key), nil
	},
	"flag": func(args Args) (fsm.Condition, error) {
		key, err := args.Require("key")
		if err != nil {
			return nil, err
		}
		return conditions.Flag(key), nil
	},
	"compare": func(args Args) (fsm.Condition, error) {
		key, err := args.Require("key")
		if err != nil {
			return nil, err
		}
		op := conditions.Op(args.String("op", string(conditions.OpEqual)))
		if !op.Valid() {
			return nil, fmt.Errorf("unknown operator %q", op)
		}
		if _, ok := args["value"]; !ok {
			return nil, fmt.Errorf("missing argument %q", "value")
		}
		return conditions.Compare(key, op, args.Float("value", 0)), nil
	},
	"equals": func(args Args) (fsm.Condition, error) {
		key, err := args.Require("key")
		if err != nil {
			return nil, err
		}
		value, ok := args["value"]
		if !ok {
			return nil, fmt.Errorf("missing argument %q", "value")
		}
		if tag := args.String("type", ""); tag != "" {
			value, err = behavior.Coerce(behavior.TypeTag(tag), value)
			if err != nil {
				return nil, err
			}
		}
		return conditions.Equals(key, value), nil
	},
	"non_zero": func(args Args) (fsm.Condition, error) {
		key, err := args.Require("key")
		if err != nil {
			return nil, err
		}
		return conditions.NonZero(key), nil
	},
	"elapsed": func(args Args) (fsm.Condition, error) {
		start, err := args.Require("start")
		if err != nil {
			return nil, err
		}
		fallback, err := args.Duration("fallback", 0)
		if err != nil {
			return nil, err
		}
		return conditions.Elapsed(start, args.String("duration", ""), fallback), nil
	},
	"ticks_elapsed": func(args Args) (fsm.Condition, error) {
		start, err := args.Require("start")
		if err != nil {
			return nil, err
		}
		ticks := args.Float("ticks", -1)
		if ticks < 0 {
			return nil, fmt.Errorf("missing argument %q", "ticks")
		}
		return conditions.TicksElapsed(start, uint64(ticks)), nil
	},
	"server_only": func(Args) (fsm.Condition, error) { return conditions.ServerOnly(), nil },
	"client_only": func(Args) (fsm.Condition, error) { return conditions.ClientOnly(), nil },
	"owner_only":  func(Args) (fsm.Condition, error) { return conditions.OwnerOnly(), nil },
	"script": func(args Args) (fsm.Condition, error) {
		expr, err := args.Require("expr")
		if err != nil {
			return nil, err
		}
		return conditions.Script(expr)
	},
}
