package authoring

import (
	"context"
	"fmt"
	"strings"

	"github.com/eraflo/FallGuys/internal/behavior"
	"github.com/eraflo/FallGuys/internal/blackboard"
	"github.com/eraflo/FallGuys/internal/fsm"
)

// Values understood by SetDoc.
const (
	ValueNow  = "$now"
	ValueTick = "$tick"
)

// Compile turns doc into a definition using the code registered in reg.
//
// Unknown condition, hook or simple behavior names are errors. A transition
// naming a state the document does not declare compiles to a state outside
// the table; the runtime skips it and reports it. A simple document without
// `use` has no logic and disables the entities that reference it.
func Compile(doc Document, reg *Registry) (*behavior.Definition, error) {
	if reg == nil {
		reg = NewRegistry()
	}
	key := strings.TrimSpace(doc.Key)
	fields, err := compileParameters(key, doc.Parameters)
	if err != nil {
		return nil, err
	}

	var logic behavior.Logic
	switch behavior.Kind(strings.ToLower(strings.TrimSpace(doc.Kind))) {
	case behavior.KindStateful:
		if doc.Use != "" {
			return nil, fmt.Errorf("authoring: %s: stateful documents declare hooks per state", key)
		}
		table, err := compileStates(key, doc.States, reg)
		if err != nil {
			return nil, err
		}
		logic = behavior.Stateful{Table: table}
	case behavior.KindSimple:
		if len(doc.States) > 0 {
			return nil, fmt.Errorf("authoring: %s: simple documents cannot declare states", key)
		}
		if doc.Use != "" {
			simple, ok := reg.Simple(doc.Use)
			if !ok {
				return nil, fmt.Errorf("authoring: %s: unknown simple behavior %q", key, doc.Use)
			}
			logic = simple
		}
	default:
		return nil, fmt.Errorf("authoring: %s: unknown kind %q", key, doc.Kind)
	}

	def, err := behavior.NewDefinition(key, logic, fields...)
	if err != nil {
		return nil, fmt.Errorf("authoring: %w", err)
	}
	return def, nil
}

func compileParameters(key string, docs []ParameterDoc) ([]behavior.ParameterField, error) {
	fields := make([]behavior.ParameterField, 0, len(docs))
	for _, param := range docs {
		tag, ok := behavior.NormalizeTag(param.Type)
		if !ok {
			return nil, fmt.Errorf("authoring: %s: parameter %q: %w %q", key, param.Name, behavior.ErrUnknownType, param.Type)
		}
		value, err := behavior.Coerce(tag, param.Default)
		if err != nil {
			return nil, fmt.Errorf("authoring: %s: parameter %q: %w", key, param.Name, err)
		}
		fields = append(fields, behavior.ParameterField{Name: param.Name, Type: tag, Default: value})
	}
	return fields, nil
}

func compileStates(key string, docs []StateDoc, reg *Registry) (*fsm.Table, error) {
	states := make([]*fsm.State, len(docs))
	byName := make(map[string]*fsm.State, len(docs))
	for i, doc := range docs {
		hooks := fsm.Hooks{}
		if doc.Use != "" {
			registered, ok := reg.Hooks(doc.Use)
			if !ok {
				return nil, fmt.Errorf("authoring: %s: state %q: unknown hook set %q", key, doc.Name, doc.Use)
			}
			hooks = registered
		}
		if len(doc.OnEnter) > 0 {
			setters, err := compileSetters(doc.OnEnter)
			if err != nil {
				return nil, fmt.Errorf("authoring: %s: state %q: %w", key, doc.Name, err)
			}
			hooks.OnEnter = withSetters(setters, hooks.OnEnter)
		}
		states[i] = fsm.NewState(doc.Name, hooks)
		byName[normalize(doc.Name)] = states[i]
	}

	for i, doc := range docs {
		for j, transition := range doc.Transitions {
			target, ok := byName[normalize(transition.To)]
			if !ok {
				target = fsm.NewState(transition.To, fsm.Hooks{})
			}
			conds := make([]fsm.Condition, 0, len(transition.When))
			for _, when := range transition.When {
				cond, err := reg.Condition(when.Condition, Args(when.Args))
				if err != nil {
					return nil, fmt.Errorf("authoring: %s: state %q transition %d: %w", key, doc.Name, j, err)
				}
				if when.Negate {
					cond = fsm.Not(cond)
				}
				conds = append(conds, cond)
			}
			states[i].To(target, conds...)
		}
	}

	table, err := fsm.NewTable(key, states...)
	if err != nil {
		return nil, fmt.Errorf("authoring: %w", err)
	}
	return table, nil
}

type setter struct {
	key   string
	value any
	now   bool
	tick  bool
}

func compileSetters(docs []SetDoc) ([]setter, error) {
	setters := make([]setter, 0, len(docs))
	for _, doc := range docs {
		if doc.Key == "" {
			return nil, fmt.Errorf("on_enter: empty key")
		}
		s := setter{key: doc.Key, value: doc.Value}
		switch raw, _ := doc.Value.(string); raw {
		case ValueNow:
			s.now = true
		case ValueTick:
			s.tick = true
		default:
			if doc.Type != "" {
				tag, ok := behavior.NormalizeTag(doc.Type)
				if !ok {
					return nil, fmt.Errorf("on_enter %q: %w %q", doc.Key, behavior.ErrUnknownType, doc.Type)
				}
				value, err := behavior.Coerce(tag, doc.Value)
				if err != nil {
					return nil, fmt.Errorf("on_enter %q: %w", doc.Key, err)
				}
				s.value = value
			}
		}
		setters = append(setters, s)
	}
	return setters, nil
}

func withSetters(setters []setter, next func(context.Context, *blackboard.Store)) func(context.Context, *blackboard.Store) {
	return func(ctx context.Context, bb *blackboard.Store) {
		for _, s := range setters {
			switch {
			case s.now:
				bb.Set(s.key, bb.Now())
			case s.tick:
				bb.Set(s.key, bb.Tick())
			default:
				bb.Set(s.key, s.value)
			}
		}
		if next != nil {
			next(ctx, bb)
		}
	}
}
