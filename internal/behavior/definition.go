// Package behavior describes shareable entity logic and resolves per-placement
// parameter overrides into an entity's store.
package behavior

import (
	"errors"
	"fmt"
	"strings"

	"github.com/eraflo/FallGuys/internal/blackboard"
	"github.com/eraflo/FallGuys/internal/fsm"
)

// Kind classifies a behavior definition.
type Kind string

const (
	KindStateful Kind = "stateful"
	KindSimple   Kind = "simple"
)

// Logic is the closed set of logic variants: Stateful or Simple.
type Logic interface {
	Kind() Kind
	isLogic()
}

// Stateful logic drives the entity with a state machine over Table.
type Stateful struct {
	Table *fsm.Table
}

func (Stateful) Kind() Kind { return KindStateful }
func (Stateful) isLogic()   {}

// Simple logic runs Start once after parameters are resolved, then Update on
// every advance. Either hook may be nil.
type Simple struct {
	Start  func(bb *blackboard.Store)
	Update func(bb *blackboard.Store)
}

func (Simple) Kind() Kind { return KindSimple }
func (Simple) isLogic()   {}

// ParameterField is a placement-editable parameter with its default value.
type ParameterField struct {
	Name    string
	Type    TypeTag
	Default any
}

// OverrideRecord shadows one field's default for a single placement.
type OverrideRecord struct {
	Name        string `json:"name" yaml:"name" toml:"name"`
	TypeTag     string `json:"type_tag" yaml:"type_tag" toml:"type_tag"`
	StringValue string `json:"string_value" yaml:"string_value" toml:"string_value"`
}

// Override builds a record from a typed value.
func Override(name string, value any) (OverrideRecord, bool) {
	tag, raw, ok := Format(value)
	if !ok {
		return OverrideRecord{}, false
	}
	return OverrideRecord{Name: name, TypeTag: string(tag), StringValue: raw}, true
}

// Definition is an immutable behavior description shared by every placement
// that references its key.
type Definition struct {
	key    string
	logic  Logic
	fields []ParameterField
	index  map[string]int
}

// NewDefinition validates and builds a definition. Every field needs a unique
// name, a canonical type and a default of that type.
func NewDefinition(key string, logic Logic, fields ...ParameterField) (*Definition, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("behavior: definition key is empty")
	}
	def := &Definition{
		key:    key,
		logic:  logic,
		fields: make([]ParameterField, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for _, field := range fields {
		if field.Name == "" {
			return nil, fmt.Errorf("behavior: %s: field with empty name", key)
		}
		if _, exists := def.index[field.Name]; exists {
			return nil, fmt.Errorf("behavior: %s: duplicate field %q", key, field.Name)
		}
		tag, ok := NormalizeTag(string(field.Type))
		if !ok {
			return nil, fmt.Errorf("behavior: %s: field %q: %w %q", key, field.Name, ErrUnknownType, field.Type)
		}
		field.Type = tag
		if got, ok := TagOf(field.Default); !ok || got != tag {
			return nil, fmt.Errorf("behavior: %s: field %q: %w: default %T is not a %s", key, field.Name, ErrTypeMismatch, field.Default, tag)
		}
		def.index[field.Name] = len(def.fields)
		def.fields = append(def.fields, field)
	}
	return def, nil
}

// MustDefinition is NewDefinition for statically known definitions.
func MustDefinition(key string, logic Logic, fields ...ParameterField) *Definition {
	def, err := NewDefinition(key, logic, fields...)
	if err != nil {
		panic(err)
	}
	return def
}

// Key returns the logic key.
func (d *Definition) Key() string {
	if d == nil {
		return ""
	}
	return d.key
}

// Logic returns the logic variant, nil when the definition has none.
func (d *Definition) Logic() Logic {
	if d == nil {
		return nil
	}
	return d.logic
}

// Fields returns a copy of the declared fields in declaration order.
func (d *Definition) Fields() []ParameterField {
	if d == nil {
		return nil
	}
	return append([]ParameterField(nil), d.fields...)
}

// Field looks up a field by name.
func (d *Definition) Field(name string) (ParameterField, bool) {
	if d == nil {
		return ParameterField{}, false
	}
	idx, ok := d.index[name]
	if !ok {
		return ParameterField{}, false
	}
	return d.fields[idx], true
}
