package behavior

import (
	"fmt"

	"github.com/eraflo/FallGuys/internal/blackboard"
)

// Drop reasons reported in Dropped.Reason.
const (
	DropUnknownField = "unknown_field"
	DropUnknownType  = "unknown_type"
	DropTypeMismatch = "type_mismatch"
	DropParseError   = "parse_error"
	DropDuplicate    = "duplicate"
)

// Dropped is an override that could not be applied.
type Dropped struct {
	Record OverrideRecord
	Reason string
	Err    error
}

// Resolution is the outcome of resolving one placement.
type Resolution struct {
	// Values holds the final value of every field.
	Values map[string]any
	// Order lists field names in declaration order.
	Order []string
	// Overridden lists the fields whose default was shadowed.
	Overridden []string
	Dropped    []Dropped
}

// Resolve starts from each field's default and applies the first matching
// override for it. Overrides with an unknown or mismatched tag, an unparsable
// value, or an unknown field name are dropped and reported; the default is
// kept.
func Resolve(def *Definition, overrides []OverrideRecord) Resolution {
	fields := def.Fields()
	res := Resolution{
		Values: make(map[string]any, len(fields)),
		Order:  make([]string, 0, len(fields)),
	}
	for _, field := range fields {
		res.Values[field.Name] = field.Default
		res.Order = append(res.Order, field.Name)
	}

	seen := make(map[string]bool, len(overrides))
	for _, record := range overrides {
		field, ok := def.Field(record.Name)
		if !ok {
			res.Dropped = append(res.Dropped, Dropped{Record: record, Reason: DropUnknownField})
			continue
		}
		if seen[record.Name] {
			res.Dropped = append(res.Dropped, Dropped{Record: record, Reason: DropDuplicate})
			continue
		}
		// The first record for a name decides, even when it fails to parse.
		seen[record.Name] = true
		value, reason, err := parseOverride(field, record)
		if err != nil {
			res.Dropped = append(res.Dropped, Dropped{Record: record, Reason: reason, Err: err})
			continue
		}
		res.Values[field.Name] = value
		res.Overridden = append(res.Overridden, field.Name)
	}
	return res
}

func parseOverride(field ParameterField, record OverrideRecord) (any, string, error) {
	tag, ok := NormalizeTag(record.TypeTag)
	if !ok {
		return nil, DropUnknownType, fmt.Errorf("%w %q", ErrUnknownType, record.TypeTag)
	}
	if tag != field.Type {
		return nil, DropTypeMismatch, fmt.Errorf("%w: field %q is %s, override is %s", ErrTypeMismatch, field.Name, field.Type, tag)
	}
	value, err := Parse(string(tag), record.StringValue)
	if err != nil {
		return nil, DropParseError, err
	}
	return value, "", nil
}

// Apply writes every resolved value into bb under its field name.
func (r Resolution) Apply(bb *blackboard.Store) {
	for _, name := range r.Order {
		bb.Set(name, r.Values[name])
	}
}
