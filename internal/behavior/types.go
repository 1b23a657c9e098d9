package behavior

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/eraflo/FallGuys/internal/blackboard"
)

var (
	// ErrUnknownType is returned for type tags without a parser.
	ErrUnknownType = errors.New("behavior: unknown type tag")
	// ErrTypeMismatch is returned when a value or tag does not match the field type.
	ErrTypeMismatch = errors.New("behavior: type mismatch")
)

// TypeTag names a parameter type.
type TypeTag string

const (
	TypeFloat    TypeTag = "float"
	TypeInt      TypeTag = "int"
	TypeBool     TypeTag = "bool"
	TypeString   TypeTag = "string"
	TypeVector2  TypeTag = "vector2"
	TypeVector3  TypeTag = "vector3"
	TypeDuration TypeTag = "duration"
)

// aliases maps accepted spellings, including engine type names found in
// exported level data, onto canonical tags.
var aliases = map[string]TypeTag{
	"float":               TypeFloat,
	"single":              TypeFloat,
	"double":              TypeFloat,
	"float32":             TypeFloat,
	"float64":             TypeFloat,
	"system.single":       TypeFloat,
	"system.double":       TypeFloat,
	"int":                 TypeInt,
	"int32":               TypeInt,
	"int64":               TypeInt,
	"integer":             TypeInt,
	"system.int32":        TypeInt,
	"bool":                TypeBool,
	"boolean":             TypeBool,
	"system.boolean":      TypeBool,
	"string":              TypeString,
	"system.string":       TypeString,
	"vector2":             TypeVector2,
	"vec2":                TypeVector2,
	"unityengine.vector2": TypeVector2,
	"vector3":             TypeVector3,
	"vec3":                TypeVector3,
	"unityengine.vector3": TypeVector3,
	"duration":            TypeDuration,
	"timespan":            TypeDuration,
}

// NormalizeTag resolves raw to its canonical tag. Matching ignores case and
// surrounding space.
func NormalizeTag(raw string) (TypeTag, bool) {
	tag, ok := aliases[strings.ToLower(strings.TrimSpace(raw))]
	return tag, ok
}

// Valid reports whether t is a canonical tag.
func (t TypeTag) Valid() bool {
	_, ok := parsers[t]
	return ok && aliases[string(t)] == t
}

type parser func(raw string) (any, error)

var parsers = map[TypeTag]parser{
	TypeFloat: func(raw string) (any, error) {
		return strconv.ParseFloat(strings.TrimSpace(raw), 64)
	},
	TypeInt: func(raw string) (any, error) {
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		return int(v), err
	},
	TypeBool: func(raw string) (any, error) {
		return strconv.ParseBool(strings.TrimSpace(raw))
	},
	TypeString: func(raw string) (any, error) {
		return raw, nil
	},
	TypeVector2: func(raw string) (any, error) {
		parts, err := components(raw, 2)
		if err != nil {
			return nil, err
		}
		return blackboard.Vec2{X: parts[0], Y: parts[1]}, nil
	},
	TypeVector3: func(raw string) (any, error) {
		parts, err := components(raw, 3)
		if err != nil {
			return nil, err
		}
		return blackboard.Vec3{X: parts[0], Y: parts[1], Z: parts[2]}, nil
	},
	TypeDuration: func(raw string) (any, error) {
		trimmed := strings.TrimSpace(raw)
		if seconds, err := strconv.ParseFloat(trimmed, 64); err == nil {
			nanos := seconds * float64(time.Second)
			if math.IsNaN(nanos) || nanos >= math.MaxInt64 || nanos <= math.MinInt64 {
				return nil, fmt.Errorf("duration %q out of range", raw)
			}
			return time.Duration(nanos), nil
		}
		return time.ParseDuration(trimmed)
	},
}

// components parses "x,y(,z)" with optional surrounding parentheses.
func components(raw string, n int) ([]float64, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "(")
	trimmed = strings.TrimSuffix(trimmed, ")")
	fields := strings.Split(trimmed, ",")
	if len(fields) != n {
		return nil, fmt.Errorf("expected %d components, got %d", n, len(fields))
	}
	out := make([]float64, n)
	for i, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Parse converts raw according to tag. Tags are normalized first.
func Parse(tag string, raw string) (any, error) {
	canonical, ok := NormalizeTag(tag)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownType, tag)
	}
	value, err := parsers[canonical](raw)
	if err != nil {
		return nil, fmt.Errorf("behavior: parse %s %q: %w", canonical, raw, err)
	}
	return value, nil
}

// TagOf returns the tag describing a Go value, as produced by Parse.
func TagOf(value any) (TypeTag, bool) {
	switch value.(type) {
	case float64:
		return TypeFloat, true
	case int:
		return TypeInt, true
	case bool:
		return TypeBool, true
	case string:
		return TypeString, true
	case blackboard.Vec2:
		return TypeVector2, true
	case blackboard.Vec3:
		return TypeVector3, true
	case time.Duration:
		return TypeDuration, true
	default:
		return "", false
	}
}

// Format serializes value into the string form Parse accepts for its tag.
func Format(value any) (TypeTag, string, bool) {
	switch v := value.(type) {
	case float64:
		return TypeFloat, strconv.FormatFloat(v, 'g', -1, 64), true
	case int:
		return TypeInt, strconv.Itoa(v), true
	case bool:
		return TypeBool, strconv.FormatBool(v), true
	case string:
		return TypeString, v, true
	case blackboard.Vec2:
		return TypeVector2, formatComponents(v.X, v.Y), true
	case blackboard.Vec3:
		return TypeVector3, formatComponents(v.X, v.Y, v.Z), true
	case time.Duration:
		return TypeDuration, v.String(), true
	default:
		return "", "", false
	}
}

func formatComponents(values ...float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

// Coerce converts a decoded document value (JSON, YAML or TOML scalar) into
// the Go type of tag.
func Coerce(tag TypeTag, raw any) (any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, fmt.Errorf("%w: missing %s value", ErrTypeMismatch, tag)
	case string:
		return Parse(string(tag), v)
	}
	switch tag {
	case TypeFloat:
		if f, ok := number(raw); ok {
			return f, nil
		}
	case TypeInt:
		if f, ok := number(raw); ok && f == float64(int(f)) {
			return int(f), nil
		}
	case TypeBool:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
	case TypeDuration:
		if f, ok := number(raw); ok {
			return time.Duration(f * float64(time.Second)), nil
		}
	case TypeVector2, TypeVector3:
		if list, ok := raw.([]any); ok {
			parts := make([]string, len(list))
			for i, item := range list {
				parts[i] = fmt.Sprint(item)
			}
			return Parse(string(tag), strings.Join(parts, ","))
		}
	}
	if tagged, ok := TagOf(raw); ok && tagged == tag {
		return raw, nil
	}
	return nil, fmt.Errorf("%w: %T is not a %s", ErrTypeMismatch, raw, tag)
}

func number(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}
