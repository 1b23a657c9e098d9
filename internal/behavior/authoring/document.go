// Package authoring compiles designer-authored behavior documents into
// behavior definitions.
//
// A document is JSON, YAML or TOML:
//
//	key: trap.punch
//	kind: stateful
//	parameters:
//	  - {name: Strength, type: float, default: 5.0}
//	states:
//	  - name: Idle
//	    on_enter: [{key: _waitStartTime, value: $now}]
//	    transitions:
//	      - to: Punch
//	        when: [{condition: elapsed, args: {start: _waitStartTime, duration: Cooldown}}]
//	  - name: Punch
//	    use: trap.punch.strike
package authoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Document is the on-disk form of one behavior definition.
type Document struct {
	Key        string         `json:"key" yaml:"key" toml:"key" jsonschema:"minLength=1"`
	Kind       string         `json:"kind" yaml:"kind" toml:"kind" jsonschema:"enum=stateful,enum=simple"`
	Use        string         `json:"use,omitempty" yaml:"use,omitempty" toml:"use,omitempty"`
	Parameters []ParameterDoc `json:"parameters,omitempty" yaml:"parameters,omitempty" toml:"parameters,omitempty"`
	States     []StateDoc     `json:"states,omitempty" yaml:"states,omitempty" toml:"states,omitempty"`
}

// ParameterDoc declares a placement-editable parameter.
type ParameterDoc struct {
	Name    string `json:"name" yaml:"name" toml:"name"`
	Type    string `json:"type" yaml:"type" toml:"type"`
	Default any    `json:"default" yaml:"default" toml:"default"`
}

// StateDoc declares one state. Its position in the list is its wire id.
type StateDoc struct {
	Name        string          `json:"name" yaml:"name" toml:"name"`
	Use         string          `json:"use,omitempty" yaml:"use,omitempty" toml:"use,omitempty"`
	OnEnter     []SetDoc        `json:"on_enter,omitempty" yaml:"on_enter,omitempty" toml:"on_enter,omitempty"`
	Transitions []TransitionDoc `json:"transitions,omitempty" yaml:"transitions,omitempty" toml:"transitions,omitempty"`
}

// SetDoc writes Value under Key when the state is entered. The values "$now"
// and "$tick" store the current time and tick.
type SetDoc struct {
	Key   string `json:"key" yaml:"key" toml:"key"`
	Value any    `json:"value" yaml:"value" toml:"value"`
	Type  string `json:"type,omitempty" yaml:"type,omitempty" toml:"type,omitempty"`
}

// TransitionDoc declares an edge guarded by AND-combined conditions.
type TransitionDoc struct {
	To   string         `json:"to" yaml:"to" toml:"to"`
	When []ConditionDoc `json:"when,omitempty" yaml:"when,omitempty" toml:"when,omitempty"`
}

// ConditionDoc references a registered condition.
type ConditionDoc struct {
	Condition string         `json:"condition" yaml:"condition" toml:"condition"`
	Args      map[string]any `json:"args,omitempty" yaml:"args,omitempty" toml:"args,omitempty"`
	Negate    bool           `json:"negate,omitempty" yaml:"negate,omitempty" toml:"negate,omitempty"`
}

// Format is a document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatOf picks the encoding from a file extension.
func FormatOf(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, true
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".toml":
		return FormatTOML, true
	default:
		return "", false
	}
}

// Decode parses data in the given format.
func Decode(format Format, data []byte) (Document, error) {
	var doc Document
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return Document{}, fmt.Errorf("authoring: decode json: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return Document{}, fmt.Errorf("authoring: decode yaml: %w", err)
		}
	case FormatTOML:
		meta, err := toml.Decode(string(data), &doc)
		if err != nil {
			return Document{}, fmt.Errorf("authoring: decode toml: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Document{}, fmt.Errorf("authoring: decode toml: unknown keys %v", undecoded)
		}
	default:
		return Document{}, fmt.Errorf("authoring: unsupported format %q", format)
	}
	return doc, nil
}

// ReadFile decodes the document at path.
func ReadFile(path string) (Document, error) {
	format, ok := FormatOf(path)
	if !ok {
		return Document{}, fmt.Errorf("authoring: %s: unsupported extension", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("authoring: read %s: %w", path, err)
	}
	doc, err := Decode(format, data)
	if err != nil {
		return Document{}, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}
