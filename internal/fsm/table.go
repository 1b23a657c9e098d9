package fsm

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// NoState is the wire id of "no state": the sentinel before the first
// assignment and the result of looking up an unregistered state.
const NoState int32 = -1

// Table is an ordered registry of states. A state's position is its wire id,
// so every participant must build the table from the same definition.
type Table struct {
	name        string
	states      []*State
	index       map[*State]int32
	fingerprint uint64
}

// NewTable registers states in order. Nil entries, repeated states and
// duplicate names are rejected. A table without states is valid and leaves
// runtimes bound to it uninitialized.
func NewTable(name string, states ...*State) (*Table, error) {
	table := &Table{
		name:   name,
		states: make([]*State, 0, len(states)),
		index:  make(map[*State]int32, len(states)),
	}
	names := make(map[string]int, len(states))
	digest := xxhash.New()
	_, _ = digest.WriteString(name)
	for idx, state := range states {
		if state == nil {
			return nil, fmt.Errorf("fsm: table %q: state %d is nil", name, idx)
		}
		if _, exists := table.index[state]; exists {
			return nil, fmt.Errorf("fsm: table %q: state %q registered twice", name, state.Name)
		}
		key := strings.ToLower(strings.TrimSpace(state.Name))
		if prev, exists := names[key]; exists && key != "" {
			return nil, fmt.Errorf("fsm: table %q: duplicate state name %q at %d and %d", name, state.Name, prev, idx)
		}
		names[key] = idx
		table.index[state] = int32(idx)
		table.states = append(table.states, state)
		_, _ = digest.WriteString("\x00")
		_, _ = digest.WriteString(state.Name)
	}
	table.fingerprint = digest.Sum64()
	return table, nil
}

// MustTable is NewTable for statically known tables; it panics on error.
func MustTable(name string, states ...*State) *Table {
	table, err := NewTable(name, states...)
	if err != nil {
		panic(err)
	}
	return table
}

// Name returns the table name.
func (t *Table) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}

// Len reports the number of registered states.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.states)
}

// State returns the state registered at id, or nil when id is out of range.
func (t *Table) State(id int32) *State {
	if t == nil || id < 0 || int(id) >= len(t.states) {
		return nil
	}
	return t.states[id]
}

// ID returns the wire id of state, or NoState when it is not registered.
func (t *Table) ID(state *State) int32 {
	if t == nil || state == nil {
		return NoState
	}
	id, ok := t.index[state]
	if !ok {
		return NoState
	}
	return id
}

// Valid reports whether id addresses a registered state.
func (t *Table) Valid(id int32) bool {
	return t.State(id) != nil
}

// StateName returns the name at id or an empty string.
func (t *Table) StateName(id int32) string {
	state := t.State(id)
	if state == nil {
		return ""
	}
	return state.Name
}

// Names returns a copy of the state names in id order.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.states))
	for i, state := range t.states {
		out[i] = state.Name
	}
	return out
}

// Fingerprint hashes the table name and ordered state names. Participants
// compare fingerprints to detect tables built from diverging definitions.
func (t *Table) Fingerprint() uint64 {
	if t == nil {
		return 0
	}
	return t.fingerprint
}
