package fsm

import (
	"context"

	"github.com/eraflo/FallGuys/internal/blackboard"
)

// Action is an out-of-band intent routed to the active state on the server.
type Action struct {
	Name    string
	Payload string
	// Origin names the participant that sent the intent.
	Origin string
}

// Hooks bundles the optional lifecycle callbacks of a state. Nil hooks are
// skipped. Enter hooks receive a context that is cancelled when the state is
// exited.
type Hooks struct {
	OnEnter       func(ctx context.Context, bb *blackboard.Store)
	OnServerEnter func(ctx context.Context, bb *blackboard.Store)
	OnClientEnter func(ctx context.Context, bb *blackboard.Store)

	OnUpdate       func(bb *blackboard.Store)
	OnServerUpdate func(bb *blackboard.Store)
	OnClientUpdate func(bb *blackboard.Store)

	OnExit       func(bb *blackboard.Store)
	OnServerExit func(bb *blackboard.Store)
	OnClientExit func(bb *blackboard.Store)

	OnActionReceived func(bb *blackboard.Store, action Action)
}

// Transition is an edge to Target guarded by AND-combined conditions.
type Transition struct {
	Conditions []Condition
	Target     *State
}

// Evaluate reports whether every condition holds. Transitions without
// conditions are always satisfied and nil conditions are ignored.
func (t Transition) Evaluate(bb *blackboard.Store) bool {
	for _, condition := range t.Conditions {
		if condition == nil {
			continue
		}
		if !condition.Met(bb) {
			return false
		}
	}
	return true
}

// State is a shared, stateless unit of behavior. Its pointer is its identity:
// tables map *State values to wire ids. All per-instance data lives in the
// store passed to the hooks.
type State struct {
	Name        string
	Hooks       Hooks
	Transitions []Transition
}

// NewState constructs a state with the provided hooks.
func NewState(name string, hooks Hooks) *State {
	return &State{Name: name, Hooks: hooks}
}

// To appends a transition to target guarded by conditions and returns the
// state for chaining. Transitions are evaluated in the order they are added.
func (s *State) To(target *State, conditions ...Condition) *State {
	if s == nil {
		return nil
	}
	s.Transitions = append(s.Transitions, Transition{Conditions: conditions, Target: target})
	return s
}

// String returns the state name.
func (s *State) String() string {
	if s == nil {
		return "<nil>"
	}
	return s.Name
}
