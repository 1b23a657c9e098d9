package fsm

import "github.com/eraflo/FallGuys/internal/blackboard"

// Condition is a predicate over an entity's store. Implementations must not
// mutate the store; the runtime evaluates them on the server only.
type Condition interface {
	Met(bb *blackboard.Store) bool
}

// ConditionFunc adapts a function into a Condition.
type ConditionFunc func(bb *blackboard.Store) bool

// Met implements Condition. A nil function is never satisfied.
func (f ConditionFunc) Met(bb *blackboard.Store) bool {
	if f == nil {
		return false
	}
	return f(bb)
}

// All is satisfied when every non-nil condition is satisfied. An empty set is
// trivially satisfied.
func All(conditions ...Condition) Condition {
	return ConditionFunc(func(bb *blackboard.Store) bool {
		for _, condition := range conditions {
			if condition == nil {
				continue
			}
			if !condition.Met(bb) {
				return false
			}
		}
		return true
	})
}

// Any is satisfied when at least one non-nil condition is satisfied.
func Any(conditions ...Condition) Condition {
	return ConditionFunc(func(bb *blackboard.Store) bool {
		for _, condition := range conditions {
			if condition != nil && condition.Met(bb) {
				return true
			}
		}
		return false
	})
}

// Not inverts a condition. Not(nil) is always satisfied.
func Not(condition Condition) Condition {
	return ConditionFunc(func(bb *blackboard.Store) bool {
		if condition == nil {
			return true
		}
		return !condition.Met(bb)
	})
}
