// Package conditions provides reusable predicates for composing transitions.
package conditions

import (
	"time"

	"github.com/eraflo/FallGuys/internal/blackboard"
	"github.com/eraflo/FallGuys/internal/fsm"
)

// Op enumerates numeric comparison operators.
type Op string

const (
	OpEqual        Op = "=="
	OpNotEqual     Op = "!="
	OpLess         Op = "<"
	OpLessEqual    Op = "<="
	OpGreater      Op = ">"
	OpGreaterEqual Op = ">="
)

// Valid reports whether the operator is supported.
func (op Op) Valid() bool {
	switch op {
	case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		return true
	default:
		return false
	}
}

// HasKey is satisfied when key is present in the store.
func HasKey(key string) fsm.Condition {
	return fsm.ConditionFunc(func(bb *blackboard.Store) bool {
		return bb.Has(key)
	})
}

// Flag is satisfied when key holds the boolean true.
func Flag(key string) fsm.Condition {
	return fsm.ConditionFunc(func(bb *blackboard.Store) bool {
		return blackboard.Get(bb, key, false)
	})
}

// Compare compares the numeric value under key against value. Absent or
// non-numeric keys never satisfy the comparison.
func Compare(key string, op Op, value float64) fsm.Condition {
	return fsm.ConditionFunc(func(bb *blackboard.Store) bool {
		current, ok := blackboard.Number(bb, key)
		if !ok {
			return false
		}
		switch op {
		case OpEqual:
			return current == value
		case OpNotEqual:
			return current != value
		case OpLess:
			return current < value
		case OpLessEqual:
			return current <= value
		case OpGreater:
			return current > value
		case OpGreaterEqual:
			return current >= value
		default:
			return false
		}
	})
}

// Equals is satisfied when the value under key equals value.
func Equals(key string, value any) fsm.Condition {
	return fsm.ConditionFunc(func(bb *blackboard.Store) bool {
		current, ok := bb.Value(key)
		if !ok {
			return false
		}
		defer func() { _ = recover() }()
		return current == value
	})
}

// NonZero is satisfied when key holds a non-zero vector or number.
func NonZero(key string) fsm.Condition {
	return fsm.ConditionFunc(func(bb *blackboard.Store) bool {
		raw, ok := bb.Value(key)
		if !ok {
			return false
		}
		switch v := raw.(type) {
		case blackboard.Vec2:
			return !v.IsZero()
		case blackboard.Vec3:
			return !v.IsZero()
		case bool:
			return v
		case string:
			return v != ""
		}
		return blackboard.Float(bb, key, 0) != 0
	})
}

// Elapsed is satisfied once the store clock has passed the time.Time stored
// under startKey by the duration stored under durationKey. Durations may be
// stored as time.Duration or as seconds; fallback applies when durationKey is
// absent. It is false until startKey is set.
func Elapsed(startKey, durationKey string, fallback time.Duration) fsm.Condition {
	return fsm.ConditionFunc(func(bb *blackboard.Store) bool {
		start := blackboard.Get(bb, startKey, time.Time{})
		if start.IsZero() {
			return false
		}
		wait := fallback
		if raw, ok := bb.Value(durationKey); ok && durationKey != "" {
			if d, isDuration := raw.(time.Duration); isDuration {
				wait = d
			} else if seconds, isNumber := blackboard.Number(bb, durationKey); isNumber {
				wait = time.Duration(seconds * float64(time.Second))
			}
		}
		return !bb.Now().Before(start.Add(wait))
	})
}

// TicksElapsed is satisfied once ticks simulation ticks have passed since the
// uint64 tick stored under startKey.
func TicksElapsed(startKey string, ticks uint64) fsm.Condition {
	return fsm.ConditionFunc(func(bb *blackboard.Store) bool {
		if !bb.Has(startKey) {
			return false
		}
		start := blackboard.Get(bb, startKey, uint64(0))
		return bb.Tick() >= start+ticks
	})
}

// ServerOnly is satisfied only on the authoritative participant.
func ServerOnly() fsm.Condition {
	return fsm.ConditionFunc(func(bb *blackboard.Store) bool { return bb.IsServer() })
}

// ClientOnly is satisfied only on client participants.
func ClientOnly() fsm.Condition {
	return fsm.ConditionFunc(func(bb *blackboard.Store) bool { return bb.IsClient() })
}

// OwnerOnly is satisfied only on the participant owning the entity.
func OwnerOnly() fsm.Condition {
	return fsm.ConditionFunc(func(bb *blackboard.Store) bool { return bb.IsOwner() })
}
