// Package replication provides the server-authoritative replicated scalar and
// the message types exchanged between participants.
package replication

import "errors"

// ErrWriteDenied is returned when a non-authoritative replica attempts a write.
var ErrWriteDenied = errors.New("replication: write denied on non-authoritative replica")

// ChangeFunc observes a value change.
type ChangeFunc[T comparable] func(prev, next T)

// Scalar is a replicated value. Only the authoritative replica writes it;
// every other replica applies values received from the transport. Listeners
// fire on every replica, the authority included, and only when the value
// actually changes.
//
// A Scalar belongs to one entity and is touched only by that entity's
// simulation goroutine, so it carries no lock.
type Scalar[T comparable] struct {
	value     T
	authority bool
	listeners []subscription[T]
	nextID    int
	forward   func(T)
}

type subscription[T comparable] struct {
	id int
	fn ChangeFunc[T]
}

// NewScalar constructs a replica holding initial.
func NewScalar[T comparable](initial T, authority bool) *Scalar[T] {
	return &Scalar[T]{value: initial, authority: authority}
}

// Value returns the current value.
func (s *Scalar[T]) Value() T {
	return s.value
}

// Authority reports whether this replica may write.
func (s *Scalar[T]) Authority() bool {
	return s.authority
}

// Forward registers the function invoked with each authoritative write before
// listeners run. Transports use it to publish the new value.
func (s *Scalar[T]) Forward(fn func(T)) {
	s.forward = fn
}

// OnChange registers fn and returns a function removing it.
func (s *Scalar[T]) OnChange(fn ChangeFunc[T]) func() {
	if fn == nil {
		return func() {}
	}
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, subscription[T]{id: id, fn: fn})
	return func() {
		for i, sub := range s.listeners {
			if sub.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// Write sets the value on the authoritative replica. Writing the current value
// is a no-op.
func (s *Scalar[T]) Write(next T) error {
	if !s.authority {
		return ErrWriteDenied
	}
	if next == s.value {
		return nil
	}
	prev := s.value
	s.value = next
	if s.forward != nil {
		s.forward(next)
	}
	s.notify(prev, next)
	return nil
}

// Receive applies a value delivered by the transport and reports whether it
// changed the replica. The authoritative replica ignores received values.
func (s *Scalar[T]) Receive(next T) bool {
	if s.authority || next == s.value {
		return false
	}
	prev := s.value
	s.value = next
	s.notify(prev, next)
	return true
}

// Restore sets the value without notifying listeners or forwarding. It seeds
// a replica from a snapshot before its owner is spawned.
func (s *Scalar[T]) Restore(value T) {
	s.value = value
}

func (s *Scalar[T]) notify(prev, next T) {
	listeners := append([]subscription[T](nil), s.listeners...)
	for _, sub := range listeners {
		sub.fn(prev, next)
	}
}
