package blackboard

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"
)

// Handle identifies the entity that owns a store. It is opaque to the core.
type Handle string

// Role captures the network role of the participant executing an entity's hooks.
type Role struct {
	Server bool
	Client bool
	Owner  bool
}

// ServerRole returns the role of a dedicated server participant.
func ServerRole() Role {
	return Role{Server: true}
}

// ClientRole returns the role of a remote client, optionally owning the entity.
func ClientRole(owner bool) Role {
	return Role{Client: true, Owner: owner}
}

// HostRole returns the role of a participant acting as server and client at once.
func HostRole(owner bool) Role {
	return Role{Server: true, Client: true, Owner: owner}
}

// String renders the role for log lines.
func (r Role) String() string {
	switch {
	case r.Server && r.Client:
		return "host"
	case r.Server:
		return "server"
	case r.Client:
		return "client"
	default:
		return "offline"
	}
}

// Clock supplies wall-clock time to hooks and conditions.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Store is the per-entity blackboard. Shared definitions never hold mutable
// data; everything an instance needs at runtime lives here.
//
// A store is mutated only by its own entity's hooks on the participant's
// simulation goroutine, so it carries no lock.
type Store struct {
	owner Handle
	role  Role
	clock Clock
	tick  uint64
	data  map[string]any
}

// New constructs an empty store for the provided owner and role.
func New(owner Handle, role Role) *Store {
	return &Store{
		owner: owner,
		role:  role,
		clock: systemClock{},
		data:  make(map[string]any),
	}
}

// WithClock replaces the clock used by Now. A nil clock restores the system clock.
func (s *Store) WithClock(clock Clock) *Store {
	if s == nil {
		return nil
	}
	if clock == nil {
		clock = systemClock{}
	}
	s.clock = clock
	return s
}

// Owner returns the handle of the entity owning this store.
func (s *Store) Owner() Handle {
	if s == nil {
		return ""
	}
	return s.owner
}

// Role returns the participant role the store was created with.
func (s *Store) Role() Role {
	if s == nil {
		return Role{}
	}
	return s.role
}

// IsServer reports whether hooks run on the authoritative participant.
func (s *Store) IsServer() bool { return s != nil && s.role.Server }

// IsClient reports whether hooks run on a client participant.
func (s *Store) IsClient() bool { return s != nil && s.role.Client }

// IsOwner reports whether this participant controls the entity.
func (s *Store) IsOwner() bool { return s != nil && s.role.Owner }

// Tick returns the simulation tick currently being executed.
func (s *Store) Tick() uint64 {
	if s == nil {
		return 0
	}
	return s.tick
}

// SetTick records the tick being executed. Runtimes call it before running hooks.
func (s *Store) SetTick(tick uint64) {
	if s == nil {
		return
	}
	s.tick = tick
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time {
	if s == nil || s.clock == nil {
		return time.Now()
	}
	return s.clock.Now()
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(key string, value any) {
	if s == nil {
		return
	}
	s.data[key] = value
}

// Value returns the raw value stored under key.
func (s *Store) Value(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	value, ok := s.data[key]
	return value, ok
}

// Has reports whether key is present.
func (s *Store) Has(key string) bool {
	_, ok := s.Value(key)
	return ok
}

// Delete removes key from the store.
func (s *Store) Delete(key string) {
	if s == nil {
		return
	}
	delete(s.data, key)
}

// Len reports the number of stored keys.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.data)
}

// Keys returns the stored keys in lexical order.
func (s *Store) Keys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Close releases every stored value implementing io.Closer and clears the
// store. Release failures are joined and returned for the caller to report.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, key := range s.Keys() {
		closer, ok := s.data[key].(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("release %q: %w", key, err))
		}
	}
	s.data = make(map[string]any)
	return errors.Join(errs...)
}

// Get returns the value stored under key as T. Absent keys and values of a
// different type yield def; Get never fails.
func Get[T any](s *Store, key string, def T) T {
	raw, ok := s.Value(key)
	if !ok {
		return def
	}
	value, ok := raw.(T)
	if !ok {
		return def
	}
	return value
}

// Float returns a numeric value under key widened to float64. Integer values
// stored by overrides or hooks are accepted.
func Float(s *Store, key string, def float64) float64 {
	value, ok := Number(s, key)
	if !ok {
		return def
	}
	return value
}

// Number returns the numeric value under key widened to float64 and whether
// the key held a number at all. Durations widen to seconds.
func Number(s *Store, key string) (float64, bool) {
	raw, ok := s.Value(key)
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case time.Duration:
		return v.Seconds(), true
	default:
		return 0, false
	}
}
