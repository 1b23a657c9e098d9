// Package machine runs a state table for one entity and keeps its active
// state replicated from the server to every client.
package machine

import (
	"context"
	"errors"
	"fmt"

	"github.com/eraflo/FallGuys/internal/blackboard"
	"github.com/eraflo/FallGuys/internal/fsm"
	"github.com/eraflo/FallGuys/internal/replication"
	"github.com/eraflo/FallGuys/internal/telemetry"
	"github.com/eraflo/FallGuys/logging"
	loggingnetwork "github.com/eraflo/FallGuys/logging/network"
	loggingstatemachine "github.com/eraflo/FallGuys/logging/statemachine"
)

// Unset is the replicated id before the first assignment.
const Unset = fsm.NoState

var (
	// ErrNotAuthority is returned when a client tries to decide a state change.
	ErrNotAuthority = errors.New("machine: state change requires server authority")
	// ErrUnknownState is returned for ids outside the state table.
	ErrUnknownState = errors.New("machine: unknown state id")
	// ErrDestroyed is returned once the runtime has been destroyed.
	ErrDestroyed = errors.New("machine: runtime destroyed")
	// ErrNoUplink is returned when a client has no channel to the server.
	ErrNoUplink = errors.New("machine: no uplink to the server")
	// ErrFingerprintMismatch is returned when a replicated update was produced
	// from a different state table definition.
	ErrFingerprintMismatch = errors.New("machine: state table fingerprint mismatch")
)

// Phase is the lifecycle phase of a runtime.
type Phase uint8

const (
	PhaseUninitialized Phase = iota
	PhaseActive
	PhaseTransitioning
	PhaseDestroyed
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseActive:
		return "active"
	case PhaseTransitioning:
		return "transitioning"
	case PhaseDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Config wires a runtime to its entity and transport.
type Config struct {
	Table *fsm.Table
	Store *blackboard.Store

	// Downlink publishes authoritative writes. Used on the server only.
	Downlink replication.Downlink
	// Uplink carries intents to the server. Used on clients only.
	Uplink replication.Uplink

	Logger    telemetry.Logger
	Publisher logging.Publisher

	// Context is the parent of every enter scope. Defaults to Background.
	Context context.Context
}

type transitionKey struct {
	state int32
	index int
}

// Runtime is the state machine of one entity on one participant.
//
// All methods must be called from the entity's simulation goroutine. A state
// change requested while hooks are running is queued and applied once they
// return, so exactly one state is active at any time.
type Runtime struct {
	table    *fsm.Table
	bb       *blackboard.Store
	id       *replication.Scalar[int32]
	downlink replication.Downlink
	uplink   replication.Uplink
	logger   telemetry.Logger
	pub      logging.Publisher
	parent   context.Context
	actor    logging.EntityRef

	phase    Phase
	spawned  bool
	active   *fsm.State
	activeID int32
	previous int32
	scope    context.Context
	cancel   context.CancelFunc
	seq      uint64

	busy     bool
	pending  []int32
	reported map[transitionKey]struct{}
	unsub    func()
}

// New constructs a runtime in the Uninitialized phase.
func New(cfg Config) *Runtime {
	bb := cfg.Store
	if bb == nil {
		bb = blackboard.New("", blackboard.Role{})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.Nop()
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = logging.NopPublisher()
	}
	parent := cfg.Context
	if parent == nil {
		parent = context.Background()
	}
	r := &Runtime{
		table:    cfg.Table,
		bb:       bb,
		id:       replication.NewScalar(Unset, bb.IsServer()),
		downlink: cfg.Downlink,
		uplink:   cfg.Uplink,
		logger:   logger,
		pub:      pub,
		parent:   parent,
		actor:    logging.Entity(string(bb.Owner())),
		activeID: Unset,
		previous: Unset,
		reported: make(map[transitionKey]struct{}),
	}
	r.id.Forward(r.publish)
	r.unsub = r.id.OnChange(func(_, next int32) {
		if r.spawned && r.phase != PhaseDestroyed {
			r.switchTo(next)
		}
	})
	return r
}

// Table returns the bound state table.
func (r *Runtime) Table() *fsm.Table { return r.table }

// Store returns the entity's store.
func (r *Runtime) Store() *blackboard.Store { return r.bb }

// Phase reports the lifecycle phase.
func (r *Runtime) Phase() Phase { return r.phase }

// Spawned reports whether Spawn has run.
func (r *Runtime) Spawned() bool { return r.spawned }

// CurrentID returns the replicated state id, Unset before the first assignment.
func (r *Runtime) CurrentID() int32 { return r.id.Value() }

// ActiveID returns the id of the state whose hooks are live, or Unset.
func (r *Runtime) ActiveID() int32 {
	if r.active == nil {
		return Unset
	}
	return r.activeID
}

// Active returns the live state or nil.
func (r *Runtime) Active() *fsm.State { return r.active }

// Seq returns the sequence number of the last write produced or applied.
func (r *Runtime) Seq() uint64 { return r.seq }

// Scope returns the cancellation scope of the active state, or nil.
func (r *Runtime) Scope() context.Context { return r.scope }

// Snapshot describes the replicated value for late joiners.
func (r *Runtime) Snapshot() replication.StateUpdate {
	return replication.StateUpdate{
		Entity:      r.bb.Owner(),
		ID:          r.id.Value(),
		Seq:         r.seq,
		Tick:        r.bb.Tick(),
		Fingerprint: r.table.Fingerprint(),
	}
}

// Restore seeds the replicated value before Spawn, as when a server rebuilds
// an entity from a snapshot. No hooks run.
func (r *Runtime) Restore(id int32, seq uint64) {
	if r.spawned {
		return
	}
	r.id.Restore(id)
	r.seq = seq
}

// Spawn starts the runtime. A replica that already holds a state id enters it
// directly; otherwise the server assigns the first state of the table. An
// empty table leaves the runtime Uninitialized.
func (r *Runtime) Spawn() error {
	if r.phase == PhaseDestroyed {
		return ErrDestroyed
	}
	if r.spawned {
		return nil
	}
	r.spawned = true
	if r.table.Len() == 0 {
		r.configError("", "", "state table has no states")
		return nil
	}
	if current := r.id.Value(); current != Unset {
		r.switchTo(current)
		return nil
	}
	if r.bb.IsServer() {
		return r.ChangeState(0)
	}
	return nil
}

// Destroy exits the active state and makes the runtime terminal.
func (r *Runtime) Destroy() {
	if r.phase == PhaseDestroyed {
		return
	}
	r.pending = nil
	r.busy = true
	r.exit()
	r.busy = false
	r.pending = nil
	r.phase = PhaseDestroyed
	if r.unsub != nil {
		r.unsub()
	}
}

// ChangeState asks the runtime to switch to id. Only the server may decide;
// clients get ErrNotAuthority and the request is logged.
func (r *Runtime) ChangeState(id int32) error {
	if r.phase == PhaseDestroyed {
		return ErrDestroyed
	}
	if !r.bb.IsServer() {
		r.logger.Printf("[machine] entity %s: client change_state(%d) rejected", r.bb.Owner(), id)
		loggingstatemachine.ChangeRejected(r.parent, r.pub, r.bb.Tick(), r.actor, loggingstatemachine.ChangeRejectedPayload{
			Requested: id,
			Current:   r.id.Value(),
			Role:      r.bb.Role().String(),
			Reason:    "not_authority",
		}, nil)
		return ErrNotAuthority
	}
	if !r.table.Valid(id) {
		return fmt.Errorf("%w: %d (table %q has %d states)", ErrUnknownState, id, r.table.Name(), r.table.Len())
	}
	if r.busy {
		r.pending = append(r.pending, id)
		return nil
	}
	return r.id.Write(id)
}

// Tick runs one simulation step: the shared update hook, then the role hook,
// then on the server the transition scan of the active state.
func (r *Runtime) Tick(tick uint64) {
	r.bb.SetTick(tick)
	if !r.spawned || r.phase == PhaseDestroyed || r.active == nil {
		return
	}
	state := r.active
	r.busy = true
	if fn := state.Hooks.OnUpdate; fn != nil {
		fn(r.bb)
	}
	if r.bb.IsServer() {
		if fn := state.Hooks.OnServerUpdate; fn != nil {
			fn(r.bb)
		}
	} else if fn := state.Hooks.OnClientUpdate; fn != nil {
		fn(r.bb)
	}
	r.busy = false
	if len(r.pending) > 0 {
		r.drain()
		return
	}
	if r.bb.IsServer() {
		r.evaluate()
	}
}

// evaluate fires the first satisfied transition with a registered target.
func (r *Runtime) evaluate() {
	state := r.active
	for idx, transition := range state.Transitions {
		targetID := r.table.ID(transition.Target)
		if targetID == fsm.NoState {
			r.reportTransition(idx, transition.Target)
			continue
		}
		if !transition.Evaluate(r.bb) {
			continue
		}
		if transition.Target == state {
			return
		}
		if err := r.ChangeState(targetID); err != nil {
			r.logger.Printf("[machine] entity %s: transition %s -> %s: %v", r.bb.Owner(), state.Name, transition.Target.Name, err)
		}
		return
	}
}

func (r *Runtime) reportTransition(idx int, target *fsm.State) {
	key := transitionKey{state: r.activeID, index: idx}
	if _, seen := r.reported[key]; seen {
		return
	}
	r.reported[key] = struct{}{}
	reference := "<nil>"
	reason := "transition target is nil"
	if target != nil {
		reference = target.Name
		reason = "transition target is not registered in the table"
	}
	r.configError(r.active.Name, reference, reason)
}

func (r *Runtime) configError(state, reference, reason string) {
	r.logger.Printf("[machine] entity %s: table %q: %s (state=%q ref=%q)", r.bb.Owner(), r.table.Name(), reason, state, reference)
	loggingstatemachine.ConfigError(r.parent, r.pub, r.bb.Tick(), r.actor, loggingstatemachine.ConfigErrorPayload{
		Table:     r.table.Name(),
		State:     state,
		Reference: reference,
		Reason:    reason,
	}, nil)
}

// publish forwards an authoritative write to the downlink.
func (r *Runtime) publish(id int32) {
	r.seq++
	if r.downlink == nil {
		return
	}
	r.downlink.Publish(replication.StateUpdate{
		Entity:      r.bb.Owner(),
		ID:          id,
		Seq:         r.seq,
		Tick:        r.bb.Tick(),
		Fingerprint: r.table.Fingerprint(),
	})
}

// ApplyUpdate applies an authoritative update on a client and reports whether
// it was accepted. Updates older than the last applied sequence are dropped;
// value-equal updates are accepted but run no hooks. The server ignores
// updates.
func (r *Runtime) ApplyUpdate(update replication.StateUpdate) (bool, error) {
	if r.phase == PhaseDestroyed {
		return false, ErrDestroyed
	}
	if r.bb.IsServer() {
		return false, nil
	}
	if update.Fingerprint != 0 && update.Fingerprint != r.table.Fingerprint() {
		r.configError("", fmt.Sprintf("%016x", update.Fingerprint), "replicated table fingerprint differs from local table")
		return false, ErrFingerprintMismatch
	}
	if update.Seq != 0 && update.Seq <= r.seq {
		loggingnetwork.UpdateDropped(r.parent, r.pub, r.bb.Tick(), r.actor, loggingnetwork.UpdateDroppedPayload{
			Seq:     update.Seq,
			Applied: r.seq,
		}, nil)
		return false, nil
	}
	if update.Seq != 0 {
		r.seq = update.Seq
	}
	if update.ID != Unset && !r.table.Valid(update.ID) {
		r.configError("", fmt.Sprint(update.ID), "replicated state id outside the table")
	}
	if !r.spawned {
		r.id.Restore(update.ID)
		return true, nil
	}
	r.id.Receive(update.ID)
	return true, nil
}

// switchTo exits the live state and enters the state at next.
func (r *Runtime) switchTo(next int32) {
	if r.busy {
		// Receiving a value while hooks run only happens on clients; the
		// server queues in ChangeState.
		r.pending = append(r.pending, next)
		return
	}
	r.busy = true
	if r.active != nil {
		r.phase = PhaseTransitioning
		r.exit()
	}
	r.enter(next)
	r.busy = false
	r.drain()
}

func (r *Runtime) drain() {
	for len(r.pending) > 0 && r.phase != PhaseDestroyed {
		next := r.pending[0]
		r.pending = r.pending[1:]
		if r.bb.IsServer() {
			if err := r.ChangeState(next); err != nil {
				r.logger.Printf("[machine] entity %s: queued change_state(%d): %v", r.bb.Owner(), next, err)
			}
			continue
		}
		if next != r.ActiveID() {
			r.switchTo(next)
		}
	}
}

func (r *Runtime) enter(id int32) {
	state := r.table.State(id)
	previous := r.previous
	if state == nil {
		r.active = nil
		r.activeID = Unset
		r.phase = PhaseUninitialized
		return
	}
	r.scope, r.cancel = context.WithCancel(r.parent)
	r.active = state
	r.activeID = id
	r.phase = PhaseActive

	hooks := state.Hooks
	if hooks.OnEnter != nil {
		hooks.OnEnter(r.scope, r.bb)
	}
	if r.bb.IsServer() {
		if hooks.OnServerEnter != nil {
			hooks.OnServerEnter(r.scope, r.bb)
		}
	} else if hooks.OnClientEnter != nil {
		hooks.OnClientEnter(r.scope, r.bb)
	}
	loggingstatemachine.StateEntered(r.parent, r.pub, r.bb.Tick(), r.actor, loggingstatemachine.StatePayload{
		Table:    r.table.Name(),
		ID:       id,
		Name:     state.Name,
		Previous: previous,
	}, nil)
}

func (r *Runtime) exit() {
	state := r.active
	if state == nil {
		return
	}
	if r.cancel != nil {
		r.cancel()
	}
	hooks := state.Hooks
	if r.bb.IsServer() {
		if hooks.OnServerExit != nil {
			hooks.OnServerExit(r.bb)
		}
	} else if hooks.OnClientExit != nil {
		hooks.OnClientExit(r.bb)
	}
	if hooks.OnExit != nil {
		hooks.OnExit(r.bb)
	}
	loggingstatemachine.StateExited(r.parent, r.pub, r.bb.Tick(), r.actor, loggingstatemachine.StatePayload{
		Table:    r.table.Name(),
		ID:       r.activeID,
		Name:     state.Name,
		Previous: r.previous,
	}, nil)
	r.previous = r.activeID
	r.active = nil
	r.activeID = Unset
	r.scope = nil
	r.cancel = nil
	r.phase = PhaseUninitialized
}
