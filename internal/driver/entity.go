package driver

import (
	"context"
	"errors"
	"fmt"

	"github.com/eraflo/FallGuys/internal/behavior"
	"github.com/eraflo/FallGuys/internal/blackboard"
	"github.com/eraflo/FallGuys/internal/machine"
	"github.com/eraflo/FallGuys/internal/observability"
	"github.com/eraflo/FallGuys/internal/replication"
	"github.com/eraflo/FallGuys/logging"
	loggingbehavior "github.com/eraflo/FallGuys/logging/behavior"
)

// Reasons reported when an entity is disabled.
const (
	ReasonMissingLogicKey     = "missing_logic_key"
	ReasonUnknownLogic        = "unknown_logic"
	ReasonNoLogic             = "no_logic"
	ReasonEmptyTable          = "empty_state_table"
	ReasonFingerprintMismatch = "fingerprint_mismatch"
	ReasonHookPanic           = "hook_panic"
)

var (
	// ErrDisabled is returned for intents and updates sent to a disabled entity.
	ErrDisabled = errors.New("driver: entity disabled")
	// ErrNotStateful is returned when a state machine operation reaches a
	// simple behavior.
	ErrNotStateful = errors.New("driver: entity has no state machine")
)

// Entity is one placed entity on one participant. Its methods must be called
// from the simulation goroutine.
type Entity struct {
	ctx       *Context
	placement Placement
	actor     logging.EntityRef

	bb      *blackboard.Store
	def     *behavior.Definition
	runtime *machine.Runtime
	simple  behavior.Simple

	spawned   bool
	destroyed bool
	disabled  bool
	reason    string

	pending *replication.StateUpdate
	restore *replication.StateUpdate
}

// Handle returns the entity handle.
func (e *Entity) Handle() blackboard.Handle { return e.placement.Handle }

// Placement returns the placement the entity was built from.
func (e *Entity) Placement() Placement { return e.placement }

// Store returns the entity's store, nil before Spawn.
func (e *Entity) Store() *blackboard.Store { return e.bb }

// Definition returns the resolved definition, nil before Spawn or when the
// logic key could not be resolved.
func (e *Entity) Definition() *behavior.Definition { return e.def }

// Runtime returns the state machine of a stateful entity.
func (e *Entity) Runtime() *machine.Runtime { return e.runtime }

// Spawned reports whether Spawn ran.
func (e *Entity) Spawned() bool { return e.spawned }

// Destroyed reports whether Destroy ran.
func (e *Entity) Destroyed() bool { return e.destroyed }

// Disabled reports whether the entity is inert.
func (e *Entity) Disabled() bool { return e.disabled }

// Reason returns why the entity was disabled.
func (e *Entity) Reason() string { return e.reason }

// Snapshot returns the replicated state of a stateful entity.
func (e *Entity) Snapshot() (replication.StateUpdate, bool) {
	if e.runtime == nil {
		return replication.StateUpdate{}, false
	}
	return e.runtime.Snapshot(), true
}

// Restore seeds the replicated state before Spawn, as when a server rebuilds
// an entity from a snapshot.
func (e *Entity) Restore(id int32, seq uint64) {
	if e.spawned {
		return
	}
	e.restore = &replication.StateUpdate{Entity: e.Handle(), ID: id, Seq: seq}
}

// Spawn resolves the entity's behavior and starts it. ctx is the parent of
// every state scope the entity opens. Misconfiguration disables the entity
// instead of failing.
func (e *Entity) Spawn(ctx context.Context) (err error) {
	if e.destroyed {
		return machine.ErrDestroyed
	}
	if e.spawned {
		return nil
	}
	ctx, span := e.ctx.Tracer.Start(ctx, "driver.spawn",
		observability.Entity(string(e.Handle())),
		observability.LogicKey(e.placement.LogicKey),
	)
	defer func() { observability.End(span, err) }()

	e.spawned = true
	e.bb = blackboard.New(e.Handle(), e.ctx.role(e.placement.Owner)).WithClock(e.ctx.Clock)

	if e.placement.LogicKey == "" {
		e.Disable(ReasonMissingLogicKey)
		return nil
	}
	def, lookupErr := e.ctx.Catalog.Lookup(e.placement.LogicKey)
	if lookupErr != nil {
		e.ctx.logger().Printf("[driver] entity %s: %v", e.Handle(), lookupErr)
		e.Disable(ReasonUnknownLogic)
		return nil
	}
	e.def = def

	resolution := behavior.Resolve(def, e.placement.Overrides)
	resolution.Apply(e.bb)
	e.reportDropped(ctx, resolution.Dropped)

	kind := ""
	if logic := def.Logic(); logic != nil {
		kind = string(logic.Kind())
	}
	loggingbehavior.Resolved(ctx, e.ctx.publisher(), e.bb.Tick(), e.actor, loggingbehavior.ResolvedPayload{
		LogicKey:   def.Key(),
		Kind:       kind,
		Parameters: len(resolution.Order),
		Overrides:  len(resolution.Overridden),
	}, nil)
	if fn := e.ctx.Hooks.OnResolved; fn != nil {
		fn(e.Handle(), def)
	}

	switch logic := def.Logic().(type) {
	case behavior.Stateful:
		return e.spawnStateful(ctx, logic)
	case behavior.Simple:
		e.simple = logic
		if logic.Start != nil {
			logic.Start(e.bb)
		}
		return nil
	default:
		e.Disable(ReasonNoLogic)
		return nil
	}
}

func (e *Entity) spawnStateful(ctx context.Context, logic behavior.Stateful) error {
	e.runtime = machine.New(machine.Config{
		Table:     logic.Table,
		Store:     e.bb,
		Downlink:  e.ctx.Downlink,
		Uplink:    e.ctx.Uplink,
		Logger:    e.ctx.logger(),
		Publisher: e.ctx.publisher(),
		Context:   ctx,
	})
	if e.restore != nil {
		e.runtime.Restore(e.restore.ID, e.restore.Seq)
		e.restore = nil
	}
	if e.pending != nil {
		update := *e.pending
		e.pending = nil
		if _, err := e.runtime.ApplyUpdate(update); errors.Is(err, machine.ErrFingerprintMismatch) {
			e.Disable(ReasonFingerprintMismatch)
			return nil
		}
	}
	if err := e.runtime.Spawn(); err != nil {
		return fmt.Errorf("driver: spawn %s: %w", e.Handle(), err)
	}
	if logic.Table.Len() == 0 {
		e.Disable(ReasonEmptyTable)
	}
	return nil
}

func (e *Entity) reportDropped(ctx context.Context, dropped []behavior.Dropped) {
	for _, drop := range dropped {
		severity := logging.SeverityWarn
		if drop.Reason == behavior.DropUnknownField {
			severity = logging.SeverityDebug
		} else {
			e.ctx.logger().Printf("[driver] entity %s: override %q dropped (%s): %v", e.Handle(), drop.Record.Name, drop.Reason, drop.Err)
		}
		loggingbehavior.OverrideDropped(ctx, e.ctx.publisher(), e.bb.Tick(), e.actor, loggingbehavior.OverrideDroppedPayload{
			LogicKey: e.def.Key(),
			Name:     drop.Record.Name,
			TypeTag:  drop.Record.TypeTag,
			Value:    drop.Record.StringValue,
			Reason:   drop.Reason,
		}, severity, nil)
	}
}

// Advance runs one tick of the entity's behavior. Disabled, unspawned and
// destroyed entities do nothing.
func (e *Entity) Advance(tick uint64) {
	if !e.spawned || e.disabled || e.destroyed {
		return
	}
	if e.runtime != nil {
		e.runtime.Tick(tick)
		return
	}
	e.bb.SetTick(tick)
	if e.simple.Update != nil {
		e.simple.Update(e.bb)
	}
}

// ApplyUpdate applies an authoritative state update on a client. Updates
// arriving before Spawn are kept and applied at spawn so late joiners enter
// the current state directly.
func (e *Entity) ApplyUpdate(update replication.StateUpdate) (bool, error) {
	switch {
	case e.destroyed:
		return false, machine.ErrDestroyed
	case e.disabled:
		return false, ErrDisabled
	case !e.spawned:
		if e.pending == nil || update.Seq == 0 || update.Seq > e.pending.Seq {
			e.pending = &update
		}
		return true, nil
	case e.runtime == nil:
		return false, ErrNotStateful
	}
	applied, err := e.runtime.ApplyUpdate(update)
	if errors.Is(err, machine.ErrFingerprintMismatch) {
		e.Disable(ReasonFingerprintMismatch)
	}
	return applied, err
}

// HandleIntent delivers a client intent to the server-side runtime.
func (e *Entity) HandleIntent(intent replication.Intent) error {
	if err := e.stateful(); err != nil {
		return err
	}
	return e.runtime.HandleIntent(intent)
}

// SendAction raises an action on the entity's runtime.
func (e *Entity) SendAction(name, payload string) error {
	if err := e.stateful(); err != nil {
		return err
	}
	return e.runtime.SendAction(name, payload)
}

// RequestStateChange asks the server to switch the entity to id.
func (e *Entity) RequestStateChange(id int32) error {
	if err := e.stateful(); err != nil {
		return err
	}
	return e.runtime.RequestStateChange(id)
}

func (e *Entity) stateful() error {
	switch {
	case e.destroyed:
		return machine.ErrDestroyed
	case e.disabled:
		return ErrDisabled
	case e.runtime == nil:
		return ErrNotStateful
	}
	return nil
}

// Disable makes the entity inert and reports reason to the host.
func (e *Entity) Disable(reason string) {
	if e.disabled || e.destroyed {
		return
	}
	e.disabled = true
	e.reason = reason
	var tick uint64
	if e.bb != nil {
		tick = e.bb.Tick()
	}
	e.ctx.logger().Printf("[driver] entity %s disabled: %s (logic=%q)", e.Handle(), reason, e.placement.LogicKey)
	loggingbehavior.EntityDisabled(context.Background(), e.ctx.publisher(), tick, e.actor, loggingbehavior.EntityDisabledPayload{
		LogicKey: e.placement.LogicKey,
		Reason:   reason,
	}, nil)
	if fn := e.ctx.Hooks.OnDisabled; fn != nil {
		fn(e.Handle(), reason)
	}
}

// Destroy exits the active state and releases the store. Release failures are
// reported as warnings and returned.
func (e *Entity) Destroy() error {
	if e.destroyed {
		return nil
	}
	if e.runtime != nil {
		e.runtime.Destroy()
	}
	e.destroyed = true
	if fn := e.ctx.Hooks.OnDestroyed; fn != nil {
		defer fn(e.Handle())
	}
	if e.bb == nil {
		return nil
	}
	tick := e.bb.Tick()
	err := e.bb.Close()
	if err != nil {
		e.ctx.logger().Printf("[driver] entity %s: release failed: %v", e.Handle(), err)
		loggingbehavior.ReleaseFailed(context.Background(), e.ctx.publisher(), tick, e.actor, loggingbehavior.ReleaseFailedPayload{
			Error: err.Error(),
		}, nil)
	}
	return err
}
