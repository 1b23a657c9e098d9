package machine

import (
	"fmt"

	"github.com/eraflo/FallGuys/internal/fsm"
	"github.com/eraflo/FallGuys/internal/replication"
	loggingstatemachine "github.com/eraflo/FallGuys/logging/statemachine"
)

// LocalOrigin marks intents raised on the server participant itself.
const LocalOrigin = "local"

// SendAction raises a named action. The server delivers it to the active
// state directly; clients send it over the uplink.
func (r *Runtime) SendAction(name, payload string) error {
	if r.phase == PhaseDestroyed {
		return ErrDestroyed
	}
	if r.bb.IsServer() {
		r.ReceiveAction(fsm.Action{Name: name, Payload: payload, Origin: LocalOrigin})
		return nil
	}
	if r.uplink == nil {
		return ErrNoUplink
	}
	return r.uplink.Send(replication.ActionIntent(r.bb.Owner(), name, payload))
}

// RequestStateChange asks the server to switch to id. On the server it is
// applied directly; clients send it over the uplink.
func (r *Runtime) RequestStateChange(id int32) error {
	if r.phase == PhaseDestroyed {
		return ErrDestroyed
	}
	if r.bb.IsServer() {
		return r.HandleStateRequest(id, LocalOrigin)
	}
	if r.uplink == nil {
		return ErrNoUplink
	}
	return r.uplink.Send(replication.StateIntent(r.bb.Owner(), id))
}

// ReceiveAction forwards action to the active state's action hook on the
// server and reports whether it was delivered. Actions reaching an entity with
// no active state are dropped.
func (r *Runtime) ReceiveAction(action fsm.Action) bool {
	if !r.bb.IsServer() || r.phase == PhaseDestroyed {
		return false
	}
	state := r.active
	payload := loggingstatemachine.ActionPayload{
		Name:    action.Name,
		Payload: action.Payload,
		Origin:  action.Origin,
	}
	if state == nil {
		payload.Dropped = true
		loggingstatemachine.ActionReceived(r.parent, r.pub, r.bb.Tick(), r.actor, payload, nil)
		return false
	}
	payload.State = state.Name
	nested := r.busy
	if fn := state.Hooks.OnActionReceived; fn != nil {
		r.busy = true
		fn(r.bb, action)
		r.busy = nested
	}
	loggingstatemachine.ActionReceived(r.parent, r.pub, r.bb.Tick(), r.actor, payload, nil)
	if !nested {
		r.drain()
	}
	return true
}

// HandleStateRequest applies a client-originated state request on the
// server. Every request is logged because it bypasses the transition rules.
func (r *Runtime) HandleStateRequest(id int32, origin string) error {
	if !r.bb.IsServer() {
		return ErrNotAuthority
	}
	err := r.ChangeState(id)
	loggingstatemachine.StateRequested(r.parent, r.pub, r.bb.Tick(), r.actor, loggingstatemachine.StateRequestedPayload{
		Requested: id,
		Current:   r.id.Value(),
		Origin:    origin,
		Applied:   err == nil,
	}, nil)
	if err != nil {
		r.logger.Printf("[machine] entity %s: state request %d from %s: %v", r.bb.Owner(), id, origin, err)
	}
	return err
}

// HandleIntent dispatches an intent received from a client.
func (r *Runtime) HandleIntent(intent replication.Intent) error {
	switch intent.Kind {
	case replication.IntentAction:
		r.ReceiveAction(fsm.Action{Name: intent.Name, Payload: intent.Payload, Origin: intent.Origin})
		return nil
	case replication.IntentState:
		return r.HandleStateRequest(intent.StateID, intent.Origin)
	default:
		return fmt.Errorf("machine: unknown intent kind %q", intent.Kind)
	}
}
