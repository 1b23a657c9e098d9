package replication

import (
	"github.com/eraflo/FallGuys/internal/blackboard"
)

// StateUpdate carries one authoritative write of an entity's state id.
// Seq increases by one per write of that entity; receivers discard updates
// whose Seq is not newer than the last one they applied.
type StateUpdate struct {
	Entity      blackboard.Handle `json:"entity"`
	ID          int32             `json:"id"`
	Seq         uint64            `json:"seq"`
	Tick        uint64            `json:"tick"`
	Fingerprint uint64            `json:"fingerprint,omitempty"`
}

// IntentKind distinguishes the client-to-server messages.
type IntentKind string

const (
	// IntentAction forwards a named action to the active state on the server.
	IntentAction IntentKind = "action"
	// IntentState asks the server to change the entity's state.
	IntentState IntentKind = "state"
)

// Intent is a client-to-server message. Delivery is at most once and ordered
// per sending participant.
type Intent struct {
	Kind    IntentKind        `json:"kind"`
	Entity  blackboard.Handle `json:"entity"`
	Name    string            `json:"name,omitempty"`
	Payload string            `json:"payload,omitempty"`
	StateID int32             `json:"stateId,omitempty"`
	// Origin is stamped by the transport with the sending participant.
	Origin string `json:"origin,omitempty"`
}

// ActionIntent builds an action intent.
func ActionIntent(entity blackboard.Handle, name, payload string) Intent {
	return Intent{Kind: IntentAction, Entity: entity, Name: name, Payload: payload}
}

// StateIntent builds a state-change request.
func StateIntent(entity blackboard.Handle, id int32) Intent {
	return Intent{Kind: IntentState, Entity: entity, StateID: id}
}

// Uplink carries intents from a client to the server. Send must not block the
// simulation.
type Uplink interface {
	Send(intent Intent) error
}

// UplinkFunc adapts a function into an Uplink.
type UplinkFunc func(intent Intent) error

// Send implements Uplink.
func (f UplinkFunc) Send(intent Intent) error {
	if f == nil {
		return nil
	}
	return f(intent)
}

// Downlink carries authoritative updates from the server to every client.
type Downlink interface {
	Publish(update StateUpdate)
}

// DownlinkFunc adapts a function into a Downlink.
type DownlinkFunc func(update StateUpdate)

// Publish implements Downlink.
func (f DownlinkFunc) Publish(update StateUpdate) {
	if f == nil {
		return
	}
	f(update)
}
