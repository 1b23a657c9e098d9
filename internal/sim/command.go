package sim

import (
	"time"

	"github.com/eraflo/FallGuys/internal/blackboard"
	"github.com/eraflo/FallGuys/internal/replication"
)

// CommandType enumerates the supported simulation commands.
type CommandType string

const (
	// CommandAction forwards a named action to an entity's active state.
	CommandAction CommandType = "Action"
	// CommandStateRequest asks the server to switch an entity's state.
	CommandStateRequest CommandType = "StateRequest"
	// CommandStateUpdate applies an authoritative state write on a client.
	CommandStateUpdate CommandType = "StateUpdate"
	// CommandHeartbeat updates connectivity metadata for an actor.
	CommandHeartbeat CommandType = "Heartbeat"
)

// ActionCommand names an action raised against an entity.
type ActionCommand struct {
	Entity  blackboard.Handle `json:"entity"`
	Name    string            `json:"name"`
	Payload string            `json:"payload,omitempty"`
}

// StateRequestCommand asks for a specific state id.
type StateRequestCommand struct {
	Entity  blackboard.Handle `json:"entity"`
	StateID int32             `json:"stateId"`
}

// HeartbeatCommand updates connectivity metadata for an actor.
type HeartbeatCommand struct {
	ReceivedAt time.Time     `json:"receivedAt"`
	ClientSent int64         `json:"clientSent"`
	RTT        time.Duration `json:"rtt"`
}

// Command represents an input captured for processing on the next tick.
// ActorID is the participant that issued it.
type Command struct {
	OriginTick   uint64                   `json:"originTick"`
	ActorID      string                   `json:"actorId"`
	Type         CommandType              `json:"type"`
	IssuedAt     time.Time                `json:"issuedAt"`
	Action       *ActionCommand           `json:"action,omitempty"`
	StateRequest *StateRequestCommand     `json:"stateRequest,omitempty"`
	Update       *replication.StateUpdate `json:"update,omitempty"`
	Heartbeat    *HeartbeatCommand        `json:"heartbeat,omitempty"`
}

// Entity returns the entity the command targets, if any.
func (c Command) Entity() blackboard.Handle {
	switch {
	case c.Action != nil:
		return c.Action.Entity
	case c.StateRequest != nil:
		return c.StateRequest.Entity
	case c.Update != nil:
		return c.Update.Entity
	default:
		return ""
	}
}

// Intent converts an action or state request into the replication intent the
// entity runtime consumes.
func (c Command) Intent() (replication.Intent, bool) {
	switch c.Type {
	case CommandAction:
		if c.Action == nil {
			return replication.Intent{}, false
		}
		intent := replication.ActionIntent(c.Action.Entity, c.Action.Name, c.Action.Payload)
		intent.Origin = c.ActorID
		return intent, true
	case CommandStateRequest:
		if c.StateRequest == nil {
			return replication.Intent{}, false
		}
		intent := replication.StateIntent(c.StateRequest.Entity, c.StateRequest.StateID)
		intent.Origin = c.ActorID
		return intent, true
	default:
		return replication.Intent{}, false
	}
}

// IntentCommand wraps a replication intent as a command from its origin.
func IntentCommand(intent replication.Intent) (Command, bool) {
	switch intent.Kind {
	case replication.IntentAction:
		return Command{
			ActorID: intent.Origin,
			Type:    CommandAction,
			Action:  &ActionCommand{Entity: intent.Entity, Name: intent.Name, Payload: intent.Payload},
		}, true
	case replication.IntentState:
		return Command{
			ActorID:      intent.Origin,
			Type:         CommandStateRequest,
			StateRequest: &StateRequestCommand{Entity: intent.Entity, StateID: intent.StateID},
		}, true
	default:
		return Command{}, false
	}
}

// UpdateCommand wraps an inbound state update.
func UpdateCommand(update replication.StateUpdate) Command {
	return Command{Type: CommandStateUpdate, Update: &update}
}
