package proto

import (
	"encoding/json"
	"fmt"

	"github.com/eraflo/FallGuys/internal/blackboard"
	"github.com/eraflo/FallGuys/internal/replication"
	"github.com/eraflo/FallGuys/internal/sim"
)

const (
	// Version tracks the wire-protocol revision expected by clients.
	Version = 1

	typeCommandAck    = "commandAck"
	typeCommandReject = "commandReject"
	typeHeartbeat     = "heartbeat"
	typeSnapshot      = "snapshot"
	typeUpdate        = "update"
)

// Client message type identifiers.
const (
	TypeAction       = "action"
	TypeStateRequest = "stateRequest"
	TypeHeartbeat    = "heartbeat"
)

// Server message type identifiers.
const (
	TypeSnapshot      = typeSnapshot
	TypeUpdate        = typeUpdate
	TypeCommandAck    = typeCommandAck
	TypeCommandReject = typeCommandReject
)

// ClientMessage captures an inbound websocket message from the client.
type ClientMessage struct {
	Ver        int               `json:"ver,omitempty"`
	Type       string            `json:"type"`
	Entity     blackboard.Handle `json:"entity,omitempty"`
	Action     string            `json:"action,omitempty"`
	Payload    string            `json:"payload,omitempty"`
	State      *int32            `json:"state,omitempty"`
	SentAt     int64             `json:"sentAt,omitempty"`
	CommandSeq *uint64           `json:"seq,omitempty"`
}

// DecodeClientMessage converts raw websocket payloads into a structured
// message. Messages without a version are treated as the current version.
func DecodeClientMessage(payload []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, err
	}
	if msg.Ver == 0 {
		msg.Ver = Version
	}
	if msg.Ver != Version {
		return msg, fmt.Errorf("unsupported client protocol version %d", msg.Ver)
	}
	return msg, nil
}

// Seq returns the client command sequence, zero when absent.
func (m ClientMessage) Seq() uint64 {
	if m.CommandSeq == nil {
		return 0
	}
	return *m.CommandSeq
}

// ClientCommand converts an action or state request into the simulation
// command it carries. Origin metadata is populated when the command is staged.
func ClientCommand(msg ClientMessage) (sim.Command, bool) {
	if msg.Entity == "" {
		return sim.Command{}, false
	}
	switch msg.Type {
	case TypeAction:
		if msg.Action == "" {
			return sim.Command{}, false
		}
		return sim.Command{
			Type: sim.CommandAction,
			Action: &sim.ActionCommand{
				Entity:  msg.Entity,
				Name:    msg.Action,
				Payload: msg.Payload,
			},
		}, true
	case TypeStateRequest:
		if msg.State == nil {
			return sim.Command{}, false
		}
		return sim.Command{
			Type: sim.CommandStateRequest,
			StateRequest: &sim.StateRequestCommand{
				Entity:  msg.Entity,
				StateID: *msg.State,
			},
		}, true
	default:
		return sim.Command{}, false
	}
}

// EncodeIntent renders a replication intent as a client message carrying seq.
func EncodeIntent(intent replication.Intent, seq uint64) ([]byte, error) {
	msg := ClientMessage{Ver: Version, Entity: intent.Entity}
	if seq > 0 {
		msg.CommandSeq = &seq
	}
	switch intent.Kind {
	case replication.IntentAction:
		msg.Type = TypeAction
		msg.Action = intent.Name
		msg.Payload = intent.Payload
	case replication.IntentState:
		state := intent.StateID
		msg.Type = TypeStateRequest
		msg.State = &state
	default:
		return nil, fmt.Errorf("unsupported intent kind %q", intent.Kind)
	}
	return json.Marshal(msg)
}

// EncodeHeartbeatRequest renders a client heartbeat.
func EncodeHeartbeatRequest(sentAt int64) ([]byte, error) {
	return json.Marshal(ClientMessage{Ver: Version, Type: TypeHeartbeat, SentAt: sentAt})
}

// ServerMessage captures any outbound message for decoding on a client.
type ServerMessage struct {
	Ver        int                       `json:"ver"`
	Type       string                    `json:"type"`
	Tick       uint64                    `json:"t,omitempty"`
	ServerTime int64                     `json:"serverTime,omitempty"`
	Entities   []replication.StateUpdate `json:"entities,omitempty"`
	Update     *replication.StateUpdate  `json:"update,omitempty"`
	Seq        uint64                    `json:"seq,omitempty"`
	Reason     string                    `json:"reason,omitempty"`
	Retry      bool                      `json:"retry,omitempty"`
	ClientTime int64                     `json:"clientTime,omitempty"`
	RTTMillis  int64                     `json:"rtt,omitempty"`
}

// DecodeServerMessage parses a server message and checks its version.
func DecodeServerMessage(payload []byte) (ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, err
	}
	if msg.Ver != Version {
		return msg, fmt.Errorf("unsupported server protocol version %d", msg.Ver)
	}
	return msg, nil
}

// SnapshotV1 carries the replicated state of every entity to a new
// subscriber.
type SnapshotV1 struct {
	Ver        int                       `json:"ver"`
	Type       string                    `json:"type"`
	Tick       uint64                    `json:"t"`
	ServerTime int64                     `json:"serverTime"`
	Entities   []replication.StateUpdate `json:"entities"`
}

// EncodeSnapshotV1 renders a versioned snapshot payload.
func EncodeSnapshotV1(msg SnapshotV1) ([]byte, error) {
	msg.Ver = Version
	msg.Type = TypeSnapshot
	if msg.Entities == nil {
		msg.Entities = []replication.StateUpdate{}
	}
	return json.Marshal(msg)
}

// EncodeUpdate renders one authoritative state write.
func EncodeUpdate(update replication.StateUpdate) ([]byte, error) {
	frame := struct {
		Ver    int                     `json:"ver"`
		Type   string                  `json:"type"`
		Tick   uint64                  `json:"t"`
		Update replication.StateUpdate `json:"update"`
	}{
		Ver:    Version,
		Type:   typeUpdate,
		Tick:   update.Tick,
		Update: update,
	}
	return json.Marshal(frame)
}

// CommandAck describes an acknowledgement of a staged command.
type CommandAck struct {
	Seq  uint64
	Tick uint64
}

// EncodeCommandAck renders a command acknowledgement response.
func EncodeCommandAck(msg CommandAck) ([]byte, error) {
	frame := struct {
		Ver  int    `json:"ver"`
		Type string `json:"type"`
		Seq  uint64 `json:"seq"`
		Tick uint64 `json:"t,omitempty"`
	}{
		Ver:  Version,
		Type: typeCommandAck,
		Seq:  msg.Seq,
		Tick: msg.Tick,
	}
	return json.Marshal(frame)
}

// CommandReject notifies the client that a command was refused.
type CommandReject struct {
	Seq    uint64
	Reason string
	Retry  bool
	Tick   uint64
}

// EncodeCommandReject renders a command rejection response.
func EncodeCommandReject(msg CommandReject) ([]byte, error) {
	frame := struct {
		Ver    int    `json:"ver"`
		Type   string `json:"type"`
		Seq    uint64 `json:"seq"`
		Reason string `json:"reason"`
		Retry  bool   `json:"retry,omitempty"`
		Tick   uint64 `json:"t,omitempty"`
	}{
		Ver:    Version,
		Type:   typeCommandReject,
		Seq:    msg.Seq,
		Reason: msg.Reason,
		Retry:  msg.Retry,
		Tick:   msg.Tick,
	}
	return json.Marshal(frame)
}

// Heartbeat echoes timing metadata back to the client.
type Heartbeat struct {
	ServerTime int64
	ClientTime int64
	RTTMillis  int64
}

// EncodeHeartbeat renders a heartbeat acknowledgement payload.
func EncodeHeartbeat(msg Heartbeat) ([]byte, error) {
	frame := struct {
		Ver        int    `json:"ver"`
		Type       string `json:"type"`
		ServerTime int64  `json:"serverTime"`
		ClientTime int64  `json:"clientTime"`
		RTTMillis  int64  `json:"rtt"`
	}{
		Ver:        Version,
		Type:       typeHeartbeat,
		ServerTime: msg.ServerTime,
		ClientTime: msg.ClientTime,
		RTTMillis:  msg.RTTMillis,
	}
	return json.Marshal(frame)
}
