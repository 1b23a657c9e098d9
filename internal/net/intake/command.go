// Package intake validates client messages and stages them on the loop.
package intake

import (
	"time"

	"github.com/eraflo/FallGuys/internal/blackboard"
	"github.com/eraflo/FallGuys/internal/net/proto"
	"github.com/eraflo/FallGuys/internal/sim"
)

const (
	// CommandRejectInvalidAction marks messages that do not carry a usable intent.
	CommandRejectInvalidAction = "invalid_action"
	// CommandRejectUnknownEntity marks intents for handles the server does not hold.
	CommandRejectUnknownEntity = "unknown_entity"
)

// Stager accepts validated commands. *sim.Loop satisfies it.
type Stager interface {
	Enqueue(cmd sim.Command) (bool, string)
}

type CommandContext struct {
	Loop      Stager
	HasEntity func(blackboard.Handle) bool
	Tick      func() uint64
	Now       func() time.Time
}

// StageClientCommand converts msg into a command stamped with peerID and
// stages it. It returns the reject reason when the command is refused.
func StageClientCommand(ctx CommandContext, peerID string, msg proto.ClientMessage) (sim.Command, bool, string) {
	var zero sim.Command

	command, ok := proto.ClientCommand(msg)
	if !ok {
		return zero, false, CommandRejectInvalidAction
	}

	switch command.Type {
	case sim.CommandAction:
		if command.Action == nil || command.Action.Name == "" {
			return zero, false, CommandRejectInvalidAction
		}
	case sim.CommandStateRequest:
		if command.StateRequest == nil {
			return zero, false, CommandRejectInvalidAction
		}
	default:
		return zero, false, CommandRejectInvalidAction
	}

	if ctx.HasEntity != nil && !ctx.HasEntity(command.Entity()) {
		return zero, false, CommandRejectUnknownEntity
	}

	command.ActorID = peerID
	if ctx.Tick != nil {
		command.OriginTick = ctx.Tick()
	}
	if ctx.Now != nil {
		command.IssuedAt = ctx.Now()
	} else {
		command.IssuedAt = time.Now()
	}

	if ctx.Loop == nil {
		return zero, false, sim.CommandRejectQueueFull
	}
	if ok, reason := ctx.Loop.Enqueue(command); !ok {
		return zero, false, reason
	}

	return command, true, ""
}
