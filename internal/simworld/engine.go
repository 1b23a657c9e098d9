package simworld

import (
	"context"
	"errors"
	"fmt"

	"github.com/eraflo/FallGuys/internal/sim"
	"github.com/eraflo/FallGuys/logging"
	loggingnetwork "github.com/eraflo/FallGuys/logging/network"
)

// Engine adapts a World to the sim loop: staged commands are routed to their
// entities, then every entity advances.
type Engine struct {
	world *World
	deps  sim.Deps
	ctx   context.Context
}

// NewEngine binds world to deps.
func NewEngine(ctx context.Context, world *World, deps sim.Deps) *Engine {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Engine{world: world, deps: deps, ctx: ctx}
}

// World returns the adapted world.
func (e *Engine) World() *World { return e.world }

// Deps implements sim.EngineCore.
func (e *Engine) Deps() sim.Deps { return e.deps }

// Apply implements sim.EngineCore. Intents for unknown or inert entities are
// reported and skipped; they never stop the tick.
func (e *Engine) Apply(tick sim.LoopTickContext, cmds []sim.Command) error {
	var errs []error
	for _, cmd := range cmds {
		switch cmd.Type {
		case sim.CommandAction, sim.CommandStateRequest:
			intent, ok := cmd.Intent()
			if !ok {
				e.reject(tick.Tick, cmd, "malformed")
				continue
			}
			if err := e.world.HandleIntent(intent); err != nil {
				e.reject(tick.Tick, cmd, err.Error())
				if !errors.Is(err, ErrUnknownEntity) {
					errs = append(errs, err)
				}
			}
		case sim.CommandStateUpdate:
			if cmd.Update == nil {
				continue
			}
			if _, err := e.world.ApplyUpdate(*cmd.Update); err != nil {
				errs = append(errs, fmt.Errorf("update %s seq %d: %w", cmd.Update.Entity, cmd.Update.Seq, err))
			}
		case sim.CommandHeartbeat:
		default:
			e.reject(tick.Tick, cmd, "unknown command type")
		}
	}
	return errors.Join(errs...)
}

// Step implements sim.EngineCore.
func (e *Engine) Step(tick sim.LoopTickContext) error {
	return e.world.Advance(e.ctx, tick.Tick)
}

func (e *Engine) reject(tick uint64, cmd sim.Command, reason string) {
	loggingnetwork.IntentRejected(e.ctx, e.world.Context().Publisher, tick, logging.Participant(cmd.ActorID), loggingnetwork.IntentRejectedPayload{
		Entity: string(cmd.Entity()),
		Kind:   string(cmd.Type),
		Reason: reason,
	}, nil)
}
