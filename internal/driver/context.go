// Package driver attaches behavior definitions to entities: it resolves
// placement overrides into the entity's store, then either binds a state
// machine runtime or runs a simple behavior.
package driver

import (
	"github.com/google/uuid"

	"github.com/eraflo/FallGuys/internal/behavior"
	"github.com/eraflo/FallGuys/internal/blackboard"
	"github.com/eraflo/FallGuys/internal/observability"
	"github.com/eraflo/FallGuys/internal/replication"
	"github.com/eraflo/FallGuys/internal/telemetry"
	"github.com/eraflo/FallGuys/logging"
)

// Context carries everything entities of one participant share. Several
// contexts can live in one process, for example a server and a client world
// in a test.
type Context struct {
	Catalog *behavior.Catalog
	// Role is the participant role. Placement.Owner sets the owner flag per
	// entity.
	Role blackboard.Role

	Logger    telemetry.Logger
	Publisher logging.Publisher

	// Downlink publishes authoritative state writes (server).
	Downlink replication.Downlink
	// Uplink carries intents to the server (clients).
	Uplink replication.Uplink

	Clock  blackboard.Clock
	Tracer *observability.Tracer
	Hooks  HostHooks
}

// HostHooks are the host entity's callbacks. Entities placed through a
// simworld.World run them after the world releases its lock, so a hook may
// call back into the world.
type HostHooks struct {
	// OnResolved fires once per entity at spawn with its definition.
	OnResolved func(handle blackboard.Handle, def *behavior.Definition)
	// OnDisabled fires when an entity becomes inert.
	OnDisabled func(handle blackboard.Handle, reason string)
	// OnDestroyed fires once when an entity is destroyed, after its store is
	// released.
	OnDestroyed func(handle blackboard.Handle)
}

// Placement is one entity of the level: which logic it runs and the values
// that shadow the definition defaults.
type Placement struct {
	Handle    blackboard.Handle         `json:"handle,omitempty" yaml:"handle,omitempty" toml:"handle,omitempty"`
	LogicKey  string                    `json:"logic" yaml:"logic" toml:"logic"`
	Overrides []behavior.OverrideRecord `json:"overrides,omitempty" yaml:"overrides,omitempty" toml:"overrides,omitempty"`
	// Owner marks entities owned by this participant.
	Owner bool `json:"owner,omitempty" yaml:"owner,omitempty" toml:"owner,omitempty"`
}

// NewEntity builds an unspawned entity for p. Placements without a handle
// get a random one.
func (c *Context) NewEntity(p Placement) *Entity {
	if p.Handle == "" {
		p.Handle = blackboard.Handle(uuid.NewString())
	}
	return &Entity{
		ctx:       c,
		placement: p,
		actor:     logging.Entity(string(p.Handle)),
	}
}

func (c *Context) logger() telemetry.Logger {
	if c.Logger == nil {
		return telemetry.Nop()
	}
	return c.Logger
}

func (c *Context) publisher() logging.Publisher {
	if c.Publisher == nil {
		return logging.NopPublisher()
	}
	return c.Publisher
}

func (c *Context) role(owner bool) blackboard.Role {
	role := c.Role
	role.Owner = owner
	return role
}
