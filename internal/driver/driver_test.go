package driver

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/eraflo/FallGuys/internal/behavior"
	"github.com/eraflo/FallGuys/internal/blackboard"
	"github.com/eraflo/FallGuys/internal/fsm"
	"github.com/eraflo/FallGuys/internal/fsm/conditions"
	"github.com/eraflo/FallGuys/internal/machine"
	"github.com/eraflo/FallGuys/internal/replication"
	"github.com/eraflo/FallGuys/logging"
	loggingbehavior "github.com/eraflo/FallGuys/logging/behavior"
	"github.com/eraflo/FallGuys/logging/sinks"
)

func punchTable() *fsm.Table {
	idle := fsm.NewState("Idle", fsm.Hooks{})
	punch := fsm.NewState("Punch", fsm.Hooks{})
	idle.To(punch, conditions.Flag("Armed"))
	punch.To(idle, fsm.Not(conditions.Flag("Armed")))
	return fsm.MustTable("trap.punch", idle, punch)
}

func testCatalog(t *testing.T) *behavior.Catalog {
	t.Helper()
	catalog, err := behavior.NewCatalog(
		behavior.MustDefinition("trap.punch", behavior.Stateful{Table: punchTable()},
			behavior.ParameterField{Name: "Strength", Type: behavior.TypeFloat, Default: 5.0},
		),
		behavior.MustDefinition("platform.spinner", behavior.Simple{
			Start: func(bb *blackboard.Store) {
				bb.Set("startSpeed", blackboard.Float(bb, "Speed", 0))
			},
			Update: func(bb *blackboard.Store) {
				bb.Set("angle", blackboard.Float(bb, "angle", 0)+blackboard.Float(bb, "Speed", 0))
			},
		}, behavior.ParameterField{Name: "Speed", Type: behavior.TypeFloat, Default: 90.0}),
		behavior.MustDefinition("decor", nil),
		behavior.MustDefinition("empty", behavior.Stateful{Table: fsm.MustTable("empty")}),
	)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return catalog
}

type hostRecorder struct {
	resolved []blackboard.Handle
	disabled map[blackboard.Handle]string
}

func newServerContext(t *testing.T) (*Context, *sinks.MemorySink, *hostRecorder) {
	t.Helper()
	sink := sinks.NewMemorySink()
	host := &hostRecorder{disabled: make(map[blackboard.Handle]string)}
	return &Context{
		Catalog:   testCatalog(t),
		Role:      blackboard.ServerRole(),
		Publisher: sink,
		Hooks: HostHooks{
			OnResolved: func(h blackboard.Handle, _ *behavior.Definition) { host.resolved = append(host.resolved, h) },
			OnDisabled: func(h blackboard.Handle, reason string) { host.disabled[h] = reason },
		},
	}, sink, host
}

func TestPlacementsResolveIndependently(t *testing.T) {
	dctx, _, host := newServerContext(t)
	override, _ := behavior.Override("Strength", 12.5)
	strong := dctx.NewEntity(Placement{Handle: "a", LogicKey: "trap.punch", Overrides: []behavior.OverrideRecord{override}})
	plain := dctx.NewEntity(Placement{Handle: "b", LogicKey: "trap.punch"})
	for _, e := range []*Entity{strong, plain} {
		if err := e.Spawn(context.Background()); err != nil {
			t.Fatalf("spawn %s: %v", e.Handle(), err)
		}
	}
	if got := blackboard.Float(strong.Store(), "Strength", 0); got != 12.5 {
		t.Fatalf("expected overridden strength 12.5, got %v", got)
	}
	if got := blackboard.Float(plain.Store(), "Strength", 0); got != 5.0 {
		t.Fatalf("expected default strength 5.0, got %v", got)
	}
	if field, _ := strong.Definition().Field("Strength"); field.Default != 5.0 {
		t.Fatalf("expected the shared definition to keep its default")
	}
	if len(host.resolved) != 2 {
		t.Fatalf("expected one resolved callback per entity, got %v", host.resolved)
	}
	if strong.Runtime().ActiveID() != 0 {
		t.Fatalf("expected the server to enter the first state")
	}
}

func TestSimpleBehaviorReadsResolvedParameters(t *testing.T) {
	dctx, _, _ := newServerContext(t)
	entity := dctx.NewEntity(Placement{
		Handle:    "spinner",
		LogicKey:  "platform.spinner",
		Overrides: []behavior.OverrideRecord{{Name: "Speed", TypeTag: "single", StringValue: "10"}},
	})
	if err := entity.Spawn(context.Background()); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if got := blackboard.Float(entity.Store(), "startSpeed", 0); got != 10 {
		t.Fatalf("expected start to observe the override, got %v", got)
	}
	entity.Advance(1)
	entity.Advance(2)
	if got := blackboard.Float(entity.Store(), "angle", 0); got != 20 {
		t.Fatalf("expected update on every advance, got %v", got)
	}
	if entity.Store().Tick() != 2 {
		t.Fatalf("expected tick to be recorded, got %d", entity.Store().Tick())
	}
	if entity.Runtime() != nil {
		t.Fatalf("expected no runtime for a simple behavior")
	}
	if err := entity.HandleIntent(replication.ActionIntent("spinner", "jump", "")); !errors.Is(err, ErrNotStateful) {
		t.Fatalf("expected ErrNotStateful, got %v", err)
	}
}

func TestMisconfiguredEntitiesAreDisabled(t *testing.T) {
	cases := []struct {
		logic  string
		reason string
	}{
		{"", ReasonMissingLogicKey},
		{"missing", ReasonUnknownLogic},
		{"decor", ReasonNoLogic},
		{"empty", ReasonEmptyTable},
	}
	for _, tc := range cases {
		t.Run(tc.reason, func(t *testing.T) {
			dctx, sink, host := newServerContext(t)
			entity := dctx.NewEntity(Placement{Handle: "e", LogicKey: tc.logic})
			if err := entity.Spawn(context.Background()); err != nil {
				t.Fatalf("expected misconfiguration to be handled, got %v", err)
			}
			if !entity.Disabled() || entity.Reason() != tc.reason {
				t.Fatalf("expected disabled with %q, got %v %q", tc.reason, entity.Disabled(), entity.Reason())
			}
			if host.disabled["e"] != tc.reason {
				t.Fatalf("expected host callback with %q, got %v", tc.reason, host.disabled)
			}
			events := sink.OfType(loggingbehavior.EventEntityDisabled)
			if len(events) != 1 || events[0].Actor.ID != "e" {
				t.Fatalf("expected one disabled event naming the entity, got %+v", events)
			}
			entity.Advance(1)
			if err := entity.HandleIntent(replication.ActionIntent("e", "x", "")); !errors.Is(err, ErrDisabled) {
				t.Fatalf("expected ErrDisabled, got %v", err)
			}
		})
	}
}

func TestDroppedOverridesArePublished(t *testing.T) {
	dctx, sink, _ := newServerContext(t)
	entity := dctx.NewEntity(Placement{Handle: "e", LogicKey: "trap.punch", Overrides: []behavior.OverrideRecord{
		{Name: "Colour", TypeTag: "string", StringValue: "red"},
		{Name: "Strength", TypeTag: "float", StringValue: "lots"},
	}})
	if err := entity.Spawn(context.Background()); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	events := sink.OfType(loggingbehavior.EventOverrideDropped)
	if len(events) != 2 {
		t.Fatalf("expected two dropped overrides, got %d", len(events))
	}
	if events[0].Severity != logging.SeverityDebug {
		t.Fatalf("expected unknown field at debug level, got %v", events[0].Severity)
	}
	if events[1].Severity != logging.SeverityWarn {
		t.Fatalf("expected parse failure at warn level, got %v", events[1].Severity)
	}
	if got := blackboard.Float(entity.Store(), "Strength", 0); got != 5.0 {
		t.Fatalf("expected default to be kept, got %v", got)
	}
	if len(sink.OfType(loggingbehavior.EventResolved)) != 1 {
		t.Fatalf("expected a resolved event")
	}
}

func TestClientReplicaFollowsServer(t *testing.T) {
	net := replication.NewLoopback()
	net.Join("client")
	server := &Context{Catalog: testCatalog(t), Role: blackboard.ServerRole(), Downlink: net}
	client := &Context{Catalog: testCatalog(t), Role: blackboard.ClientRole(false), Uplink: net.Uplink("client")}

	authority := server.NewEntity(Placement{Handle: "trap", LogicKey: "trap.punch"})
	replica := client.NewEntity(Placement{Handle: "trap", LogicKey: "trap.punch"})
	if err := authority.Spawn(context.Background()); err != nil {
		t.Fatalf("server spawn: %v", err)
	}
	authority.Store().Set("Armed", true)
	authority.Advance(1)
	if authority.Runtime().ActiveID() != 1 {
		t.Fatalf("expected server to transition to Punch")
	}

	// Updates arrive before the replica spawns, as for a late joiner.
	for _, update := range net.Updates("client") {
		if _, err := replica.ApplyUpdate(update); err != nil {
			t.Fatalf("apply before spawn: %v", err)
		}
	}
	if err := replica.Spawn(context.Background()); err != nil {
		t.Fatalf("client spawn: %v", err)
	}
	if replica.Runtime().ActiveID() != 1 {
		t.Fatalf("expected late joiner to enter Punch directly, got %d", replica.Runtime().ActiveID())
	}

	if err := replica.SendAction("fire", ""); err != nil {
		t.Fatalf("send action: %v", err)
	}
	intents := net.Intents()
	if len(intents) != 1 || intents[0].Origin != "client" {
		t.Fatalf("expected one stamped intent, got %+v", intents)
	}
	if err := authority.HandleIntent(intents[0]); err != nil {
		t.Fatalf("handle intent: %v", err)
	}
}

func TestFingerprintMismatchDisablesReplica(t *testing.T) {
	client := &Context{Catalog: testCatalog(t), Role: blackboard.ClientRole(false)}
	replica := client.NewEntity(Placement{Handle: "trap", LogicKey: "trap.punch"})
	if _, err := replica.ApplyUpdate(replication.StateUpdate{Entity: "trap", ID: 1, Seq: 1, Fingerprint: 42}); err != nil {
		t.Fatalf("expected pending update to be kept, got %v", err)
	}
	if err := replica.Spawn(context.Background()); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if !replica.Disabled() || replica.Reason() != ReasonFingerprintMismatch {
		t.Fatalf("expected fingerprint mismatch to disable, got %q", replica.Reason())
	}
	if replica.Runtime().ActiveID() != machine.Unset {
		t.Fatalf("expected no state to be active")
	}
}

func TestServerRestoreEntersSnapshotState(t *testing.T) {
	dctx, _, _ := newServerContext(t)
	entity := dctx.NewEntity(Placement{Handle: "trap", LogicKey: "trap.punch"})
	entity.Restore(1, 7)
	if err := entity.Spawn(context.Background()); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	snapshot, ok := entity.Snapshot()
	if !ok || snapshot.ID != 1 || snapshot.Seq != 7 {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
}

type failingCloser struct{}

func (failingCloser) Close() error { return errors.New("socket busy") }

func TestDestroyReportsReleaseFailures(t *testing.T) {
	dctx, sink, _ := newServerContext(t)
	entity := dctx.NewEntity(Placement{Handle: "e", LogicKey: "trap.punch"})
	if err := entity.Spawn(context.Background()); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	scope := entity.Runtime().Scope()
	entity.Store().Set("conn", failingCloser{})
	if err := entity.Destroy(); err == nil {
		t.Fatalf("expected release failure")
	}
	if scope.Err() == nil {
		t.Fatalf("expected state scope to be cancelled")
	}
	if len(sink.OfType(loggingbehavior.EventReleaseFailed)) != 1 {
		t.Fatalf("expected release_failed event")
	}
	if err := entity.Destroy(); err != nil {
		t.Fatalf("expected second destroy to be a no-op, got %v", err)
	}
	if err := entity.Spawn(context.Background()); !errors.Is(err, machine.ErrDestroyed) {
		t.Fatalf("expected ErrDestroyed, got %v", err)
	}
}

func TestNewEntityAllocatesHandle(t *testing.T) {
	dctx, _, _ := newServerContext(t)
	entity := dctx.NewEntity(Placement{LogicKey: "trap.punch"})
	if _, err := uuid.Parse(string(entity.Handle())); err != nil {
		t.Fatalf("expected a uuid handle, got %q", entity.Handle())
	}
}
