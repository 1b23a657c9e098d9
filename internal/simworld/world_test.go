package simworld

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eraflo/FallGuys/internal/behavior"
	"github.com/eraflo/FallGuys/internal/blackboard"
	"github.com/eraflo/FallGuys/internal/driver"
	"github.com/eraflo/FallGuys/internal/fsm"
	"github.com/eraflo/FallGuys/internal/fsm/conditions"
	"github.com/eraflo/FallGuys/internal/replication"
	"github.com/eraflo/FallGuys/internal/sim"
	loggingnetwork "github.com/eraflo/FallGuys/logging/network"
	"github.com/eraflo/FallGuys/logging/sinks"
)

func doorTable(opened *atomic.Int32) *fsm.Table {
	closed := fsm.NewState("Closed", fsm.Hooks{})
	open := fsm.NewState("Open", fsm.Hooks{
		OnServerEnter: func(context.Context, *blackboard.Store) {
			if opened != nil {
				opened.Add(1)
			}
		},
	})
	closed.Hooks.OnActionReceived = func(bb *blackboard.Store, action fsm.Action) {
		if action.Name == "open" {
			bb.Set("Requested", true)
		}
	}
	closed.To(open, conditions.Flag("Requested"))
	return fsm.MustTable("door", closed, open)
}

func catalog(t *testing.T, opened *atomic.Int32) *behavior.Catalog {
	t.Helper()
	c, err := behavior.NewCatalog(
		behavior.MustDefinition("door", behavior.Stateful{Table: doorTable(opened)}),
		behavior.MustDefinition("bomb", behavior.Simple{
			Update: func(bb *blackboard.Store) {
				if bb.Tick() == 2 {
					panic("boom")
				}
			},
		}),
		behavior.MustDefinition("counter", behavior.Simple{
			Update: func(bb *blackboard.Store) { bb.Set("n", blackboard.Get(bb, "n", 0)+1) },
		}),
	)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return c
}

func TestWorldPlacesAndIteratesInHandleOrder(t *testing.T) {
	world := New(context.Background(), &driver.Context{Catalog: catalog(t, nil), Role: blackboard.ServerRole()}, Config{})
	for _, handle := range []blackboard.Handle{"c", "a", "b"} {
		if _, err := world.Place(driver.Placement{Handle: handle, LogicKey: "counter"}); err != nil {
			t.Fatalf("place %s: %v", handle, err)
		}
	}
	if _, err := world.Place(driver.Placement{Handle: "a", LogicKey: "counter"}); !errors.Is(err, ErrDuplicateEntity) {
		t.Fatalf("expected duplicate handle error, got %v", err)
	}
	handles := world.Handles()
	if len(handles) != 3 || handles[0] != "a" || handles[1] != "b" || handles[2] != "c" {
		t.Fatalf("unexpected handle order %v", handles)
	}
	if err := world.Remove("b"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if world.Has("b") || world.Len() != 2 {
		t.Fatalf("expected b to be removed")
	}
	if err := world.Remove("b"); !errors.Is(err, ErrUnknownEntity) {
		t.Fatalf("expected unknown entity, got %v", err)
	}
}

func TestWorldRecoversPanickingEntity(t *testing.T) {
	var disabled []blackboard.Handle
	dctx := &driver.Context{
		Catalog: catalog(t, nil),
		Role:    blackboard.ServerRole(),
		Hooks: driver.HostHooks{OnDisabled: func(h blackboard.Handle, _ string) {
			disabled = append(disabled, h)
		}},
	}
	world := New(context.Background(), dctx, Config{})
	world.Place(driver.Placement{Handle: "bomb", LogicKey: "bomb"})
	counter, _ := world.Place(driver.Placement{Handle: "counter", LogicKey: "counter"})

	for tick := uint64(1); tick <= 3; tick++ {
		err := world.Advance(context.Background(), tick)
		if tick == 2 && err == nil {
			t.Fatalf("expected the recovered panic to be reported")
		}
		if tick != 2 && err != nil {
			t.Fatalf("tick %d: unexpected error %v", tick, err)
		}
	}
	bomb, _ := world.Entity("bomb")
	if !bomb.Disabled() || bomb.Reason() != driver.ReasonHookPanic {
		t.Fatalf("expected bomb to be disabled, got %q", bomb.Reason())
	}
	if len(disabled) != 1 {
		t.Fatalf("expected one disabled callback, got %v", disabled)
	}
	if got := blackboard.Get(counter.Store(), "n", 0); got != 3 {
		t.Fatalf("expected the other entity to keep advancing, got %d", got)
	}
}

func TestWorldParallelAdvance(t *testing.T) {
	world := New(context.Background(), &driver.Context{Catalog: catalog(t, nil), Role: blackboard.ServerRole()}, Config{Workers: 4})
	handles := []blackboard.Handle{"a", "b", "c", "d", "e", "f"}
	for _, handle := range handles {
		world.Place(driver.Placement{Handle: handle, LogicKey: "counter"})
	}
	for tick := uint64(1); tick <= 5; tick++ {
		if err := world.Advance(context.Background(), tick); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
	for _, handle := range handles {
		entity, _ := world.Entity(handle)
		if got := blackboard.Get(entity.Store(), "n", 0); got != 5 {
			t.Fatalf("expected %s to advance 5 times, got %d", handle, got)
		}
	}
	if world.Tick() != 5 {
		t.Fatalf("expected world tick 5, got %d", world.Tick())
	}
}

func TestEngineRoutesIntentsToTheServerWorld(t *testing.T) {
	var opened atomic.Int32
	sink := sinks.NewMemorySink()
	net := replication.NewLoopback()
	net.Join("client")
	server := New(context.Background(), &driver.Context{
		Catalog:   catalog(t, &opened),
		Role:      blackboard.ServerRole(),
		Downlink:  net,
		Publisher: sink,
	}, Config{})
	if _, err := server.Place(driver.Placement{Handle: "door", LogicKey: "door"}); err != nil {
		t.Fatalf("place: %v", err)
	}

	loop := sim.NewLoop(NewEngine(context.Background(), server, sim.Deps{}), sim.LoopConfig{}, sim.LoopHooks{})
	open, _ := sim.IntentCommand(replication.Intent{Kind: replication.IntentAction, Entity: "door", Name: "open", Origin: "client"})
	ghost, _ := sim.IntentCommand(replication.Intent{Kind: replication.IntentAction, Entity: "ghost", Name: "open", Origin: "client"})
	loop.Enqueue(open)
	loop.Enqueue(ghost)

	result := loop.Advance(sim.LoopTickContext{Tick: 1})
	if result.Err != nil {
		t.Fatalf("unexpected tick error: %v", result.Err)
	}
	if opened.Load() != 1 {
		t.Fatalf("expected the door to open on the tick the action arrived")
	}
	rejected := sink.OfType(loggingnetwork.EventIntentRejected)
	if len(rejected) != 1 || rejected[0].Actor.ID != "client" {
		t.Fatalf("expected the unknown entity intent to be rejected, got %+v", rejected)
	}

	client := New(context.Background(), &driver.Context{Catalog: catalog(t, nil), Role: blackboard.ClientRole(false)}, Config{})
	client.Place(driver.Placement{Handle: "door", LogicKey: "door"})
	clientLoop := sim.NewLoop(NewEngine(context.Background(), client, sim.Deps{}), sim.LoopConfig{}, sim.LoopHooks{})
	for _, update := range net.Updates("client") {
		clientLoop.Enqueue(sim.UpdateCommand(update))
	}
	if result := clientLoop.Advance(sim.LoopTickContext{Tick: 1}); result.Err != nil {
		t.Fatalf("client tick: %v", result.Err)
	}
	replica, _ := client.Entity("door")
	if replica.Runtime().ActiveID() != 1 {
		t.Fatalf("expected the client replica to follow the server, got %d", replica.Runtime().ActiveID())
	}
	snapshot := server.Snapshot()
	if len(snapshot) != 1 || snapshot[0].ID != 1 || snapshot[0].Seq != 2 {
		t.Fatalf("unexpected server snapshot %+v", snapshot)
	}
}

func TestWorldRestoreFromSnapshot(t *testing.T) {
	var opened atomic.Int32
	world := New(context.Background(), &driver.Context{Catalog: catalog(t, &opened), Role: blackboard.ServerRole()}, Config{})
	entity, err := world.Restore(driver.Placement{Handle: "door", LogicKey: "door"}, replication.StateUpdate{Entity: "door", ID: 1, Seq: 9})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if entity.Runtime().ActiveID() != 1 {
		t.Fatalf("expected restored state to be active")
	}
	if opened.Load() != 1 {
		t.Fatalf("expected the restored state to be entered once")
	}
	if err := world.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if world.Len() != 0 || !entity.Destroyed() {
		t.Fatalf("expected close to destroy every entity")
	}
}

func TestHostHooksMayCallBackIntoTheWorld(t *testing.T) {
	var (
		world     *World
		remaining []int
		destroyed []blackboard.Handle
	)
	dctx := &driver.Context{
		Catalog: catalog(t, nil),
		Role:    blackboard.ServerRole(),
		Hooks: driver.HostHooks{
			OnDisabled: func(h blackboard.Handle, _ string) {
				if err := world.Remove(h); err != nil {
					t.Errorf("remove from hook: %v", err)
				}
				remaining = append(remaining, world.Len())
			},
			OnDestroyed: func(h blackboard.Handle) {
				destroyed = append(destroyed, h)
			},
		},
	}
	world = New(context.Background(), dctx, Config{})
	world.Place(driver.Placement{Handle: "bomb", LogicKey: "bomb"})
	world.Place(driver.Placement{Handle: "counter", LogicKey: "counter"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for tick := uint64(1); tick <= 3; tick++ {
			world.Advance(context.Background(), tick)
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("expected host hooks to run outside the world lock")
	}
	if len(remaining) != 1 || remaining[0] != 1 {
		t.Fatalf("expected the disabled bomb to be removed from its hook, got %v", remaining)
	}
	if world.Has("bomb") {
		t.Fatalf("expected bomb to be gone")
	}
	if len(destroyed) != 1 || destroyed[0] != "bomb" {
		t.Fatalf("expected one destroyed callback for bomb, got %v", destroyed)
	}
}
