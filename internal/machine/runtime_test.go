package machine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/eraflo/FallGuys/internal/blackboard"
	"github.com/eraflo/FallGuys/internal/fsm"
	"github.com/eraflo/FallGuys/internal/fsm/conditions"
	"github.com/eraflo/FallGuys/internal/replication"
	"github.com/eraflo/FallGuys/logging/sinks"
	loggingstatemachine "github.com/eraflo/FallGuys/logging/statemachine"
)

type recorder struct {
	calls []string
}

func (r *recorder) hooks(name string) fsm.Hooks {
	return fsm.Hooks{
		OnEnter:        func(context.Context, *blackboard.Store) { r.add(name + ".enter") },
		OnServerEnter:  func(context.Context, *blackboard.Store) { r.add(name + ".server_enter") },
		OnClientEnter:  func(context.Context, *blackboard.Store) { r.add(name + ".client_enter") },
		OnUpdate:       func(*blackboard.Store) { r.add(name + ".update") },
		OnServerUpdate: func(*blackboard.Store) { r.add(name + ".server_update") },
		OnClientUpdate: func(*blackboard.Store) { r.add(name + ".client_update") },
		OnExit:         func(*blackboard.Store) { r.add(name + ".exit") },
		OnServerExit:   func(*blackboard.Store) { r.add(name + ".server_exit") },
		OnClientExit:   func(*blackboard.Store) { r.add(name + ".client_exit") },
		OnActionReceived: func(_ *blackboard.Store, action fsm.Action) {
			r.add(name + ".action:" + action.Name)
		},
	}
}

func (r *recorder) add(call string) { r.calls = append(r.calls, call) }

func (r *recorder) reset() { r.calls = nil }

func (r *recorder) joined() string { return strings.Join(r.calls, " ") }

func (r *recorder) count(call string) int {
	n := 0
	for _, c := range r.calls {
		if c == call {
			n++
		}
	}
	return n
}

// playerTable builds [Idle, Move] with Idle -> Move when Direction is non-zero.
func playerTable(rec *recorder) (*fsm.Table, *fsm.State, *fsm.State) {
	idle := fsm.NewState("Idle", rec.hooks("idle"))
	move := fsm.NewState("Move", rec.hooks("move"))
	idle.To(move, conditions.NonZero("Direction"))
	move.To(idle, fsm.Not(conditions.NonZero("Direction")))
	return fsm.MustTable("player", idle, move), idle, move
}

func newServer(t *testing.T, table *fsm.Table, downlink replication.Downlink) (*Runtime, *sinks.MemorySink) {
	t.Helper()
	mem := sinks.NewMemorySink()
	r := New(Config{
		Table:     table,
		Store:     blackboard.New("e1", blackboard.ServerRole()),
		Downlink:  downlink,
		Publisher: mem,
	})
	return r, mem
}

func newClient(t *testing.T, table *fsm.Table, uplink replication.Uplink) (*Runtime, *sinks.MemorySink) {
	t.Helper()
	mem := sinks.NewMemorySink()
	r := New(Config{
		Table:     table,
		Store:     blackboard.New("e1", blackboard.ClientRole(true)),
		Uplink:    uplink,
		Publisher: mem,
	})
	return r, mem
}

func TestSpawnAssignsFirstStateBeforeUpdates(t *testing.T) {
	rec := &recorder{}
	table, _, _ := playerTable(rec)
	r, _ := newServer(t, table, nil)

	if r.Phase() != PhaseUninitialized || r.CurrentID() != Unset {
		t.Fatalf("expected uninitialized runtime, got %s id=%d", r.Phase(), r.CurrentID())
	}
	if err := r.Spawn(); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	r.Tick(1)
	r.Tick(2)

	if r.CurrentID() != 0 || r.Phase() != PhaseActive {
		t.Fatalf("expected Idle to be active, got id=%d phase=%s", r.CurrentID(), r.Phase())
	}
	want := "idle.enter idle.server_enter idle.update idle.server_update idle.update idle.server_update"
	if got := rec.joined(); got != want {
		t.Fatalf("unexpected hook order\nwant %s\ngot  %s", want, got)
	}
}

func TestTransitionReplicatesToClients(t *testing.T) {
	net := replication.NewLoopback()
	net.Join("alice")

	serverRec := &recorder{}
	serverTable, _, _ := playerTable(serverRec)
	server, _ := newServer(t, serverTable, net)

	clientRec := &recorder{}
	clientTable, _, _ := playerTable(clientRec)
	client, _ := newClient(t, clientTable, net.Uplink("alice"))

	_ = server.Spawn()
	_ = client.Spawn()
	deliver(t, net, "alice", client)
	if client.CurrentID() != 0 {
		t.Fatalf("expected client to observe Idle, got %d", client.CurrentID())
	}

	server.Store().Set("Direction", blackboard.Vec2{X: 1, Y: 0})
	serverRec.reset()
	server.Tick(1)

	wantServer := "idle.update idle.server_update idle.server_exit idle.exit move.enter move.server_enter"
	if got := serverRec.joined(); got != wantServer {
		t.Fatalf("unexpected server hooks\nwant %s\ngot  %s", wantServer, got)
	}
	if server.CurrentID() != 1 {
		t.Fatalf("expected server to be in Move, got %d", server.CurrentID())
	}
	if client.CurrentID() != 0 {
		t.Fatalf("expected client to lag until delivery")
	}

	clientRec.reset()
	deliver(t, net, "alice", client)
	if client.CurrentID() != 1 {
		t.Fatalf("expected client to observe Move, got %d", client.CurrentID())
	}
	wantClient := "idle.client_exit idle.exit move.enter move.client_enter"
	if got := clientRec.joined(); got != wantClient {
		t.Fatalf("unexpected client hooks\nwant %s\ngot  %s", wantClient, got)
	}

	clientRec.reset()
	client.Tick(2)
	if got := clientRec.joined(); got != "move.update move.client_update" {
		t.Fatalf("expected clients not to evaluate transitions, got %s", got)
	}
}

func deliver(t *testing.T, net *replication.Loopback, peer string, client *Runtime) {
	t.Helper()
	for _, update := range net.Updates(peer) {
		if _, err := client.ApplyUpdate(update); err != nil {
			t.Fatalf("apply update: %v", err)
		}
	}
}

func TestClientChangeStateIsRejected(t *testing.T) {
	rec := &recorder{}
	table, _, _ := playerTable(rec)
	client, mem := newClient(t, table, nil)
	_ = client.Spawn()
	if _, err := client.ApplyUpdate(replication.StateUpdate{Entity: "e1", ID: 0, Seq: 1}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	err := client.ChangeState(1)
	if !errors.Is(err, ErrNotAuthority) {
		t.Fatalf("expected ErrNotAuthority, got %v", err)
	}
	if client.CurrentID() != 0 {
		t.Fatalf("expected replicated id to be unchanged, got %d", client.CurrentID())
	}
	if len(mem.OfType(loggingstatemachine.EventChangeRejected)) != 1 {
		t.Fatalf("expected a rejection event")
	}
}

func TestDuplicateUpdateRunsNoHooks(t *testing.T) {
	rec := &recorder{}
	table, _, _ := playerTable(rec)
	client, _ := newClient(t, table, nil)
	_ = client.Spawn()

	update := replication.StateUpdate{Entity: "e1", ID: 1, Seq: 1}
	_, _ = client.ApplyUpdate(update)
	rec.reset()

	applied, err := client.ApplyUpdate(update)
	if err != nil || applied {
		t.Fatalf("expected duplicate sequence to be dropped, applied=%v err=%v", applied, err)
	}
	applied, _ = client.ApplyUpdate(replication.StateUpdate{Entity: "e1", ID: 1, Seq: 2})
	if !applied {
		t.Fatalf("expected newer sequence to be accepted")
	}
	if len(rec.calls) != 0 {
		t.Fatalf("expected no lifecycle calls for an unchanged value, got %v", rec.calls)
	}
	_, _ = client.ApplyUpdate(replication.StateUpdate{Entity: "e1", ID: 0, Seq: 1})
	if client.CurrentID() != 1 {
		t.Fatalf("expected stale update to be ignored")
	}
}

func TestFirstSatisfiedTransitionWins(t *testing.T) {
	rec := &recorder{}
	start := fsm.NewState("Start", rec.hooks("start"))
	a := fsm.NewState("A", rec.hooks("a"))
	b := fsm.NewState("B", rec.hooks("b"))
	start.To(a).To(b)
	table := fsm.MustTable("t", start, a, b)
	r, _ := newServer(t, table, nil)
	_ = r.Spawn()
	r.Tick(1)
	if r.CurrentID() != 1 {
		t.Fatalf("expected lowest-indexed transition to win, got %d", r.CurrentID())
	}
}

func TestSelfTransitionIsNoop(t *testing.T) {
	rec := &recorder{}
	idle := fsm.NewState("Idle", rec.hooks("idle"))
	other := fsm.NewState("Other", rec.hooks("other"))
	idle.To(idle).To(other)
	r, _ := newServer(t, fsm.MustTable("t", idle, other), nil)
	_ = r.Spawn()
	rec.reset()
	r.Tick(1)
	if r.CurrentID() != 0 {
		t.Fatalf("expected self transition to stop the scan, got %d", r.CurrentID())
	}
	if rec.count("idle.exit") != 0 || rec.count("idle.enter") != 0 {
		t.Fatalf("expected no re-entry, got %v", rec.calls)
	}
}

func TestUnregisteredTargetIsSkipped(t *testing.T) {
	rec := &recorder{}
	idle := fsm.NewState("Idle", rec.hooks("idle"))
	stranger := fsm.NewState("Stranger", fsm.Hooks{})
	idle.To(stranger).To(nil)
	r, mem := newServer(t, fsm.MustTable("t", idle), nil)
	_ = r.Spawn()
	r.Tick(1)
	r.Tick(2)
	if r.CurrentID() != 0 || r.Active() != idle {
		t.Fatalf("expected Idle to remain active")
	}
	if got := len(mem.OfType(loggingstatemachine.EventConfigError)); got != 2 {
		t.Fatalf("expected one config error per bad transition, got %d", got)
	}
}

func TestUnregisteredTargetDoesNotBlockLaterTransitions(t *testing.T) {
	idle := fsm.NewState("Idle", fsm.Hooks{})
	move := fsm.NewState("Move", fsm.Hooks{})
	idle.To(fsm.NewState("Stranger", fsm.Hooks{})).To(move)
	r, _ := newServer(t, fsm.MustTable("t", idle, move), nil)
	_ = r.Spawn()
	r.Tick(1)
	if r.CurrentID() != 1 {
		t.Fatalf("expected scan to continue past the skipped transition, got %d", r.CurrentID())
	}
}

func TestEmptyTableStaysUninitialized(t *testing.T) {
	r, mem := newServer(t, fsm.MustTable("empty"), nil)
	if err := r.Spawn(); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	r.Tick(1)
	if r.Phase() != PhaseUninitialized || r.CurrentID() != Unset {
		t.Fatalf("expected uninitialized runtime")
	}
	if len(mem.OfType(loggingstatemachine.EventConfigError)) != 1 {
		t.Fatalf("expected a config error for the empty table")
	}
	if !errors.Is(r.ChangeState(0), ErrUnknownState) {
		t.Fatalf("expected ErrUnknownState")
	}
}

func TestLateJoinEntersWithoutPreviousExit(t *testing.T) {
	rec := &recorder{}
	table, _, _ := playerTable(rec)
	client, _ := newClient(t, table, nil)
	if _, err := client.ApplyUpdate(replication.StateUpdate{Entity: "e1", ID: 1, Seq: 7}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(rec.calls) != 0 {
		t.Fatalf("expected no hooks before spawn")
	}
	_ = client.Spawn()
	if got := rec.joined(); got != "move.enter move.client_enter" {
		t.Fatalf("unexpected late join hooks: %s", got)
	}
	if client.Seq() != 7 {
		t.Fatalf("expected sequence to be restored, got %d", client.Seq())
	}
}

func TestServerRestoreSkipsInitialAssignment(t *testing.T) {
	var published []replication.StateUpdate
	rec := &recorder{}
	table, _, _ := playerTable(rec)
	r, _ := newServer(t, table, replication.DownlinkFunc(func(u replication.StateUpdate) { published = append(published, u) }))
	r.Restore(1, 4)
	_ = r.Spawn()
	if r.CurrentID() != 1 || rec.joined() != "move.enter move.server_enter" {
		t.Fatalf("expected restored state to be entered, got %d %s", r.CurrentID(), rec.joined())
	}
	if len(published) != 0 {
		t.Fatalf("expected restore not to publish")
	}
	_ = r.ChangeState(0)
	if len(published) != 1 || published[0].Seq != 5 || published[0].Fingerprint != table.Fingerprint() {
		t.Fatalf("unexpected publication %+v", published)
	}
}

func TestScopeCancelledBeforeExitHooks(t *testing.T) {
	var scope context.Context
	var cancelledAtExit bool
	idle := fsm.NewState("Idle", fsm.Hooks{
		OnEnter: func(ctx context.Context, _ *blackboard.Store) { scope = ctx },
		OnExit: func(*blackboard.Store) {
			cancelledAtExit = scope.Err() != nil
		},
	})
	move := fsm.NewState("Move", fsm.Hooks{
		OnEnter: func(context.Context, *blackboard.Store) {
			if scope.Err() == nil {
				panic("previous scope still live at enter")
			}
		},
	})
	r, _ := newServer(t, fsm.MustTable("t", idle, move), nil)
	_ = r.Spawn()
	if scope == nil || scope.Err() != nil {
		t.Fatalf("expected a live scope after enter")
	}
	_ = r.ChangeState(1)
	if !cancelledAtExit {
		t.Fatalf("expected scope to be cancelled before exit hooks")
	}
}

func TestDestroyExitsActiveState(t *testing.T) {
	rec := &recorder{}
	table, _, _ := playerTable(rec)
	r, _ := newServer(t, table, nil)
	_ = r.Spawn()
	scope := r.Scope()
	rec.reset()
	r.Destroy()
	if got := rec.joined(); got != "idle.server_exit idle.exit" {
		t.Fatalf("unexpected destroy hooks: %s", got)
	}
	if scope.Err() == nil {
		t.Fatalf("expected scope to be cancelled on destroy")
	}
	if r.Phase() != PhaseDestroyed || !errors.Is(r.ChangeState(0), ErrDestroyed) {
		t.Fatalf("expected terminal phase")
	}
	r.Destroy()
	r.Tick(5)
}

func TestChangeStateFromHookIsQueued(t *testing.T) {
	var r *Runtime
	var active []int
	b := fsm.NewState("B", fsm.Hooks{})
	a := fsm.NewState("A", fsm.Hooks{
		OnServerEnter: func(context.Context, *blackboard.Store) {
			if err := r.ChangeState(1); err != nil {
				panic(err)
			}
			active = append(active, int(r.ActiveID()))
		},
	})
	r, _ = newServer(t, fsm.MustTable("t", a, b), nil)
	_ = r.Spawn()
	if len(active) != 1 || active[0] != 0 {
		t.Fatalf("expected A to stay active while its hooks run, got %v", active)
	}
	if r.CurrentID() != 1 || r.Active() != b {
		t.Fatalf("expected queued change to apply afterwards, got %d", r.CurrentID())
	}
}

func TestUpdateHookChangeSkipsEvaluation(t *testing.T) {
	var r *Runtime
	a := fsm.NewState("A", fsm.Hooks{})
	b := fsm.NewState("B", fsm.Hooks{})
	c := fsm.NewState("C", fsm.Hooks{})
	a.Hooks.OnServerUpdate = func(*blackboard.Store) { _ = r.ChangeState(2) }
	a.To(b)
	r, _ = newServer(t, fsm.MustTable("t", a, b, c), nil)
	_ = r.Spawn()
	r.Tick(1)
	if r.CurrentID() != 2 {
		t.Fatalf("expected hook-requested change to win, got %d", r.CurrentID())
	}
}

func TestActionsReachActiveStateOnServer(t *testing.T) {
	rec := &recorder{}
	table, _, _ := playerTable(rec)
	r, mem := newServer(t, table, nil)

	if r.ReceiveAction(fsm.Action{Name: "jump"}) {
		t.Fatalf("expected action without active state to be dropped")
	}
	_ = r.Spawn()
	rec.reset()
	if err := r.HandleIntent(replication.Intent{Kind: replication.IntentAction, Entity: "e1", Name: "jump", Origin: "alice"}); err != nil {
		t.Fatalf("intent: %v", err)
	}
	if got := rec.joined(); got != "idle.action:jump" {
		t.Fatalf("unexpected action delivery: %s", got)
	}
	events := mem.OfType(loggingstatemachine.EventActionReceived)
	if len(events) != 2 {
		t.Fatalf("expected dropped and delivered action events, got %d", len(events))
	}
}

func TestClientIntentsTravelOverUplink(t *testing.T) {
	net := replication.NewLoopback()
	net.Join("alice")
	rec := &recorder{}
	table, _, _ := playerTable(rec)
	client, _ := newClient(t, table, net.Uplink("alice"))
	_ = client.Spawn()

	if err := client.SendAction("dash", "left"); err != nil {
		t.Fatalf("send action: %v", err)
	}
	if err := client.RequestStateChange(1); err != nil {
		t.Fatalf("request state: %v", err)
	}
	if rec.count("idle.action:dash") != 0 {
		t.Fatalf("expected client not to run action hooks locally")
	}

	server, mem := newServer(t, table, nil)
	_ = server.Spawn()
	for _, intent := range net.Intents() {
		if err := server.HandleIntent(intent); err != nil {
			t.Fatalf("handle intent: %v", err)
		}
	}
	if server.CurrentID() != 1 {
		t.Fatalf("expected state request to be applied, got %d", server.CurrentID())
	}
	requested := mem.OfType(loggingstatemachine.EventStateRequested)
	if len(requested) != 1 {
		t.Fatalf("expected state request to be logged")
	}
	if payload := requested[0].Payload.(loggingstatemachine.StateRequestedPayload); !payload.Applied || payload.Origin != "alice" {
		t.Fatalf("unexpected request payload %+v", payload)
	}
	if !errors.Is(server.HandleStateRequest(9, "alice"), ErrUnknownState) {
		t.Fatalf("expected out-of-range request to be rejected")
	}

	offline, _ := newClient(t, table, nil)
	if !errors.Is(offline.SendAction("x", ""), ErrNoUplink) {
		t.Fatalf("expected ErrNoUplink")
	}
}

func TestFingerprintMismatchIsRejected(t *testing.T) {
	rec := &recorder{}
	table, _, _ := playerTable(rec)
	client, mem := newClient(t, table, nil)
	_ = client.Spawn()
	_, err := client.ApplyUpdate(replication.StateUpdate{Entity: "e1", ID: 0, Seq: 1, Fingerprint: table.Fingerprint() + 1})
	if !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected ErrFingerprintMismatch, got %v", err)
	}
	if client.CurrentID() != Unset || len(mem.OfType(loggingstatemachine.EventConfigError)) != 1 {
		t.Fatalf("expected update to be refused and logged")
	}
}

func TestOutOfRangeUpdateSuppressesHooks(t *testing.T) {
	rec := &recorder{}
	table, _, _ := playerTable(rec)
	client, _ := newClient(t, table, nil)
	_ = client.Spawn()
	_, _ = client.ApplyUpdate(replication.StateUpdate{Entity: "e1", ID: 0, Seq: 1})
	rec.reset()
	_, _ = client.ApplyUpdate(replication.StateUpdate{Entity: "e1", ID: 42, Seq: 2})
	client.Tick(1)
	if got := rec.joined(); got != "idle.client_exit idle.exit" {
		t.Fatalf("expected exit and no further hooks, got %s", got)
	}
	if client.Active() != nil || client.Phase() != PhaseUninitialized {
		t.Fatalf("expected no active state")
	}
	_, _ = client.ApplyUpdate(replication.StateUpdate{Entity: "e1", ID: 1, Seq: 3})
	if client.Active() == nil || client.Active().Name != "Move" {
		t.Fatalf("expected valid id to resume hooks")
	}
}

func TestHostFollowsServerBranch(t *testing.T) {
	rec := &recorder{}
	table, _, _ := playerTable(rec)
	r := New(Config{Table: table, Store: blackboard.New("e1", blackboard.HostRole(true))})
	_ = r.Spawn()
	r.Tick(1)
	want := "idle.enter idle.server_enter idle.update idle.server_update"
	if got := rec.joined(); got != want {
		t.Fatalf("unexpected host hooks\nwant %s\ngot  %s", want, got)
	}
}
