package app

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eraflo/FallGuys/internal/behavior"
	"github.com/eraflo/FallGuys/internal/blackboard"
	"github.com/eraflo/FallGuys/internal/driver"
	"github.com/eraflo/FallGuys/internal/fsm"
	"github.com/eraflo/FallGuys/internal/net/proto"
	"github.com/eraflo/FallGuys/internal/net/ws"
	"github.com/eraflo/FallGuys/internal/replication"
	"github.com/eraflo/FallGuys/internal/sim"
	"github.com/eraflo/FallGuys/logging"
)

const doorDocument = `{
  "key": "door",
  "kind": "stateful",
  "states": [{"name": "Closed"}, {"name": "Open"}]
}`

const serverTOML = `
listen = "127.0.0.1:9000"
tick_rate = 20
workers = 2
log_sinks = ["memory"]

[[placements]]
handle = "door"
logic = "door"

[[placements.overrides]]
name = "Speed"
type_tag = "float"
string_value = "2.5"
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadConfigLayersFileAndEnv(t *testing.T) {
	path := writeFile(t, t.TempDir(), "server.toml", serverTOML)
	t.Setenv("FALLGUYS_TICK_RATE", "60")
	t.Setenv("FALLGUYS_LOG_SINKS", "console,json")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != "127.0.0.1:9000" || cfg.Workers != 2 {
		t.Fatalf("expected file values, got %+v", cfg)
	}
	if cfg.TickRate != 60 {
		t.Fatalf("expected the environment to win, got tick rate %d", cfg.TickRate)
	}
	if len(cfg.LogSinks) != 2 || cfg.LogSinks[1] != "json" {
		t.Fatalf("unexpected sinks %v", cfg.LogSinks)
	}
	if cfg.PerActorLimit != DefaultConfig().PerActorLimit {
		t.Fatalf("expected unset keys to keep their defaults")
	}
	if len(cfg.Placements) != 1 || cfg.Placements[0].LogicKey != "door" || len(cfg.Placements[0].Overrides) != 1 {
		t.Fatalf("unexpected placements %+v", cfg.Placements)
	}
}

func TestLoadConfigWithoutFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("expected a missing file to be ignored, got %v", err)
	}
	if cfg.Listen != ":8080" {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty listen":         func(c *Config) { c.Listen = " " },
		"zero tick rate":       func(c *Config) { c.TickRate = 0 },
		"negative workers":     func(c *Config) { c.Workers = -1 },
		"unknown severity":     func(c *Config) { c.LogMinSeverity = "loud" },
		"reload without a dir": func(c *Config) { c.HotReload = true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}

	cfg := DefaultConfig()
	cfg.LogMinSeverity = "warn"
	cfg.LogJSONPath = "logs/events.jsonl"
	logCfg := cfg.LoggingConfig()
	if logCfg.MinimumSeverity != logging.SeverityWarn || logCfg.JSON.FilePath != "logs/events.jsonl" {
		t.Fatalf("unexpected logging config %+v", logCfg)
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "door.json", doorDocument)

	cfg := DefaultConfig()
	cfg.BehaviorDir = dir
	cfg.LogSinks = []string{"memory"}
	cfg.Placements = []driver.Placement{{Handle: "door", LogicKey: "door"}}

	srv, err := New(context.Background(), Options{Config: cfg, Stdout: io.Discard})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { srv.Close(context.Background()) })
	return srv
}

func TestServerReplicatesStateRequests(t *testing.T) {
	srv := newTestServer(t)
	if srv.World().Len() != 1 || srv.Catalog().Len() != 1 {
		t.Fatalf("expected the door document to be loaded and placed")
	}
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)

	client, err := ws.Dial(context.Background(), httpSrv.URL+"/ws", ws.ClientConfig{PeerID: "peer-1"})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	updates := make(chan replication.StateUpdate, 8)
	acks := make(chan proto.CommandAck, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx, ws.ClientHandlers{
		OnUpdate: func(u replication.StateUpdate) { updates <- u },
		OnAck:    func(a proto.CommandAck) { acks <- a },
	})

	expectUpdate := func(id int32, seq uint64) {
		t.Helper()
		select {
		case u := <-updates:
			if u.Entity != "door" || u.ID != id || u.Seq != seq {
				t.Fatalf("expected door id %d seq %d, got %+v", id, seq, u)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for door id %d", id)
		}
	}
	expectUpdate(0, 1)

	if err := client.Send(replication.StateIntent("door", 1)); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case <-acks:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for the ack")
	}

	if result := srv.Loop().Advance(sim.LoopTickContext{Tick: 1}); result.Err != nil {
		t.Fatalf("tick: %v", result.Err)
	}
	expectUpdate(1, 2)

	resp, err := http.Get(httpSrv.URL + "/diagnostics")
	if err != nil {
		t.Fatalf("diagnostics: %v", err)
	}
	defer resp.Body.Close()
	var payload struct {
		Entities    int                        `json:"entities"`
		Tick        uint64                     `json:"tick"`
		Subscribers []ws.SubscriberDiagnostics `json:"subscribers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode diagnostics: %v", err)
	}
	if payload.Entities != 1 || payload.Tick != 1 || len(payload.Subscribers) != 1 {
		t.Fatalf("unexpected diagnostics %+v", payload)
	}
	if !strings.HasPrefix(payload.Subscribers[0].ID, "peer-1") {
		t.Fatalf("unexpected subscriber %+v", payload.Subscribers[0])
	}
}

func TestServeStopsWithContext(t *testing.T) {
	srv := newTestServer(t)
	ln, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	deadline := time.Now().Add(5 * time.Second)
	for srv.Loop().Tick() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected the loop to tick")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not stop")
	}
}

func TestRemovedEntityReleasesReplicatedState(t *testing.T) {
	srv := newTestServer(t)
	door, _ := srv.World().Entity("door")
	if err := door.Runtime().ChangeState(1); err != nil {
		t.Fatalf("change state: %v", err)
	}
	if got := srv.Hub().Snapshot(); len(got) != 1 || got[0].ID != 1 || got[0].Seq != 2 {
		t.Fatalf("unexpected hub state %+v", got)
	}

	if err := srv.World().Remove("door"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := srv.Hub().Snapshot(); len(got) != 0 {
		t.Fatalf("expected the removed entity to leave the hub, got %+v", got)
	}
	if _, err := srv.World().Place(driver.Placement{Handle: "door", LogicKey: "door"}); err != nil {
		t.Fatalf("place again: %v", err)
	}
	if got := srv.Hub().Snapshot(); len(got) != 1 || got[0].ID != 0 || got[0].Seq != 1 {
		t.Fatalf("expected late joiners to see the new door, got %+v", got)
	}
	if got := srv.Metrics().Snapshot()["driver_entity_destroyed_total"]; got != 1 {
		t.Fatalf("expected one destroyed entity, got %d", got)
	}
}

func doorDefinition(serverOpened, clientOpened *atomic.Int32) *behavior.Definition {
	closed := fsm.NewState("Closed", fsm.Hooks{})
	open := fsm.NewState("Open", fsm.Hooks{
		OnServerEnter: func(context.Context, *blackboard.Store) { serverOpened.Add(1) },
		OnClientEnter: func(context.Context, *blackboard.Store) { clientOpened.Add(1) },
	})
	return behavior.MustDefinition("door", behavior.Stateful{Table: fsm.MustTable("door", closed, open)})
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestClientFollowsServerTransitions(t *testing.T) {
	var serverOpened, clientOpened atomic.Int32
	definitions := []*behavior.Definition{doorDefinition(&serverOpened, &clientOpened)}

	cfg := DefaultConfig()
	cfg.LogSinks = []string{"memory"}
	cfg.Placements = []driver.Placement{{Handle: "door", LogicKey: "door"}}
	srv, err := New(context.Background(), Options{Config: cfg, Definitions: definitions, Stdout: io.Discard})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { srv.Close(context.Background()) })
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)

	clientCfg := cfg
	clientCfg.TickRate = 100
	client, err := NewClient(context.Background(), ClientOptions{
		Config:            clientCfg,
		ServerURL:         httpSrv.URL + "/ws",
		PeerID:            "peer-1",
		HeartbeatInterval: -1,
		Definitions:       definitions,
		Stdout:            io.Discard,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { client.Close(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	if err := client.Uplink().Send(replication.StateIntent("door", 1)); err != nil {
		t.Fatalf("send: %v", err)
	}
	eventually(t, "the state request to be staged", func() bool { return srv.Loop().Pending() > 0 })
	if result := srv.Loop().Advance(sim.LoopTickContext{Tick: 1}); result.Err != nil {
		t.Fatalf("tick: %v", result.Err)
	}
	eventually(t, "the client replica to enter Open", func() bool { return clientOpened.Load() == 1 })

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("client run: %v", err)
	}
	replica, ok := client.World().Entity("door")
	if !ok || replica.Runtime().ActiveID() != 1 {
		t.Fatalf("expected the replica to be in Open")
	}
	if serverOpened.Load() != 1 {
		t.Fatalf("expected the server branch to run once on the server, got %d", serverOpened.Load())
	}
}
