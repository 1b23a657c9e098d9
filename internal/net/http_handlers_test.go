package net

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/eraflo/FallGuys/internal/behavior"
	"github.com/eraflo/FallGuys/internal/net/intake"
	"github.com/eraflo/FallGuys/internal/net/ws"
	"github.com/eraflo/FallGuys/internal/observability"
	"github.com/eraflo/FallGuys/internal/replication"
	"github.com/eraflo/FallGuys/logging"
)

type stubWorld struct {
	entities int
	tick     uint64
}

func (w stubWorld) Len() int     { return w.entities }
func (w stubWorld) Tick() uint64 { return w.tick }

func serve(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func TestHealth(t *testing.T) {
	resp := serve(t, NewHTTPHandler(nil, nil, HTTPHandlerConfig{}), "/health")
	if resp.Code != http.StatusOK || resp.Body.String() != "ok" {
		t.Fatalf("unexpected health response %d %q", resp.Code, resp.Body.String())
	}
}

func TestDiagnosticsReportsWorldAndTelemetry(t *testing.T) {
	metrics := &logging.Metrics{}
	metrics.TelemetryAdd("sim_command_buffer_overflow_total", 3)
	catalog, err := behavior.NewCatalog(behavior.MustDefinition("decor", nil))
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	hub := ws.NewHub(ws.HubConfig{})
	hub.Prime([]replication.StateUpdate{{Entity: "door", Seq: 1}})

	handler := NewHTTPHandler(hub, ws.NewHandler(hub, intake.CommandContext{}, ws.HandlerConfig{}), HTTPHandlerConfig{
		TickRate: 30,
		World:    stubWorld{entities: 4, tick: 12},
		Catalog:  catalog,
		Metrics:  metrics,
	})
	resp := serve(t, handler, "/diagnostics")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}
	if contentType := resp.Header().Get("Content-Type"); contentType != "application/json" {
		t.Fatalf("expected Content-Type application/json, got %q", contentType)
	}

	var payload map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode diagnostics payload: %v", err)
	}
	if payload["tick"] != float64(12) || payload["entities"] != float64(4) || payload["behaviors"] != float64(1) {
		t.Fatalf("unexpected diagnostics payload %v", payload)
	}
	if payload["tickRate"] != float64(30) {
		t.Fatalf("expected tick rate 30, got %v", payload["tickRate"])
	}
	telemetryValue, ok := payload["telemetry"].(map[string]any)
	if !ok {
		t.Fatalf("expected telemetry object in diagnostics payload, got %T", payload["telemetry"])
	}
	if telemetryValue["sim_command_buffer_overflow_total"] != float64(3) {
		t.Fatalf("expected overflow counter in telemetry, got %v", telemetryValue)
	}
}

func TestBehaviorRoutes(t *testing.T) {
	catalog, _ := behavior.NewCatalog(
		behavior.MustDefinition("b", nil),
		behavior.MustDefinition("a", nil),
	)
	handler := NewHTTPHandler(nil, nil, HTTPHandlerConfig{Catalog: catalog})

	var keys struct {
		Keys []string `json:"keys"`
	}
	if err := json.Unmarshal(serve(t, handler, "/behaviors").Body.Bytes(), &keys); err != nil {
		t.Fatalf("decode keys: %v", err)
	}
	if len(keys.Keys) != 2 || keys.Keys[0] != "a" {
		t.Fatalf("expected sorted behavior keys, got %v", keys.Keys)
	}

	schema := serve(t, handler, "/behaviors/schema")
	if schema.Code != http.StatusOK || schema.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected schema response %d", schema.Code)
	}
}

func TestPprofIsOptIn(t *testing.T) {
	if resp := serve(t, NewHTTPHandler(nil, nil, HTTPHandlerConfig{}), "/debug/pprof/"); resp.Code != http.StatusNotFound {
		t.Fatalf("expected pprof to be unmounted by default, got %d", resp.Code)
	}
	handler := NewHTTPHandler(nil, nil, HTTPHandlerConfig{Observability: observability.Config{EnablePprofTrace: true}})
	if resp := serve(t, handler, "/debug/pprof/"); resp.Code != http.StatusOK {
		t.Fatalf("expected pprof index, got %d", resp.Code)
	}
}
