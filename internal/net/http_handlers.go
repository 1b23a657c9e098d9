package net

import (
	"encoding/json"
	nethttp "net/http"
	"net/http/pprof"
	"time"

	"github.com/eraflo/FallGuys/internal/behavior"
	"github.com/eraflo/FallGuys/internal/behavior/authoring"
	"github.com/eraflo/FallGuys/internal/net/ws"
	"github.com/eraflo/FallGuys/internal/observability"
	"github.com/eraflo/FallGuys/internal/telemetry"
	"github.com/eraflo/FallGuys/logging"
)

// WorldView is the part of the simulation the diagnostics endpoint reads.
type WorldView interface {
	Len() int
	Tick() uint64
}

type HTTPHandlerConfig struct {
	Logger        telemetry.Logger
	Observability observability.Config
	TickRate      int
	World         WorldView
	Catalog       *behavior.Catalog
	Metrics       *logging.Metrics
	Router        *logging.Router
	Clock         logging.Clock
}

// NewHTTPHandler mounts the health, diagnostics, behavior and websocket routes.
func NewHTTPHandler(hub *ws.Hub, sessions *ws.Handler, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.Nop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = logging.ClockFunc(time.Now)
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status      string                     `json:"status"`
			ServerTime  int64                      `json:"serverTime"`
			TickRate    int                        `json:"tickRate"`
			Tick        uint64                     `json:"tick"`
			Entities    int                        `json:"entities"`
			Behaviors   int                        `json:"behaviors"`
			Subscribers []ws.SubscriberDiagnostics `json:"subscribers"`
			Telemetry   map[string]uint64          `json:"telemetry"`
			Logging     *logging.RouterStats       `json:"logging,omitempty"`
		}{
			Status:     "ok",
			ServerTime: clock.Now().UnixMilli(),
			TickRate:   cfg.TickRate,
		}
		if cfg.Router != nil {
			stats := cfg.Router.Stats()
			cfg.Metrics.RecordRouter(stats)
			payload.Logging = &stats
		}
		payload.Telemetry = cfg.Metrics.Snapshot()
		if cfg.World != nil {
			payload.Tick = cfg.World.Tick()
			payload.Entities = cfg.World.Len()
		}
		if cfg.Catalog != nil {
			payload.Behaviors = cfg.Catalog.Len()
		}
		if hub != nil {
			payload.Subscribers = hub.DiagnosticsSnapshot()
		}
		writeJSON(w, logger, payload)
	})

	mux.HandleFunc("/behaviors", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		keys := []string{}
		if cfg.Catalog != nil {
			keys = cfg.Catalog.Keys()
		}
		writeJSON(w, logger, struct {
			Keys []string `json:"keys"`
		}{Keys: keys})
	})

	mux.HandleFunc("/behaviors/schema", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		writeJSON(w, logger, authoring.Schema())
	})

	if sessions != nil {
		mux.HandleFunc("/ws", sessions.Handle)
	}

	if cfg.Observability.EnablePprofTrace {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	return mux
}

func writeJSON(w nethttp.ResponseWriter, logger telemetry.Logger, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Printf("failed to encode response: %v", err)
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(code)
	w.Write([]byte(msg))
}
