package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eraflo/FallGuys/internal/behavior"
	"github.com/eraflo/FallGuys/internal/behavior/authoring"
	"github.com/eraflo/FallGuys/internal/blackboard"
	"github.com/eraflo/FallGuys/internal/driver"
	"github.com/eraflo/FallGuys/internal/net/proto"
	"github.com/eraflo/FallGuys/internal/net/ws"
	"github.com/eraflo/FallGuys/internal/observability"
	"github.com/eraflo/FallGuys/internal/replication"
	"github.com/eraflo/FallGuys/internal/sim"
	"github.com/eraflo/FallGuys/internal/simworld"
	"github.com/eraflo/FallGuys/internal/telemetry"
	"github.com/eraflo/FallGuys/logging"
)

// DefaultHeartbeatInterval is how often a client measures its round trip.
const DefaultHeartbeatInterval = time.Second

// ClientOptions configures a replica participant. Config supplies the tick
// rate, loop limits, workers, logging, behavior directory and placements; its
// listen address is unused.
type ClientOptions struct {
	Config    Config
	ServerURL string
	PeerID    string
	// HeartbeatInterval disables heartbeats when negative.
	HeartbeatInterval time.Duration

	Logger      telemetry.Logger
	Registry    *authoring.Registry
	Definitions []*behavior.Definition
	Stdout      io.Writer
	Clock       logging.Clock
}

// Client is a composed replica participant: a client-role world driven by
// its own tick loop, fed by the server's updates and sending intents over the
// same websocket session.
type Client struct {
	cfg       Config
	logger    telemetry.Logger
	router    *logging.Router
	metrics   *logging.Metrics
	catalog   *behavior.Catalog
	world     *simworld.World
	loop      *sim.Loop
	conn      *ws.Client
	clock     logging.Clock
	heartbeat time.Duration
}

// NewClient dials the server and places the configured entities as
// replicas. Nothing runs until Run.
func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.ServerURL == "" {
		return nil, errors.New("client requires a server url")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	clock := opts.Clock
	if clock == nil {
		clock = logging.ClockFunc(time.Now)
	}
	heartbeat := opts.HeartbeatInterval
	if heartbeat == 0 {
		heartbeat = DefaultHeartbeatInterval
	}

	router, err := newRouter(cfg, clock, opts.Stdout)
	if err != nil {
		return nil, err
	}
	catalog, err := behavior.NewCatalog(opts.Definitions...)
	if err != nil {
		router.Close(ctx)
		return nil, err
	}
	loadLibrary(cfg, opts.Registry, catalog, logger)

	conn, err := ws.Dial(ctx, opts.ServerURL, ws.ClientConfig{PeerID: opts.PeerID, Logger: logger})
	if err != nil {
		router.Close(ctx)
		return nil, fmt.Errorf("failed to connect to %s: %w", opts.ServerURL, err)
	}

	c := &Client{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		metrics:   &logging.Metrics{},
		catalog:   catalog,
		conn:      conn,
		clock:     clock,
		heartbeat: heartbeat,
	}
	metrics := telemetry.WrapMetrics(c.metrics)

	dctx := &driver.Context{
		Catalog:   catalog,
		Role:      blackboard.ClientRole(false),
		Logger:    logger,
		Publisher: router,
		Uplink:    conn,
		Clock:     clock,
		Tracer:    observability.NewTracer(cfg.ObservabilityConfig()),
		Hooks: driver.HostHooks{
			OnDisabled: func(blackboard.Handle, string) {
				metrics.Add("driver_entity_disabled_total", 1)
			},
		},
	}
	c.world = simworld.New(ctx, dctx, simworld.Config{Workers: cfg.Workers})
	for _, placement := range cfg.Placements {
		if _, err := c.world.Place(placement); err != nil {
			logger.Printf("failed to place %s (%s): %v", placement.Handle, placement.LogicKey, err)
		}
	}

	engine := simworld.NewEngine(ctx, c.world, sim.Deps{Logger: logger, Metrics: metrics, Clock: clock})
	c.loop = sim.NewLoop(engine, cfg.LoopConfig(), sim.LoopHooks{
		AfterStep: func(result sim.LoopStepResult) {
			metrics.Store("sim_tick", result.Tick)
		},
	})
	return c, nil
}

func (c *Client) World() *simworld.World { return c.world }
func (c *Client) Loop() *sim.Loop { return c.loop }
func (c *Client) Catalog() *behavior.Catalog { return c.catalog }
func (c *Client) Metrics() *logging.Metrics { return c.metrics }

// Uplink returns the session the client's entities send intents through.
func (c *Client) Uplink() replication.Uplink { return c.conn }

// Run reads the session and ticks the replica world until ctx is cancelled
// or the session ends.
func (c *Client) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		err := c.conn.Run(gctx, ws.ClientHandlers{
			OnUpdate: c.receive,
			OnReject: func(reject proto.CommandReject) {
				c.logger.Printf("server rejected command %d: %s", reject.Seq, reject.Reason)
			},
			OnHeartbeat: func(beat proto.Heartbeat) {
				if beat.RTTMillis >= 0 {
					c.metrics.TelemetryStore("ws_rtt_ms", uint64(beat.RTTMillis))
				}
			},
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		c.loop.Run(gctx.Done())
		return nil
	})
	if c.heartbeat > 0 {
		group.Go(func() error {
			ticker := time.NewTicker(c.heartbeat)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if err := c.conn.Heartbeat(c.clock.Now()); err != nil && !errors.Is(err, ws.ErrClientClosed) {
						c.logger.Printf("heartbeat failed: %v", err)
					}
				}
			}
		})
	}
	return group.Wait()
}

// receive stages an authoritative update for the next client tick.
func (c *Client) receive(update replication.StateUpdate) {
	if ok, reason := c.loop.Enqueue(sim.UpdateCommand(update)); !ok {
		c.logger.Printf("dropped update for %s seq %d: %s", update.Entity, update.Seq, reason)
	}
}

// Close ends the session, destroys the replicas and flushes the logging
// router.
func (c *Client) Close(ctx context.Context) error {
	connErr := c.conn.Close()
	worldErr := c.world.Close()
	routerErr := c.router.Close(ctx)
	return errors.Join(connErr, worldErr, routerErr)
}
