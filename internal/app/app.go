// Package app wires the behavior runtime, the tick loop and the network
// transport into a runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	stdnet "net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eraflo/FallGuys/internal/behavior"
	"github.com/eraflo/FallGuys/internal/behavior/authoring"
	"github.com/eraflo/FallGuys/internal/blackboard"
	"github.com/eraflo/FallGuys/internal/driver"
	servernet "github.com/eraflo/FallGuys/internal/net"
	"github.com/eraflo/FallGuys/internal/net/intake"
	"github.com/eraflo/FallGuys/internal/net/ws"
	"github.com/eraflo/FallGuys/internal/observability"
	"github.com/eraflo/FallGuys/internal/sim"
	"github.com/eraflo/FallGuys/internal/simworld"
	"github.com/eraflo/FallGuys/internal/telemetry"
	"github.com/eraflo/FallGuys/logging"
	loggingSinks "github.com/eraflo/FallGuys/logging/sinks"
)

const shutdownTimeout = 5 * time.Second

// Options carries what an embedding host adds on top of Config.
type Options struct {
	Config Config
	Logger telemetry.Logger
	// Registry resolves names used by behavior documents. A fresh registry
	// with the built-in conditions is used when nil.
	Registry *authoring.Registry
	// Definitions are registered before documents are loaded.
	Definitions []*behavior.Definition
	Stdout      io.Writer
	Clock       logging.Clock
}

// Server is the composed authoritative participant.
type Server struct {
	cfg     Config
	logger  telemetry.Logger
	router  *logging.Router
	metrics *logging.Metrics
	catalog *behavior.Catalog
	library *authoring.Library
	world   *simworld.World
	hub     *ws.Hub
	loop    *sim.Loop
	handler http.Handler
}

// New builds the server and places the configured entities. Nothing runs
// until Serve.
func New(ctx context.Context, opts Options) (*Server, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	clock := opts.Clock
	if clock == nil {
		clock = logging.ClockFunc(time.Now)
	}
	router, err := newRouter(cfg, clock, opts.Stdout)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		router:  router,
		metrics: &logging.Metrics{},
	}

	catalog, err := behavior.NewCatalog(opts.Definitions...)
	if err != nil {
		router.Close(ctx)
		return nil, err
	}
	s.catalog = catalog

	s.library = loadLibrary(cfg, opts.Registry, catalog, logger)

	metrics := telemetry.WrapMetrics(s.metrics)
	s.hub = ws.NewHub(ws.HubConfig{
		Logger:    logger,
		Metrics:   metrics,
		Publisher: router,
		Clock:     clock,
		Tick:      func() uint64 { return s.loop.Tick() },
	})

	dctx := &driver.Context{
		Catalog:   catalog,
		Role:      blackboard.ServerRole(),
		Logger:    logger,
		Publisher: router,
		Downlink:  s.hub,
		Clock:     clock,
		Tracer:    observability.NewTracer(cfg.ObservabilityConfig()),
		Hooks: driver.HostHooks{
			OnResolved: func(blackboard.Handle, *behavior.Definition) {
				metrics.Add("driver_behavior_resolved_total", 1)
			},
			OnDisabled: func(blackboard.Handle, string) {
				metrics.Add("driver_entity_disabled_total", 1)
			},
			// A handle placed again starts a new sequence.
			OnDestroyed: func(handle blackboard.Handle) {
				s.hub.Forget(handle)
				metrics.Add("driver_entity_destroyed_total", 1)
			},
		},
	}
	s.world = simworld.New(ctx, dctx, simworld.Config{Workers: cfg.Workers})
	for _, placement := range cfg.Placements {
		if _, err := s.world.Place(placement); err != nil {
			logger.Printf("failed to place %s (%s): %v", placement.Handle, placement.LogicKey, err)
		}
	}
	s.hub.Prime(s.world.Snapshot())

	engine := simworld.NewEngine(ctx, s.world, sim.Deps{Logger: logger, Metrics: metrics, Clock: clock})
	s.loop = sim.NewLoop(engine, cfg.LoopConfig(), sim.LoopHooks{
		AfterStep: func(result sim.LoopStepResult) {
			metrics.Store("sim_tick", result.Tick)
			metrics.Store("sim_tick_duration_us", uint64(result.Duration.Microseconds()))
		},
	})

	sessions := ws.NewHandler(s.hub, intake.CommandContext{
		Loop:      s.loop,
		HasEntity: s.world.Has,
		Tick:      s.loop.Tick,
		Now:       clock.Now,
	}, ws.HandlerConfig{Logger: logger, Clock: clock})

	s.handler = servernet.NewHTTPHandler(s.hub, sessions, servernet.HTTPHandlerConfig{
		Logger:        logger,
		Observability: cfg.ObservabilityConfig(),
		TickRate:      s.loop.Config().TickRate,
		World:         s.world,
		Catalog:       catalog,
		Metrics:       s.metrics,
		Router:        router,
		Clock:         clock,
	})
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.handler }
func (s *Server) World() *simworld.World { return s.world }
func (s *Server) Loop() *sim.Loop { return s.loop }
func (s *Server) Hub() *ws.Hub { return s.hub }
func (s *Server) Catalog() *behavior.Catalog { return s.catalog }
func (s *Server) Metrics() *logging.Metrics { return s.metrics }

// Serve runs the tick loop, the HTTP server on ln and, when enabled, the
// document watcher until ctx is cancelled or one of them fails.
func (s *Server) Serve(ctx context.Context, ln stdnet.Listener) error {
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		s.loop.Run(gctx.Done())
		return nil
	})

	srv := &http.Server{Handler: s.handler}
	group.Go(func() error {
		s.logger.Printf("server listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.hub.Close()
		return srv.Shutdown(shutdownCtx)
	})

	if s.cfg.HotReload && s.library != nil {
		group.Go(func() error {
			return s.library.Watch(gctx)
		})
	}

	return group.Wait()
}

func newRouter(cfg Config, clock logging.Clock, stdout io.Writer) (*logging.Router, error) {
	if stdout == nil {
		stdout = os.Stdout
	}
	logConfig := cfg.LoggingConfig()
	sinks, err := loggingSinks.Build(logConfig, "fallguys", stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to build logging sinks: %w", err)
	}
	router, err := logging.NewRouter(clock, logConfig, sinks)
	if err != nil {
		return nil, fmt.Errorf("failed to construct logging router: %w", err)
	}
	return router, nil
}

// loadLibrary loads the configured document directory into catalog. It
// returns nil when no directory is configured.
func loadLibrary(cfg Config, registry *authoring.Registry, catalog *behavior.Catalog, logger telemetry.Logger) *authoring.Library {
	if cfg.BehaviorDir == "" {
		return nil
	}
	if registry == nil {
		registry = authoring.NewRegistry()
	}
	library := authoring.NewLibrary(cfg.BehaviorDir, registry, catalog, telemetry.WithPrefix(logger, "[authoring] "))
	if err := library.LoadAll(); err != nil {
		logger.Printf("behavior documents loaded with errors: %v", err)
	}
	return library
}

// Close destroys the world and flushes the logging router.
func (s *Server) Close(ctx context.Context) error {
	s.hub.Close()
	worldErr := s.world.Close()
	routerErr := s.router.Close(ctx)
	if routerErr != nil {
		s.logger.Printf("failed to close logging router: %v", routerErr)
	}
	return errors.Join(worldErr, routerErr)
}

// Run builds the server, listens on the configured address and serves until
// ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	srv, err := New(ctx, opts)
	if err != nil {
		return err
	}
	defer srv.Close(context.Background())

	ln, err := stdnet.Listen("tcp", opts.Config.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", opts.Config.Listen, err)
	}
	return srv.Serve(ctx, ln)
}
