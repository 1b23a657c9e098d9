// Package simworld owns the entities of one participant and advances them
// once per tick.
package simworld

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/eraflo/FallGuys/internal/behavior"
	"github.com/eraflo/FallGuys/internal/blackboard"
	"github.com/eraflo/FallGuys/internal/driver"
	"github.com/eraflo/FallGuys/internal/observability"
	"github.com/eraflo/FallGuys/internal/replication"
	"github.com/eraflo/FallGuys/internal/telemetry"
)

var (
	// ErrUnknownEntity is returned for handles the world does not hold.
	ErrUnknownEntity = errors.New("simworld: unknown entity")
	// ErrDuplicateEntity is returned when a placement reuses a live handle.
	ErrDuplicateEntity = errors.New("simworld: duplicate entity handle")
)

// Config tunes a world.
type Config struct {
	// Workers bounds concurrent entity advances. Values below 2 advance
	// entities sequentially in handle order.
	Workers int
}

// World is the entity manager of one participant. It is safe for concurrent
// use; entity hooks run on the goroutine calling Advance. Host hooks are
// queued while the world is locked and run once it is released.
type World struct {
	parent  context.Context
	dctx    *driver.Context
	workers int
	logger  telemetry.Logger
	tracer  *observability.Tracer

	mu       sync.Mutex
	entities map[blackboard.Handle]*driver.Entity
	handles  []blackboard.Handle
	tick     uint64

	hookMu  sync.Mutex
	holding bool
	queued  []func()
}

// New builds an empty world. ctx is the parent of every entity scope; it
// should live as long as the world.
func New(ctx context.Context, dctx *driver.Context, cfg Config) *World {
	if ctx == nil {
		ctx = context.Background()
	}
	if dctx == nil {
		dctx = &driver.Context{}
	}
	logger := dctx.Logger
	if logger == nil {
		logger = telemetry.Nop()
	}
	w := &World{
		parent:   ctx,
		workers:  cfg.Workers,
		logger:   logger,
		tracer:   dctx.Tracer,
		entities: make(map[blackboard.Handle]*driver.Entity),
	}
	local := *dctx
	local.Hooks = w.deferHooks(dctx.Hooks)
	w.dctx = &local
	return w
}

// Context returns the driver context shared by the world's entities. Its
// hooks are the host's, deferred until the world is unlocked.
func (w *World) Context() *driver.Context { return w.dctx }

func (w *World) deferHooks(hooks driver.HostHooks) driver.HostHooks {
	var wrapped driver.HostHooks
	if fn := hooks.OnResolved; fn != nil {
		wrapped.OnResolved = func(h blackboard.Handle, def *behavior.Definition) { w.run(func() { fn(h, def) }) }
	}
	if fn := hooks.OnDisabled; fn != nil {
		wrapped.OnDisabled = func(h blackboard.Handle, reason string) { w.run(func() { fn(h, reason) }) }
	}
	if fn := hooks.OnDestroyed; fn != nil {
		wrapped.OnDestroyed = func(h blackboard.Handle) { w.run(func() { fn(h) }) }
	}
	return wrapped
}

// run calls fn now, or after unlock when the world is locked.
func (w *World) run(fn func()) {
	w.hookMu.Lock()
	if w.holding {
		w.queued = append(w.queued, fn)
		w.hookMu.Unlock()
		return
	}
	w.hookMu.Unlock()
	fn()
}

func (w *World) lock() {
	w.mu.Lock()
	w.hookMu.Lock()
	w.holding = true
	w.hookMu.Unlock()
}

func (w *World) unlock() {
	w.hookMu.Lock()
	w.holding = false
	queued := w.queued
	w.queued = nil
	w.hookMu.Unlock()
	w.mu.Unlock()
	for _, fn := range queued {
		fn()
	}
}

// Place adds and spawns the entity described by p.
func (w *World) Place(p driver.Placement) (*driver.Entity, error) {
	entity := w.dctx.NewEntity(p)
	w.lock()
	defer w.unlock()
	if _, exists := w.entities[entity.Handle()]; exists {
		return nil, fmt.Errorf("%w %q", ErrDuplicateEntity, entity.Handle())
	}
	w.insertLocked(entity)
	if err := w.guard(entity, func() error { return entity.Spawn(w.parent) }); err != nil {
		return entity, err
	}
	return entity, nil
}

// Restore adds an entity with its replicated state taken from a snapshot and
// spawns it directly into that state.
func (w *World) Restore(p driver.Placement, snapshot replication.StateUpdate) (*driver.Entity, error) {
	entity := w.dctx.NewEntity(p)
	entity.Restore(snapshot.ID, snapshot.Seq)
	w.lock()
	defer w.unlock()
	if _, exists := w.entities[entity.Handle()]; exists {
		return nil, fmt.Errorf("%w %q", ErrDuplicateEntity, entity.Handle())
	}
	w.insertLocked(entity)
	return entity, w.guard(entity, func() error { return entity.Spawn(w.parent) })
}

func (w *World) insertLocked(entity *driver.Entity) {
	w.entities[entity.Handle()] = entity
	idx := sort.Search(len(w.handles), func(i int) bool { return w.handles[i] >= entity.Handle() })
	w.handles = append(w.handles, "")
	copy(w.handles[idx+1:], w.handles[idx:])
	w.handles[idx] = entity.Handle()
}

// Remove destroys and forgets the entity.
func (w *World) Remove(handle blackboard.Handle) error {
	w.lock()
	defer w.unlock()
	entity, ok := w.entities[handle]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownEntity, handle)
	}
	delete(w.entities, handle)
	idx := sort.Search(len(w.handles), func(i int) bool { return w.handles[i] >= handle })
	w.handles = append(w.handles[:idx], w.handles[idx+1:]...)
	return w.guard(entity, entity.Destroy)
}

// Entity returns the entity with handle.
func (w *World) Entity(handle blackboard.Handle) (*driver.Entity, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	entity, ok := w.entities[handle]
	return entity, ok
}

// Has reports whether handle is live.
func (w *World) Has(handle blackboard.Handle) bool {
	_, ok := w.Entity(handle)
	return ok
}

// Handles returns the live handles in lexical order.
func (w *World) Handles() []blackboard.Handle {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]blackboard.Handle(nil), w.handles...)
}

// Len reports the number of live entities.
func (w *World) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.handles)
}

// Tick returns the last advanced tick.
func (w *World) Tick() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tick
}

// Advance runs one tick of every entity. An entity whose hooks panic is
// disabled and the others still advance; the recovered panics are returned.
func (w *World) Advance(ctx context.Context, tick uint64) error {
	w.lock()
	defer w.unlock()
	w.tick = tick

	_, span := w.tracer.Start(ctx, "world.advance", observability.Tick(tick), observability.Entities(len(w.handles)))
	var (
		errMu sync.Mutex
		errs  []error
	)
	advance := func(entity *driver.Entity) {
		if err := w.guard(entity, func() error { entity.Advance(tick); return nil }); err != nil {
			errMu.Lock()
			errs = append(errs, err)
			errMu.Unlock()
		}
	}

	if w.workers < 2 || len(w.handles) < 2 {
		for _, handle := range w.handles {
			advance(w.entities[handle])
		}
	} else {
		var group errgroup.Group
		group.SetLimit(w.workers)
		for _, handle := range w.handles {
			entity := w.entities[handle]
			group.Go(func() error {
				advance(entity)
				return nil
			})
		}
		_ = group.Wait()
	}

	err := errors.Join(errs...)
	observability.End(span, err)
	return err
}

// guard runs fn and turns a panic from entity code into a disabled entity.
func (w *World) guard(entity *driver.Entity, fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			w.logger.Printf("[world] entity %s panicked: %v\n%s", entity.Handle(), recovered, debug.Stack())
			entity.Disable(driver.ReasonHookPanic)
			err = fmt.Errorf("simworld: entity %s: panic: %v", entity.Handle(), recovered)
		}
	}()
	return fn()
}

// HandleIntent delivers a client intent to its entity.
func (w *World) HandleIntent(intent replication.Intent) error {
	w.lock()
	defer w.unlock()
	entity, ok := w.entities[intent.Entity]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownEntity, intent.Entity)
	}
	return w.guard(entity, func() error { return entity.HandleIntent(intent) })
}

// ApplyUpdate routes an authoritative update to its entity.
func (w *World) ApplyUpdate(update replication.StateUpdate) (bool, error) {
	w.lock()
	defer w.unlock()
	entity, ok := w.entities[update.Entity]
	if !ok {
		return false, fmt.Errorf("%w %q", ErrUnknownEntity, update.Entity)
	}
	var applied bool
	err := w.guard(entity, func() error {
		var applyErr error
		applied, applyErr = entity.ApplyUpdate(update)
		return applyErr
	})
	return applied, err
}

// Snapshot returns the replicated state of every stateful entity in handle
// order, for late joiners.
func (w *World) Snapshot() []replication.StateUpdate {
	w.mu.Lock()
	defer w.mu.Unlock()
	updates := make([]replication.StateUpdate, 0, len(w.handles))
	for _, handle := range w.handles {
		if update, ok := w.entities[handle].Snapshot(); ok {
			updates = append(updates, update)
		}
	}
	return updates
}

// Close destroys every entity and joins their release errors.
func (w *World) Close() error {
	w.lock()
	defer w.unlock()
	var errs []error
	for _, handle := range w.handles {
		entity := w.entities[handle]
		if err := w.guard(entity, entity.Destroy); err != nil {
			errs = append(errs, err)
		}
	}
	w.entities = make(map[blackboard.Handle]*driver.Entity)
	w.handles = nil
	return errors.Join(errs...)
}
