package sim

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eraflo/FallGuys/internal/telemetry"
	"github.com/eraflo/FallGuys/logging"
)

const (
	// CommandRejectQueueLimit indicates a command was dropped due to per-actor
	// queue throttling.
	CommandRejectQueueLimit = "queue_limit"
	// CommandRejectQueueFull indicates the global command buffer is saturated.
	CommandRejectQueueFull = "queue_full"
)

// Defaults applied by NewLoop.
const (
	DefaultTickRate        = 30
	DefaultCommandCapacity = 1024
)

// LoopConfig tunes the command buffer and tick loop orchestration.
type LoopConfig struct {
	TickRate        int
	CatchupMaxTicks int
	CommandCapacity int
	PerActorLimit   int
	WarningStep     int
}

// Loop stages commands from any goroutine and runs the engine at a fixed
// rate on its own goroutine.
type Loop struct {
	core    EngineCore
	buffer  *CommandBuffer
	hooks   LoopHooks
	config  LoopConfig
	logger  telemetry.Logger
	metrics telemetry.Metrics
	tick    atomic.Uint64

	queueMu       sync.Mutex
	perActorCount map[string]int
	dropCounts    map[string]uint64
}

// NewLoop wraps core with a command ring and a fixed-timestep runner.
func NewLoop(core EngineCore, cfg LoopConfig, hooks LoopHooks) *Loop {
	if core == nil {
		return nil
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = DefaultTickRate
	}
	if cfg.CommandCapacity <= 0 {
		cfg.CommandCapacity = DefaultCommandCapacity
	}
	deps := core.Deps()
	logger := deps.Logger
	if logger == nil {
		logger = telemetry.Nop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Loop{
		core:          core,
		buffer:        NewCommandBuffer(cfg.CommandCapacity, metrics),
		hooks:         hooks,
		config:        cfg,
		logger:        logger,
		metrics:       metrics,
		perActorCount: make(map[string]int),
		dropCounts:    make(map[string]uint64),
	}
}

// Config returns the effective loop configuration.
func (l *Loop) Config() LoopConfig {
	if l == nil {
		return LoopConfig{}
	}
	return l.config
}

// Tick returns the last executed tick.
func (l *Loop) Tick() uint64 {
	if l == nil {
		return 0
	}
	return l.tick.Load()
}

// Pending reports the number of staged commands.
func (l *Loop) Pending() int {
	if l == nil {
		return 0
	}
	return l.buffer.Len()
}

// Enqueue stages a command, enforcing per-actor throttling and capacity limits.
func (l *Loop) Enqueue(cmd Command) (bool, string) {
	if l == nil {
		return false, CommandRejectQueueFull
	}
	reason := ""
	var dropCount uint64
	warn := 0
	l.queueMu.Lock()
	if l.config.PerActorLimit > 0 && cmd.ActorID != "" {
		count := l.perActorCount[cmd.ActorID]
		if count >= l.config.PerActorLimit {
			reason = CommandRejectQueueLimit
			dropCount = l.incrementDropLocked(cmd.ActorID)
		} else {
			l.perActorCount[cmd.ActorID] = count + 1
		}
	}
	if reason == "" {
		if !l.buffer.Push(cmd) {
			reason = CommandRejectQueueFull
			dropCount = l.incrementDropLocked(cmd.ActorID)
		} else if step := l.config.WarningStep; step > 0 {
			if length := l.buffer.Len(); length >= step && length%step == 0 {
				warn = length
			}
		}
	}
	l.queueMu.Unlock()

	if reason != "" {
		l.reportDrop(reason, cmd, dropCount)
		return false, reason
	}
	if warn > 0 && l.hooks.OnQueueWarning != nil {
		l.hooks.OnQueueWarning(warn)
	}
	return true, ""
}

// Advance executes a single simulation step using the staged commands.
func (l *Loop) Advance(ctx LoopTickContext) LoopStepResult {
	if l == nil {
		return LoopStepResult{}
	}
	commands := l.drainCommands()
	if l.hooks.Prepare != nil {
		l.hooks.Prepare(ctx)
	}
	applyErr := l.core.Apply(ctx, commands)
	stepErr := l.core.Step(ctx)
	l.tick.Store(ctx.Tick)
	return LoopStepResult{
		Tick:     ctx.Tick,
		Now:      ctx.Now,
		Delta:    ctx.Delta,
		Commands: commands,
		Err:      errors.Join(applyErr, stepErr),
	}
}

// Run drives the fixed-timestep loop until stop closes.
func (l *Loop) Run(stop <-chan struct{}) {
	if l == nil {
		return
	}
	tickRate := l.config.TickRate
	budget := time.Second / time.Duration(tickRate)
	ticker := time.NewTicker(budget)
	defer ticker.Stop()

	clock := l.core.Deps().Clock
	if clock == nil {
		clock = logging.ClockFunc(time.Now)
	}
	last := clock.Now()
	budgetSeconds := budget.Seconds()
	maxDt := budgetSeconds
	if l.config.CatchupMaxTicks > 1 {
		maxDt = budgetSeconds * float64(l.config.CatchupMaxTicks)
	}

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := clock.Now()
			dt := now.Sub(last).Seconds()
			clamped := false
			if dt <= 0 {
				dt = budgetSeconds
			} else if dt > maxDt {
				dt = maxDt
				clamped = true
			}
			last = now

			tick := l.tick.Load() + 1
			if l.hooks.NextTick != nil {
				tick = l.hooks.NextTick()
			}

			start := clock.Now()
			result := l.Advance(LoopTickContext{Tick: tick, Now: now, Delta: dt})
			result.Duration = clock.Now().Sub(start)
			result.Budget = budget
			result.ClampedDelta = clamped
			result.MaxDelta = maxDt

			if result.Err != nil {
				l.logger.Printf("[sim] tick %d: %v", tick, result.Err)
			}
			if result.Duration > budget {
				l.metrics.Add("sim_tick_overrun_total", 1)
			}
			if l.hooks.AfterStep != nil {
				l.hooks.AfterStep(result)
			}
		}
	}
}

func (l *Loop) drainCommands() []Command {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	commands := l.buffer.Drain()
	if len(l.perActorCount) > 0 {
		clear(l.perActorCount)
	}
	return commands
}

func (l *Loop) incrementDropLocked(actorID string) uint64 {
	if actorID == "" {
		return 0
	}
	count := l.dropCounts[actorID] + 1
	l.dropCounts[actorID] = count
	return count
}

func (l *Loop) reportDrop(reason string, cmd Command, count uint64) {
	if l.hooks.OnCommandDrop != nil {
		l.hooks.OnCommandDrop(reason, cmd)
	}
	// Log the first drop and then every power of two per actor.
	if count > 0 && count&(count-1) == 0 {
		l.logger.Printf(
			"[backpressure] dropping command actor=%s type=%s reason=%s count=%d limit=%d",
			cmd.ActorID,
			cmd.Type,
			reason,
			count,
			l.config.PerActorLimit,
		)
	}
}
