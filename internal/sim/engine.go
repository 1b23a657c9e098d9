package sim

import "time"

// EngineCore is the simulation stepped by a Loop.
type EngineCore interface {
	Deps() Deps
	// Apply consumes the commands staged since the previous tick.
	Apply(ctx LoopTickContext, cmds []Command) error
	// Step advances every entity by one tick.
	Step(ctx LoopTickContext) error
}

// LoopTickContext describes the tick being executed.
type LoopTickContext struct {
	Tick  uint64
	Now   time.Time
	Delta float64
}

// LoopStepResult reports what one tick did.
type LoopStepResult struct {
	Tick         uint64
	Now          time.Time
	Delta        float64
	Commands     []Command
	Duration     time.Duration
	Budget       time.Duration
	ClampedDelta bool
	MaxDelta     float64
	// Err joins the errors returned by Apply and Step.
	Err error
}

// LoopHooks customise tick sequencing and telemetry fan-out.
type LoopHooks struct {
	Prepare        func(LoopTickContext)
	NextTick       func() uint64
	AfterStep      func(LoopStepResult)
	OnQueueWarning func(length int)
	OnCommandDrop  func(reason string, cmd Command)
}
