package sim

import (
	"sync"

	"github.com/eraflo/FallGuys/internal/telemetry"
)

const (
	commandBufferOccupancyMetricKey = "sim_command_buffer_occupancy"
	commandBufferOverflowMetricKey  = "sim_command_buffer_overflow_total"
)

// CommandBuffer is a fixed-size FIFO ring of staged commands. Producers may
// push concurrently; a single consumer drains.
type CommandBuffer struct {
	mu      sync.Mutex
	data    []Command
	head    int
	count   int
	metrics telemetry.Metrics
}

// NewCommandBuffer constructs a ring holding at most capacity commands.
func NewCommandBuffer(capacity int, metrics telemetry.Metrics) *CommandBuffer {
	if capacity < 1 {
		capacity = 1
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &CommandBuffer{
		data:    make([]Command, capacity),
		metrics: metrics,
	}
}

// Capacity reports the maximum number of staged commands.
func (b *CommandBuffer) Capacity() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

// Push stages cmd and reports false when the ring is full.
func (b *CommandBuffer) Push(cmd Command) bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == len(b.data) {
		b.metrics.Add(commandBufferOverflowMetricKey, 1)
		return false
	}
	b.data[(b.head+b.count)%len(b.data)] = cmd
	b.count++
	b.metrics.Store(commandBufferOccupancyMetricKey, uint64(b.count))
	return true
}

// Drain returns the staged commands in FIFO order and empties the ring.
func (b *CommandBuffer) Drain() []Command {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return nil
	}
	commands := make([]Command, b.count)
	for i := range commands {
		idx := (b.head + i) % len(b.data)
		commands[i] = b.data[idx]
		b.data[idx] = Command{}
	}
	b.head = (b.head + b.count) % len(b.data)
	b.count = 0
	b.metrics.Store(commandBufferOccupancyMetricKey, 0)
	return commands
}

// Len reports the number of staged commands.
func (b *CommandBuffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}
