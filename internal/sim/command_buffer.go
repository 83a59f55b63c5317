package sim

import "sync"

const (
	commandBufferOccupancyMetricKey = "sim_command_buffer_occupancy"
	commandBufferOverflowMetricKey  = "sim_command_buffer_overflow_total"
)

type telemetryMetrics interface {
	Add(string, uint64)
	Store(string, uint64)
}

// CommandBuffer is the staging area between connection goroutines and the
// tick loop. Producers push decoded commands at any time; the loop drains
// the whole batch once per tick, so commands land in arrival order within
// a tick. Capacity is a hard bound: a full buffer sheds new commands and
// counts them, the client retries against the next tick.
type CommandBuffer struct {
	mu       sync.Mutex
	pending  []Command
	capacity int
	metrics  telemetryMetrics
}

// NewCommandBuffer builds a buffer that stages at most capacity commands
// between drains.
func NewCommandBuffer(capacity int, metrics telemetryMetrics) *CommandBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &CommandBuffer{
		pending:  make([]Command, 0, capacity),
		capacity: capacity,
		metrics:  metrics,
	}
}

// Capacity reports the staging bound.
func (b *CommandBuffer) Capacity() int {
	if b == nil {
		return 0
	}
	return b.capacity
}

// Push stages one command for the next drain. A full buffer sheds the
// command, bumps the overflow counter, and reports false.
func (b *CommandBuffer) Push(cmd Command) bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) >= b.capacity {
		if b.metrics != nil {
			b.metrics.Add(commandBufferOverflowMetricKey, 1)
		}
		return false
	}
	b.pending = append(b.pending, cmd)
	b.storeOccupancyLocked()
	return true
}

// Drain hands the staged batch to the caller in arrival order and resets
// the buffer. An empty buffer drains to nil.
func (b *CommandBuffer) Drain() []Command {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil
	}
	batch := b.pending
	b.pending = make([]Command, 0, b.capacity)
	b.storeOccupancyLocked()
	return batch
}

// Len reports how many commands are staged for the next tick.
func (b *CommandBuffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *CommandBuffer) storeOccupancyLocked() {
	if b.metrics == nil {
		return
	}
	b.metrics.Store(commandBufferOccupancyMetricKey, uint64(len(b.pending)))
}
