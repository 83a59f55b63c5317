package sim

import (
	"testing"

	"driftline/server/logging"
)

func TestCommandBufferPushDrainOrder(t *testing.T) {
	buffer := NewCommandBuffer(4, nil)
	for i := 0; i < 3; i++ {
		if !buffer.Push(Command{Seq: uint64(i + 1), ActorID: "actor-1", Type: CommandModifier}) {
			t.Fatalf("push %d failed", i)
		}
	}
	if buffer.Len() != 3 {
		t.Fatalf("expected 3 staged commands, got %d", buffer.Len())
	}

	drained := buffer.Drain()
	if len(drained) != 3 {
		t.Fatalf("expected 3 drained commands, got %d", len(drained))
	}
	for i, cmd := range drained {
		if cmd.Seq != uint64(i+1) {
			t.Fatalf("command %d out of order: seq %d", i, cmd.Seq)
		}
	}
	if buffer.Len() != 0 {
		t.Fatalf("drain must clear the buffer")
	}
	if buffer.Drain() != nil {
		t.Fatalf("second drain must return nil")
	}
}

func TestCommandBufferRefillsAfterDrain(t *testing.T) {
	buffer := NewCommandBuffer(2, nil)
	buffer.Push(Command{Seq: 1})
	buffer.Push(Command{Seq: 2})
	first := buffer.Drain()
	buffer.Push(Command{Seq: 3})
	buffer.Push(Command{Seq: 4})

	drained := buffer.Drain()
	if len(drained) != 2 || drained[0].Seq != 3 || drained[1].Seq != 4 {
		t.Fatalf("unexpected staged batch %+v", drained)
	}
	// The earlier batch keeps its contents after the refill.
	if len(first) != 2 || first[0].Seq != 1 {
		t.Fatalf("drained batch must stay intact, got %+v", first)
	}
}

func TestCommandBufferOverflowCountsMetric(t *testing.T) {
	metrics := logging.NewMetrics()
	buffer := NewCommandBuffer(1, metrics)
	if !buffer.Push(Command{Seq: 1}) {
		t.Fatalf("first push should fit")
	}
	if buffer.Push(Command{Seq: 2}) {
		t.Fatalf("second push must overflow")
	}
	if got := metrics.Value(commandBufferOverflowMetricKey); got != 1 {
		t.Fatalf("overflow metric = %d, want 1", got)
	}
	if got := metrics.Value(commandBufferOccupancyMetricKey); got != 1 {
		t.Fatalf("occupancy metric = %d, want 1", got)
	}
}

func TestCommandBufferMinimumCapacity(t *testing.T) {
	buffer := NewCommandBuffer(0, nil)
	if buffer.Capacity() != 1 {
		t.Fatalf("capacity must clamp to 1, got %d", buffer.Capacity())
	}
}

func TestCommandBufferNilReceiver(t *testing.T) {
	var buffer *CommandBuffer
	if buffer.Push(Command{}) {
		t.Fatalf("nil buffer must reject pushes")
	}
	if buffer.Drain() != nil || buffer.Len() != 0 || buffer.Capacity() != 0 {
		t.Fatalf("nil buffer must report empty state")
	}
}
