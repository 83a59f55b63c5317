package sinks

import (
	"context"
	"sync"

	"driftline/server/logging"
)

// MemorySink retains published events in arrival order. Tests assert on
// it directly and diagnostics endpoints read it back.
type MemorySink struct {
	mu     sync.RWMutex
	events []logging.Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write stores a defensive copy; callers may mutate the event's slices
// and maps after publishing.
func (s *MemorySink) Write(event logging.Event) error {
	retained := event
	if len(event.Targets) > 0 {
		retained.Targets = append([]logging.EntityRef(nil), event.Targets...)
	}
	if event.Extra != nil {
		extra := make(map[string]any, len(event.Extra))
		for k, v := range event.Extra {
			extra[k] = v
		}
		retained.Extra = extra
	}
	s.mu.Lock()
	s.events = append(s.events, retained)
	s.mu.Unlock()
	return nil
}

// Events returns a snapshot of everything retained so far.
func (s *MemorySink) Events() []logging.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return nil
	}
	copied := make([]logging.Event, len(s.events))
	copy(copied, s.events)
	return copied
}

// EventsOfType filters the retained events by event type.
func (s *MemorySink) EventsOfType(typ logging.EventType) []logging.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []logging.Event
	for _, event := range s.events {
		if event.Type == typ {
			matched = append(matched, event)
		}
	}
	return matched
}

// Len reports how many events are retained.
func (s *MemorySink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func (s *MemorySink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = s.events[:0]
}

func (s *MemorySink) Close(context.Context) error {
	return nil
}
