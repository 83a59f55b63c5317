package modifier

// Transition is the outcome of diffing two effective levels. Added and
// Removed are mutually exclusive; Changed accompanies every transition,
// including those two.
type Transition struct {
	Category CategoryID
	Prev     Level
	Next     Level
	Added    bool
	Removed  bool
	Changed  bool
}

// Fired reports whether any event class applies.
func (t Transition) Fired() bool {
	return t.Added || t.Removed || t.Changed
}

// Diff classifies an effective-level transition. Calling it with equal
// levels is a guaranteed no-op: no event class fires. It must be invoked
// once per effective transition, never per individual stack mutation.
func Diff(category CategoryID, prev, next Level) Transition {
	t := Transition{Category: category, Prev: prev, Next: next}
	if prev == next {
		return t
	}
	t.Changed = true
	if next.IsActive() && !prev.IsActive() {
		t.Added = true
	} else if !next.IsActive() && prev.IsActive() {
		t.Removed = true
	}
	return t
}

// EventSink receives effective-level transitions. Every role (authority,
// predicting client, observer) derives the same three event classes from
// its own previous vs new value.
type EventSink interface {
	OnAdded(category CategoryID, level, prev Level)
	OnChanged(category CategoryID, level, prev Level)
	OnRemoved(category CategoryID, level, prev Level)
}

// Dispatch forwards a transition to the sink: Added or Removed first, then
// Changed unconditionally, matching the notifier contract.
func Dispatch(sink EventSink, t Transition) {
	if sink == nil || !t.Fired() {
		return
	}
	if t.Added {
		sink.OnAdded(t.Category, t.Next, t.Prev)
	} else if t.Removed {
		sink.OnRemoved(t.Category, t.Next, t.Prev)
	}
	if t.Changed {
		sink.OnChanged(t.Category, t.Next, t.Prev)
	}
}

// SinkFuncs adapts plain functions into an EventSink. Nil fields are
// skipped.
type SinkFuncs struct {
	Added   func(category CategoryID, level, prev Level)
	Changed func(category CategoryID, level, prev Level)
	Removed func(category CategoryID, level, prev Level)
}

func (s SinkFuncs) OnAdded(category CategoryID, level, prev Level) {
	if s.Added != nil {
		s.Added(category, level, prev)
	}
}

func (s SinkFuncs) OnChanged(category CategoryID, level, prev Level) {
	if s.Changed != nil {
		s.Changed(category, level, prev)
	}
}

func (s SinkFuncs) OnRemoved(category CategoryID, level, prev Level) {
	if s.Removed != nil {
		s.Removed(category, level, prev)
	}
}
