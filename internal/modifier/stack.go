package modifier

import "github.com/google/uuid"

// Entry is one active modifier instance inside a category's stack. Entries
// are owned exclusively by their stack and die on removal or reset.
type Entry struct {
	ID     string
	Level  Level
	Origin Origin
	seq    uint64
}

// Stack is the ordered multiset of active entries for one category on one
// actor. Duplicate levels stack additively: two tier-1 boosts from different
// origins occupy two slots. The effective level is recomputed from scratch
// after every mutation; it is never patched incrementally.
type Stack struct {
	category  Category
	entries   []Entry
	nextSeq   uint64
	effective Level
}

func NewStack(category Category) *Stack {
	return &Stack{category: category, effective: NoModifier}
}

// Add inserts a new entry and reports whether the effective level changed.
// Unknown levels are rejected with ErrUnknownLevel and leave the stack
// untouched.
func (s *Stack) Add(level Level, origin Origin) (bool, error) {
	if _, ok := s.category.Ordinal(level); !ok {
		return false, ErrUnknownLevel
	}
	s.nextSeq++
	s.entries = append(s.entries, Entry{
		ID:     uuid.NewString(),
		Level:  level,
		Origin: origin,
		seq:    s.nextSeq,
	})
	return s.recompute(), nil
}

// Remove drops entries matching the level. With removeAll false only the
// earliest-inserted match goes, keeping removal order deterministic under
// repeated stacking. A missing match is a no-op, not an error.
func (s *Stack) Remove(level Level, removeAll bool) int {
	removed := 0
	kept := s.entries[:0]
	for _, entry := range s.entries {
		if entry.Level == level && (removeAll || removed == 0) {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	s.entries = kept
	if removed > 0 {
		s.recompute()
	}
	return removed
}

// Reset clears every entry regardless of level. Used for hard resyncs.
func (s *Stack) Reset() bool {
	if len(s.entries) == 0 {
		return false
	}
	s.entries = s.entries[:0]
	s.recompute()
	return true
}

// EffectiveLevel is a pure query of the last recomputed value.
func (s *Stack) EffectiveLevel() Level {
	return s.effective
}

// Len reports the number of active entries.
func (s *Stack) Len() int {
	return len(s.entries)
}

// CountLevel reports how many entries carry the given level.
func (s *Stack) CountLevel(level Level) int {
	n := 0
	for _, entry := range s.entries {
		if entry.Level == level {
			n++
		}
	}
	return n
}

// Snapshot copies the current entries so a caller can restore them later.
func (s *Stack) Snapshot() []Entry {
	if len(s.entries) == 0 {
		return nil
	}
	copied := make([]Entry, len(s.entries))
	copy(copied, s.entries)
	return copied
}

// Restore replaces the entries with a previously captured snapshot.
func (s *Stack) Restore(entries []Entry) {
	s.entries = s.entries[:0]
	s.entries = append(s.entries, entries...)
	for _, entry := range s.entries {
		if entry.seq > s.nextSeq {
			s.nextSeq = entry.seq
		}
	}
	s.recompute()
}

// recompute derives the effective level under the category's tie-break and
// reports whether it changed.
func (s *Stack) recompute() bool {
	prev := s.effective
	s.effective = s.computeEffective()
	return s.effective != prev
}

func (s *Stack) computeEffective() Level {
	if len(s.entries) == 0 {
		return NoModifier
	}
	best := s.entries[0]
	bestOrd, _ := s.category.Ordinal(best.Level)
	for _, entry := range s.entries[1:] {
		ord, _ := s.category.Ordinal(entry.Level)
		switch s.category.tieBreak() {
		case TieBreakMostRecent:
			if entry.seq > best.seq {
				best, bestOrd = entry, ord
			}
		case TieBreakFirstAdded:
			if entry.seq < best.seq {
				best, bestOrd = entry, ord
			}
		default: // TieBreakHighest
			if ord > bestOrd || (ord == bestOrd && entry.seq < best.seq) {
				best, bestOrd = entry, ord
			}
		}
	}
	return best.Level
}
