package modifier

import "testing"

func testCategory(tieBreak TieBreak) Category {
	return Category{
		ID:       "boost",
		Levels:   []Level{"boost.tier1", "boost.tier2", "boost.tier3"},
		TieBreak: tieBreak,
	}
}

func TestStackAddRecomputesHighest(t *testing.T) {
	s := NewStack(testCategory(TieBreakHighest))

	changed, err := s.Add("boost.tier1", OriginServer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatalf("expected first add to change the effective level")
	}
	if got := s.EffectiveLevel(); got != "boost.tier1" {
		t.Fatalf("expected tier1, got %q", got)
	}

	changed, err = s.Add("boost.tier3", OriginServer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !changed {
		t.Fatalf("expected tier3 to take over")
	}

	changed, err = s.Add("boost.tier2", OriginServer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Fatalf("tier2 under tier3 must not change the effective level")
	}
	if got := s.EffectiveLevel(); got != "boost.tier3" {
		t.Fatalf("expected tier3, got %q", got)
	}
}

func TestStackAddUnknownLevelRejected(t *testing.T) {
	s := NewStack(testCategory(TieBreakHighest))
	if _, err := s.Add("snare.tier1", OriginServer); err != ErrUnknownLevel {
		t.Fatalf("expected ErrUnknownLevel, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("rejected add must not insert an entry")
	}
}

func TestStackDuplicateLevelsStackAdditively(t *testing.T) {
	s := NewStack(testCategory(TieBreakHighest))
	s.Add("boost.tier1", OriginPredicted)
	s.Add("boost.tier1", OriginServer)
	if s.Len() != 2 {
		t.Fatalf("expected two slots, got %d", s.Len())
	}

	if removed := s.Remove("boost.tier1", false); removed != 1 {
		t.Fatalf("expected exactly one removal, got %d", removed)
	}
	if s.CountLevel("boost.tier1") != 1 {
		t.Fatalf("expected one tier1 entry to remain")
	}

	s.Add("boost.tier1", OriginServer)
	if removed := s.Remove("boost.tier1", true); removed != 2 {
		t.Fatalf("expected removeAll to drop both, got %d", removed)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty stack")
	}
}

func TestStackRemoveEarliestMatchFirst(t *testing.T) {
	s := NewStack(testCategory(TieBreakHighest))
	s.Add("boost.tier1", OriginPredicted)
	first := s.Snapshot()[0].ID
	s.Add("boost.tier1", OriginServer)

	s.Remove("boost.tier1", false)
	remaining := s.Snapshot()
	if len(remaining) != 1 {
		t.Fatalf("expected one entry, got %d", len(remaining))
	}
	if remaining[0].ID == first {
		t.Fatalf("expected the earliest-inserted entry to be removed first")
	}
}

func TestStackRemoveMissingIsNoOp(t *testing.T) {
	s := NewStack(testCategory(TieBreakHighest))
	if removed := s.Remove("boost.tier2", false); removed != 0 {
		t.Fatalf("expected 0 removals, got %d", removed)
	}
	if removed := s.Remove("boost.tier2", true); removed != 0 {
		t.Fatalf("expected 0 removals with removeAll, got %d", removed)
	}
}

func TestStackReset(t *testing.T) {
	s := NewStack(testCategory(TieBreakHighest))
	if s.Reset() {
		t.Fatalf("reset of an empty stack must report false")
	}
	s.Add("boost.tier1", OriginServer)
	s.Add("boost.tier2", OriginServer)
	if !s.Reset() {
		t.Fatalf("reset with entries must report true")
	}
	if got := s.EffectiveLevel(); got != NoModifier {
		t.Fatalf("expected sentinel after reset, got %q", got)
	}
}

func TestStackTieBreakHighestPrefersEarliestAmongEquals(t *testing.T) {
	s := NewStack(testCategory(TieBreakHighest))
	s.Add("boost.tier2", OriginPredicted)
	firstID := s.Snapshot()[0].ID
	s.Add("boost.tier2", OriginServer)

	// Removing the later duplicate must keep the winner stable.
	s.Remove("boost.tier2", true)
	s.Restore([]Entry{{ID: firstID, Level: "boost.tier2", Origin: OriginPredicted, seq: 1}})
	if got := s.EffectiveLevel(); got != "boost.tier2" {
		t.Fatalf("expected tier2, got %q", got)
	}
}

func TestStackTieBreakMostRecent(t *testing.T) {
	s := NewStack(testCategory(TieBreakMostRecent))
	s.Add("boost.tier3", OriginServer)
	s.Add("boost.tier1", OriginServer)
	if got := s.EffectiveLevel(); got != "boost.tier1" {
		t.Fatalf("most-recent tie-break expected tier1, got %q", got)
	}
	s.Remove("boost.tier1", false)
	if got := s.EffectiveLevel(); got != "boost.tier3" {
		t.Fatalf("expected tier3 after removing the newest, got %q", got)
	}
}

func TestStackTieBreakFirstAdded(t *testing.T) {
	s := NewStack(testCategory(TieBreakFirstAdded))
	s.Add("boost.tier1", OriginServer)
	s.Add("boost.tier3", OriginServer)
	if got := s.EffectiveLevel(); got != "boost.tier1" {
		t.Fatalf("first-added tie-break expected tier1, got %q", got)
	}
}

func TestStackSnapshotRestore(t *testing.T) {
	s := NewStack(testCategory(TieBreakHighest))
	s.Add("boost.tier1", OriginServer)
	s.Add("boost.tier2", OriginPredicted)
	snapshot := s.Snapshot()

	s.Reset()
	s.Add("boost.tier3", OriginServer)

	s.Restore(snapshot)
	if got := s.EffectiveLevel(); got != "boost.tier2" {
		t.Fatalf("expected tier2 after restore, got %q", got)
	}
	if s.Len() != 2 {
		t.Fatalf("expected two entries after restore, got %d", s.Len())
	}
}
