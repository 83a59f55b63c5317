package modifier

import (
	"errors"
	"fmt"
)

// CategoryID names an independent modifier track.
type CategoryID string

// Built-in categories. The engine is generic; these are just the shipped
// configuration instances.
const (
	CategoryBoost    CategoryID = "boost"
	CategorySnare    CategoryID = "snare"
	CategorySlowFall CategoryID = "slowfall"
)

// TieBreak selects how the effective level is chosen when several entries
// are active at once.
type TieBreak string

const (
	// TieBreakHighest picks the highest-ordinal level; the earliest
	// inserted entry wins among equals.
	TieBreakHighest TieBreak = "highest"
	// TieBreakMostRecent picks the most recently inserted entry.
	TieBreakMostRecent TieBreak = "most_recent"
	// TieBreakFirstAdded picks the earliest inserted entry.
	TieBreakFirstAdded TieBreak = "first_added"
)

var (
	ErrUnknownCategory = errors.New("modifier: unknown category")
	ErrUnknownLevel    = errors.New("modifier: level not in category set")
)

// Category is the configuration of one modifier track. Levels are listed in
// ascending ordinal order; new levels append at the end so wire bytes never
// renumber.
type Category struct {
	ID              CategoryID `json:"id"`
	Levels          []Level    `json:"levels"`
	TieBreak        TieBreak   `json:"tieBreak,omitempty"`
	AllowedNetTypes []NetType  `json:"allowedNetTypes,omitempty"`
	ExpiryTicks     uint64     `json:"expiryTicks,omitempty"`
}

// Ordinal returns the zero-based position of the level in the category's
// ladder.
func (c Category) Ordinal(level Level) (int, bool) {
	for i, l := range c.Levels {
		if l == level {
			return i, true
		}
	}
	return -1, false
}

// AllowsNetType reports whether the category permits the given request path.
// An empty allow list permits every path.
func (c Category) AllowsNetType(netType NetType) bool {
	if len(c.AllowedNetTypes) == 0 {
		return true
	}
	for _, nt := range c.AllowedNetTypes {
		if nt == netType {
			return true
		}
	}
	return false
}

// Validate checks the configuration invariants: a non-empty id, at least one
// level, no duplicate or sentinel levels, and a known tie-break.
func (c Category) Validate() error {
	if c.ID == "" {
		return errors.New("modifier: category id is empty")
	}
	if len(c.Levels) == 0 {
		return fmt.Errorf("modifier: category %q has no levels", c.ID)
	}
	seen := make(map[Level]struct{}, len(c.Levels))
	for _, level := range c.Levels {
		if !level.IsActive() {
			return fmt.Errorf("modifier: category %q contains the sentinel level", c.ID)
		}
		if _, dup := seen[level]; dup {
			return fmt.Errorf("modifier: category %q repeats level %q", c.ID, level)
		}
		seen[level] = struct{}{}
	}
	switch c.TieBreak {
	case "", TieBreakHighest, TieBreakMostRecent, TieBreakFirstAdded:
	default:
		return fmt.Errorf("modifier: category %q has unknown tie-break %q", c.ID, c.TieBreak)
	}
	for _, nt := range c.AllowedNetTypes {
		if _, ok := ParseNetType(string(nt)); !ok {
			return fmt.Errorf("modifier: category %q allows unknown net type %q", c.ID, nt)
		}
	}
	return nil
}

func (c Category) tieBreak() TieBreak {
	if c.TieBreak == "" {
		return TieBreakHighest
	}
	return c.TieBreak
}

// DefaultCategories returns the shipped Boost/Snare/SlowFall configuration.
// Snare locks inputs when mispredicted, so it rides the correction path.
// SlowFall is a "latest glide wins" track, exercising the alternate
// tie-break.
func DefaultCategories() []Category {
	return []Category{
		{
			ID:       CategoryBoost,
			Levels:   []Level{"boost.tier1", "boost.tier2", "boost.tier3"},
			TieBreak: TieBreakHighest,
		},
		{
			ID:              CategorySnare,
			Levels:          []Level{"snare.tier1", "snare.tier2", "snare.tier3"},
			TieBreak:        TieBreakHighest,
			AllowedNetTypes: []NetType{NetTypePredictedCorrection, NetTypeServerInitiated},
		},
		{
			ID:       CategorySlowFall,
			Levels:   []Level{"slowfall.tier1", "slowfall.tier2"},
			TieBreak: TieBreakMostRecent,
		},
	}
}
