package modifier

// GrantScopeAll marks a grant covering every category on the actor.
const GrantScopeAll CategoryID = ""

// DefaultGrantDurationTicks is used when a grant is issued without an
// explicit duration (10 seconds at the default 15 Hz tick rate).
const DefaultGrantDurationTicks uint64 = 150

// Grant is a server-issued, time-boxed permission letting a client treat
// requests for its scope as predicted even when the category would normally
// require server initiation. Expiry is a pure tick comparison; expired
// grants are inert, never actively revoked.
type Grant struct {
	Scope      CategoryID `json:"scope,omitempty"`
	Source     string     `json:"source"`
	ExpiryTick uint64     `json:"expiryTick"`
}

// Covers reports whether the grant applies to the category at the tick.
func (g Grant) Covers(category CategoryID, tick uint64) bool {
	if tick >= g.ExpiryTick {
		return false
	}
	return g.Scope == GrantScopeAll || g.Scope == category
}

// GrantSet holds the live grants for one actor. It is shared by every
// controller of the actor's registry.
type GrantSet struct {
	grants []Grant
}

func (s *GrantSet) Issue(grant Grant) {
	if s == nil {
		return
	}
	s.grants = append(s.grants, grant)
}

// Active reports whether any grant covers the category at the tick.
func (s *GrantSet) Active(category CategoryID, tick uint64) bool {
	if s == nil {
		return false
	}
	for _, grant := range s.grants {
		if grant.Covers(category, tick) {
			return true
		}
	}
	return false
}

// Prune drops grants that expired at or before the tick. Invalidation just
// removes the entry; applied work never needs unwinding.
func (s *GrantSet) Prune(tick uint64) {
	if s == nil || len(s.grants) == 0 {
		return
	}
	kept := s.grants[:0]
	for _, grant := range s.grants {
		if grant.ExpiryTick > tick {
			kept = append(kept, grant)
		}
	}
	s.grants = kept
}

// Revoke drops every grant matching the scope outright.
func (s *GrantSet) Revoke(scope CategoryID) int {
	if s == nil || len(s.grants) == 0 {
		return 0
	}
	revoked := 0
	kept := s.grants[:0]
	for _, grant := range s.grants {
		if grant.Scope == scope {
			revoked++
			continue
		}
		kept = append(kept, grant)
	}
	s.grants = kept
	return revoked
}

// Len reports the number of stored grants, expired ones included.
func (s *GrantSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.grants)
}
