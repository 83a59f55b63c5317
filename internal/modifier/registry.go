package modifier

import (
	"context"
	"fmt"

	"driftline/server/logging"
	loggingmodifiers "driftline/server/logging/modifiers"
)

// Registry owns the controllers for every configured category on one actor,
// in one role. Categories keep their configuration order so per-tick passes
// stay deterministic.
type Registry struct {
	role        Role
	order       []CategoryID
	controllers map[CategoryID]*Controller
	grants      *GrantSet
	pub         logging.Publisher
	actor       logging.EntityRef
	tick        uint64
}

// RegistryConfig wires a registry for one actor.
type RegistryConfig struct {
	Role       Role
	Categories []Category
	Sink       EventSink
	Publisher  logging.Publisher
	ActorID    string
}

func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if len(cfg.Categories) == 0 {
		return nil, fmt.Errorf("modifier: registry needs at least one category")
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = logging.NopPublisher()
	}
	actor := logging.EntityRef{ID: cfg.ActorID, Kind: logging.EntityKindActor}
	grants := &GrantSet{}
	r := &Registry{
		role:        cfg.Role,
		order:       make([]CategoryID, 0, len(cfg.Categories)),
		controllers: make(map[CategoryID]*Controller, len(cfg.Categories)),
		grants:      grants,
		pub:         pub,
		actor:       actor,
	}
	for _, category := range cfg.Categories {
		if err := category.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.controllers[category.ID]; dup {
			return nil, fmt.Errorf("modifier: duplicate category %q", category.ID)
		}
		r.order = append(r.order, category.ID)
		r.controllers[category.ID] = NewController(category, cfg.Role, grants, cfg.Sink, pub, actor)
	}
	return r, nil
}

// Role reports the simulation role the registry was built for.
func (r *Registry) Role() Role {
	return r.role
}

// Categories lists the category ids in configuration order.
func (r *Registry) Categories() []CategoryID {
	copied := make([]CategoryID, len(r.order))
	copy(copied, r.order)
	return copied
}

// Controller exposes one category's controller.
func (r *Registry) Controller(id CategoryID) (*Controller, bool) {
	ctrl, ok := r.controllers[id]
	return ctrl, ok
}

// CaptureForTick advances every controller to the new tick and lazily drops
// expired grants.
func (r *Registry) CaptureForTick(tick uint64) {
	r.tick = tick
	r.grants.Prune(tick)
	for _, id := range r.order {
		r.controllers[id].CaptureForTick(tick)
	}
}

// RequestAdd routes an add request to the category.
func (r *Registry) RequestAdd(category CategoryID, level Level, netType NetType) RequestResult {
	return r.request(category, OpAdd, level, netType, false)
}

// RequestRemove routes a remove request to the category. A missing match is
// a no-op reported as Applied=false, never an error.
func (r *Registry) RequestRemove(category CategoryID, level Level, netType NetType, removeAll bool) RequestResult {
	return r.request(category, OpRemove, level, netType, removeAll)
}

// RequestReset clears the category's stack.
func (r *Registry) RequestReset(category CategoryID, netType NetType) RequestResult {
	return r.request(category, OpReset, NoModifier, netType, true)
}

func (r *Registry) request(category CategoryID, op Op, level Level, netType NetType, removeAll bool) RequestResult {
	ctrl, ok := r.controllers[category]
	if !ok {
		return RequestResult{Reason: RejectUnknownCategory}
	}
	return ctrl.Request(op, level, netType, removeAll)
}

// GrantAuthority issues a time-boxed grant for the scope (empty scope covers
// every category). A zero duration uses the default.
func (r *Registry) GrantAuthority(scope CategoryID, source string, durationTicks uint64) Grant {
	if durationTicks == 0 {
		durationTicks = DefaultGrantDurationTicks
	}
	grant := Grant{Scope: scope, Source: source, ExpiryTick: r.tick + durationTicks}
	r.grants.Issue(grant)
	loggingmodifiers.Granted(context.Background(), r.pub, r.tick, r.actor, loggingmodifiers.GrantPayload{
		Scope:      string(scope),
		Source:     source,
		ExpiryTick: grant.ExpiryTick,
	})
	return grant
}

// AcceptGrant installs a grant replicated from the server.
func (r *Registry) AcceptGrant(grant Grant) {
	r.grants.Issue(grant)
}

// HasAuthority reports whether an active grant covers the category now.
func (r *Registry) HasAuthority(category CategoryID) bool {
	return r.grants.Active(category, r.tick)
}

// FlushTick collects the authoritative summary updates for this tick, in
// category order.
func (r *Registry) FlushTick(tick uint64) []SummaryUpdate {
	var updates []SummaryUpdate
	for _, id := range r.order {
		if update, ok := r.controllers[id].FlushTick(tick); ok {
			updates = append(updates, update)
		}
	}
	return updates
}

// ReconcileAgainstAuthoritative applies one inbound summary to the category.
func (r *Registry) ReconcileAgainstAuthoritative(category CategoryID, tick uint64, value byte) (bool, error) {
	ctrl, ok := r.controllers[category]
	if !ok {
		return false, ErrUnknownCategory
	}
	return ctrl.ReconcileAgainstAuthoritative(tick, value), nil
}

// EffectiveLevel reports the level a category currently presents.
func (r *Registry) EffectiveLevel(category CategoryID) Level {
	if ctrl, ok := r.controllers[category]; ok {
		return ctrl.EffectiveLevel()
	}
	return NoModifier
}

// IsActive reports whether a category currently presents any level.
func (r *Registry) IsActive(category CategoryID) bool {
	if ctrl, ok := r.controllers[category]; ok {
		return ctrl.IsActive()
	}
	return false
}

// Snapshot captures every category's wire byte, for keyframes and joins.
func (r *Registry) Snapshot() map[CategoryID]byte {
	snapshot := make(map[CategoryID]byte, len(r.order))
	for _, id := range r.order {
		snapshot[id] = r.controllers[id].EncodedLevel()
	}
	return snapshot
}

// ResetState clears every controller, e.g. on respawn.
func (r *Registry) ResetState() {
	for _, id := range r.order {
		r.controllers[id].ResetState()
	}
}
