package modifier

import (
	"context"

	"driftline/server/logging"
	loggingmodifiers "driftline/server/logging/modifiers"
)

// Request rejection reasons, reported to the caller the same way command
// rejects are.
const (
	RejectUnknownCategory   = "unknown_category"
	RejectUnknownLevel      = "unknown_level"
	RejectNetType           = "net_type_not_allowed"
	RejectRequiresAuthority = "requires_authority"
	RejectObserver          = "observer"
)

// RequestResult reports the local outcome of a modifier request. Applied is
// false both for rejections (Reason set) and for no-op removes/resets
// (Reason empty), which are not errors.
type RequestResult struct {
	Applied bool
	Changed bool
	Reason  string
	Value   byte
}

// SummaryUpdate is one authoritative effective-level change, ready for the
// wire.
type SummaryUpdate struct {
	Category  CategoryID
	Level     Level
	PrevLevel Level
	Value     byte
	Prev      byte
	Tick      uint64
}

// Controller reconciles one category on one actor for one simulation role.
// The authority mutates the real stack and flushes summaries per tick; the
// predicting client mutates a shadow stack and reconciles it against inbound
// summaries; the observer tracks the decoded summary only.
type Controller struct {
	category Category
	role     Role
	stack    *Stack
	ledger   *Ledger
	codec    *Codec
	grants   *GrantSet
	sink     EventSink
	pub      logging.Publisher
	actor    logging.EntityRef

	tick          uint64
	authLevel     Level
	authTick      uint64
	lastBroadcast byte
}

func NewController(category Category, role Role, grants *GrantSet, sink EventSink, pub logging.Publisher, actor logging.EntityRef) *Controller {
	window := category.ExpiryTicks
	if window == 0 {
		window = DefaultExpiryTicks
	}
	if pub == nil {
		pub = logging.NopPublisher()
	}
	return &Controller{
		category:      category,
		role:          role,
		stack:         NewStack(category),
		ledger:        NewLedger(window),
		codec:         NewCodec(category.Levels),
		grants:        grants,
		sink:          sink,
		pub:           pub,
		actor:         actor,
		authLevel:     NoModifier,
		lastBroadcast: NoModifierByte,
	}
}

// CaptureForTick is called by the simulation driver at the start of every
// tick. It stamps the tick used for new prediction records and expires
// records whose ack window has closed, rolling the shadow stack back to the
// last authoritative state as if they had been corrected.
func (c *Controller) CaptureForTick(tick uint64) {
	c.tick = tick
	if c.role != RolePredicting {
		return
	}
	expired := c.ledger.ExpireThrough(tick)
	if len(expired) == 0 {
		return
	}
	prevShown := c.stack.EffectiveLevel()
	replayed := c.rollbackReplay(c.authLevel)
	c.fireTransition(Diff(c.category.ID, prevShown, c.stack.EffectiveLevel()), tick)
	loggingmodifiers.Expired(context.Background(), c.pub, tick, c.actor, loggingmodifiers.CorrectionPayload{
		Category:       string(c.category.ID),
		Predicted:      string(prevShown),
		Authoritative:  string(c.authLevel),
		ReplayedOps:    replayed,
		IssuedTick:     expired[0].Tick,
		ResolvedAtTick: tick,
	})
}

// Request routes one add/remove/reset through the role's path. On the
// authority it mutates the real stack and defers events to FlushTick so the
// notifier fires once per tick-level transition. On the predicting client it
// mutates the shadow stack, records the prediction, and fires events
// immediately for zero-latency response.
func (c *Controller) Request(op Op, level Level, netType NetType, removeAll bool) RequestResult {
	if c.role == RoleObserver {
		return RequestResult{Reason: RejectObserver, Value: c.EncodedLevel()}
	}
	if !c.category.AllowsNetType(netType) {
		return RequestResult{Reason: RejectNetType, Value: c.EncodedLevel()}
	}
	if c.role == RolePredicting && netType == NetTypeServerInitiated {
		if !c.grants.Active(c.category.ID, c.tick) {
			return RequestResult{Reason: RejectRequiresAuthority, Value: c.EncodedLevel()}
		}
	}

	prev := c.stack.EffectiveLevel()
	applied := false
	switch op {
	case OpAdd:
		if _, err := c.stack.Add(level, c.mutationOrigin()); err != nil {
			return RequestResult{Reason: RejectUnknownLevel, Value: c.EncodedLevel()}
		}
		applied = true
	case OpRemove:
		applied = c.stack.Remove(level, removeAll) > 0
	case OpReset:
		applied = c.stack.Reset()
	default:
		return RequestResult{Reason: RejectUnknownLevel, Value: c.EncodedLevel()}
	}

	next := c.stack.EffectiveLevel()
	changed := next != prev

	// No-op removes and resets leave nothing to reconcile, so they never
	// enter the prediction ledger.
	if c.role == RolePredicting && applied {
		c.ledger.Push(Record{
			Op:        op,
			Level:     level,
			RemoveAll: removeAll,
			Tick:      c.tick,
			NetType:   netType,
			Predicted: next,
		})
		if changed {
			c.fireTransition(Diff(c.category.ID, prev, next), c.tick)
		}
	}

	return RequestResult{Applied: applied, Changed: changed, Value: c.codec.Encode(next)}
}

// FlushTick emits the authoritative summary when the effective level moved
// since the last broadcast. Events fire here, once per transition, no matter
// how many mutations landed within the tick.
func (c *Controller) FlushTick(tick uint64) (SummaryUpdate, bool) {
	if c.role != RoleAuthority {
		return SummaryUpdate{}, false
	}
	effective := c.stack.EffectiveLevel()
	value := c.codec.Encode(effective)
	if value == c.lastBroadcast {
		return SummaryUpdate{}, false
	}
	update := SummaryUpdate{
		Category:  c.category.ID,
		Level:     effective,
		PrevLevel: c.authLevel,
		Value:     value,
		Prev:      c.lastBroadcast,
		Tick:      tick,
	}
	c.fireTransition(Diff(c.category.ID, c.authLevel, effective), tick)
	c.authLevel = effective
	c.authTick = tick
	c.lastBroadcast = value
	return update, true
}

// ReconcileAgainstAuthoritative applies an inbound replicated summary.
// Summaries must arrive in non-decreasing tick order; older ones are
// discarded and reported false. The observer diffs its previous decoded
// value; the predicting client acknowledges or corrects its ledger.
func (c *Controller) ReconcileAgainstAuthoritative(tick uint64, value byte) bool {
	if c.role == RoleAuthority {
		return false
	}
	if tick < c.authTick {
		return false
	}
	decoded := c.codec.Decode(value)
	prevAuth := c.authLevel
	c.authTick = tick
	c.authLevel = decoded

	if c.role == RoleObserver {
		c.fireTransition(Diff(c.category.ID, prevAuth, decoded), tick)
		return true
	}

	prevShown := c.stack.EffectiveLevel()
	resolved := c.ledger.ResolveThrough(tick)

	if len(resolved) > 0 {
		if resolved[len(resolved)-1].Predicted == decoded {
			// Prediction confirmed; the events already fired at request
			// time, so the records just disappear.
			return true
		}
		replayed := c.rollbackReplay(decoded)
		c.fireTransition(Diff(c.category.ID, prevShown, c.stack.EffectiveLevel()), tick)
		loggingmodifiers.Corrected(context.Background(), c.pub, tick, c.actor, loggingmodifiers.CorrectionPayload{
			Category:       string(c.category.ID),
			Predicted:      string(resolved[len(resolved)-1].Predicted),
			Authoritative:  string(decoded),
			ReplayedOps:    replayed,
			IssuedTick:     resolved[0].Tick,
			ResolvedAtTick: tick,
		})
		return true
	}

	if c.ledger.Len() == 0 && prevShown == decoded {
		return true
	}
	// Server-initiated change (or a base shift under outstanding newer
	// predictions): rebuild from the authoritative value and replay.
	c.rollbackReplay(decoded)
	c.fireTransition(Diff(c.category.ID, prevShown, c.stack.EffectiveLevel()), tick)
	return true
}

// EffectiveLevel reports the level this role currently presents.
func (c *Controller) EffectiveLevel() Level {
	if c.role == RoleObserver {
		return c.authLevel
	}
	return c.stack.EffectiveLevel()
}

// IsActive reports whether the category currently presents any level.
func (c *Controller) IsActive() bool {
	return c.EffectiveLevel().IsActive()
}

// EncodedLevel reports the wire byte for the currently presented level.
func (c *Controller) EncodedLevel() byte {
	return c.codec.Encode(c.EffectiveLevel())
}

// OutstandingPredictions reports the ledger depth, for diagnostics.
func (c *Controller) OutstandingPredictions() int {
	return c.ledger.Len()
}

// ResetState clears the stack and ledger outright, e.g. on actor
// destruction or authority takeover.
func (c *Controller) ResetState() {
	c.stack.Reset()
	c.ledger.Reset()
	c.authLevel = NoModifier
	c.lastBroadcast = NoModifierByte
}

// rollbackReplay rebuilds the shadow stack from the decoded authoritative
// level and replays every outstanding prediction in tick order on top of
// it. Each replayed record re-captures the effective level it now predicts.
func (c *Controller) rollbackReplay(authoritative Level) int {
	c.stack.Reset()
	if authoritative.IsActive() {
		c.stack.Add(authoritative, OriginReplicated)
	}
	for i := range c.ledger.records {
		record := &c.ledger.records[i]
		switch record.Op {
		case OpAdd:
			c.stack.Add(record.Level, OriginPredicted)
		case OpRemove:
			c.stack.Remove(record.Level, record.RemoveAll)
		case OpReset:
			c.stack.Reset()
		}
		record.Predicted = c.stack.EffectiveLevel()
	}
	return len(c.ledger.records)
}

func (c *Controller) mutationOrigin() Origin {
	if c.role == RoleAuthority {
		return OriginServer
	}
	return OriginPredicted
}

func (c *Controller) fireTransition(t Transition, tick uint64) {
	if !t.Fired() {
		return
	}
	Dispatch(c.sink, t)
	payload := loggingmodifiers.TransitionPayload{
		Category:  string(t.Category),
		Level:     string(t.Next),
		PrevLevel: string(t.Prev),
	}
	ctx := context.Background()
	if t.Added {
		loggingmodifiers.Transition(ctx, c.pub, loggingmodifiers.EventAdded, tick, c.actor, payload)
	} else if t.Removed {
		loggingmodifiers.Transition(ctx, c.pub, loggingmodifiers.EventRemoved, tick, c.actor, payload)
	}
	loggingmodifiers.Transition(ctx, c.pub, loggingmodifiers.EventChanged, tick, c.actor, payload)
}
