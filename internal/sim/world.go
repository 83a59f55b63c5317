package sim

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"driftline/server/internal/journal"
	"driftline/server/internal/modifier"
	"driftline/server/internal/telemetry"
	"driftline/server/logging"
)

const (
	// CommandRejectUnknownActor indicates a command referenced an actor the
	// world does not track.
	CommandRejectUnknownActor = "unknown_actor"
	// CommandRejectUnauthorizedGrant indicates a grant command arrived from
	// an untrusted source. Grants are issued by the console and server-side
	// logic only.
	CommandRejectUnauthorizedGrant = "unauthorized_grant"

	metricCommandsApplied  = "sim_commands_applied_total"
	metricCommandsRejected = "sim_commands_rejected_total"
	metricCorrectionsSent  = "sim_corrections_total"
	metricHeartbeatRTT     = "sim_heartbeat_rtt_ms"
)

// WorldConfig tunes the authoritative world.
type WorldConfig struct {
	Categories       []modifier.Category
	KeyframeCapacity int
	KeyframeMaxAge   time.Duration
}

// World is the authoritative simulation core. It owns one modifier registry
// per actor, applies staged commands, and flushes effective-level summaries
// into the journal once per tick. The loop goroutine is the only mutator of
// tick state; the mutex covers actor add/remove from connection goroutines.
type World struct {
	deps       Deps
	categories []modifier.Category
	journal    *journal.Journal

	mu          sync.Mutex
	actors      map[string]*modifier.Registry
	order       []string
	removed     []string
	tick        uint64
	inTick      bool
	keyframeSeq uint64

	acks        []CommandAck
	rejections  []CommandRejection
	corrections []Correction
	grants      []GrantUpdate
}

// NewWorld constructs a world for the configured categories.
func NewWorld(cfg WorldConfig, deps Deps) (*World, error) {
	if len(cfg.Categories) == 0 {
		cfg.Categories = modifier.DefaultCategories()
	}
	for _, category := range cfg.Categories {
		if err := category.Validate(); err != nil {
			return nil, err
		}
	}
	if deps.Publisher == nil {
		deps.Publisher = logging.NopPublisher()
	}
	if deps.Clock == nil {
		deps.Clock = logging.SystemClock{}
	}
	capacity := cfg.KeyframeCapacity
	if capacity == 0 {
		capacity = 32
	}
	j := journal.New(capacity, cfg.KeyframeMaxAge)
	if deps.Metrics != nil {
		j.AttachTelemetry(telemetry.NewJournalRecorder(deps.Metrics))
	}
	return &World{
		deps:       deps,
		categories: cfg.Categories,
		journal:    j,
		actors:     make(map[string]*modifier.Registry),
	}, nil
}

// Deps returns the injected dependencies.
func (w *World) Deps() Deps {
	return w.deps
}

// Categories lists the configured category set.
func (w *World) Categories() []modifier.Category {
	copied := make([]modifier.Category, len(w.categories))
	copy(copied, w.categories)
	return copied
}

// Journal exposes the world's patch journal for telemetry attachment.
func (w *World) Journal() *journal.Journal {
	return w.journal
}

// AddActor registers an actor and builds its authoritative registry.
func (w *World) AddActor(actorID string) error {
	if actorID == "" {
		return fmt.Errorf("sim: actor id is empty")
	}
	registry, err := modifier.NewRegistry(modifier.RegistryConfig{
		Role:       modifier.RoleAuthority,
		Categories: w.categories,
		Publisher:  w.deps.Publisher,
		ActorID:    actorID,
	})
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.actors[actorID]; exists {
		return fmt.Errorf("sim: actor %q already present", actorID)
	}
	w.actors[actorID] = registry
	w.order = append(w.order, actorID)
	sort.Strings(w.order)
	return nil
}

// RemoveActor drops an actor and purges its staged patches.
func (w *World) RemoveActor(actorID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.actors[actorID]; !exists {
		return false
	}
	delete(w.actors, actorID)
	for i, id := range w.order {
		if id == actorID {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	w.removed = append(w.removed, actorID)
	w.journal.PurgeActor(actorID)
	return true
}

// ActorIDs lists the tracked actors in deterministic order.
func (w *World) ActorIDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	copied := make([]string, len(w.order))
	copy(copied, w.order)
	return copied
}

// Registry exposes one actor's registry, mainly for tests and diagnostics.
func (w *World) Registry(actorID string) (*modifier.Registry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	registry, ok := w.actors[actorID]
	return registry, ok
}

// CurrentTick reports the tick of the most recent (or in-flight) step.
func (w *World) CurrentTick() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tick
}

// Apply processes staged commands against the current tick. The tick opens
// lazily so commands and the subsequent Step land on the same tick number.
func (w *World) Apply(cmds []Command) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.beginTickLocked()
	for _, cmd := range cmds {
		w.applyLocked(cmd)
	}
	return nil
}

// Step closes the tick: every registry flushes its changed summaries into
// the journal.
func (w *World) Step() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.beginTickLocked()
	for _, id := range w.order {
		for _, update := range w.actors[id].FlushTick(w.tick) {
			w.journal.AppendSummary(id, update)
		}
	}
	w.inTick = false
}

func (w *World) beginTickLocked() {
	if w.inTick {
		return
	}
	w.tick++
	w.inTick = true
	for _, id := range w.order {
		w.actors[id].CaptureForTick(w.tick)
	}
}

func (w *World) applyLocked(cmd Command) {
	switch cmd.Type {
	case CommandHeartbeat:
		if cmd.Heartbeat != nil && w.deps.Metrics != nil {
			w.deps.Metrics.Store(metricHeartbeatRTT, uint64(cmd.Heartbeat.RTT.Milliseconds()))
		}
	case CommandGrant:
		w.applyGrantLocked(cmd)
	case CommandModifier:
		w.applyModifierLocked(cmd)
	}
}

func (w *World) applyGrantLocked(cmd Command) {
	if cmd.Grant == nil {
		return
	}
	if cmd.Grant.Source == "client" {
		w.rejectLocked(cmd, cmd.Grant.Scope, CommandRejectUnauthorizedGrant, modifier.NoModifierByte)
		return
	}
	registry, ok := w.actors[cmd.ActorID]
	if !ok {
		w.rejectLocked(cmd, "", CommandRejectUnknownActor, modifier.NoModifierByte)
		return
	}
	grant := registry.GrantAuthority(cmd.Grant.Scope, cmd.Grant.Source, cmd.Grant.DurationTicks)
	w.grants = append(w.grants, GrantUpdate{ActorID: cmd.ActorID, Tick: w.tick, Grant: grant})
}

func (w *World) applyModifierLocked(cmd Command) {
	mod := cmd.Modifier
	if mod == nil {
		return
	}
	registry, ok := w.actors[cmd.ActorID]
	if !ok {
		w.rejectLocked(cmd, mod.Category, CommandRejectUnknownActor, modifier.NoModifierByte)
		return
	}

	// Client commands claiming the server-initiated path are only honored
	// under an active authority grant; without one they are rejected before
	// they can touch the authoritative stack.
	if mod.NetType == modifier.NetTypeServerInitiated {
		if ctrl, known := registry.Controller(mod.Category); known && !registry.HasAuthority(mod.Category) {
			w.rejectLocked(cmd, mod.Category, modifier.RejectRequiresAuthority, ctrl.EncodedLevel())
			return
		}
	}

	var result modifier.RequestResult
	switch mod.Op {
	case modifier.OpAdd:
		result = registry.RequestAdd(mod.Category, mod.Level, mod.NetType)
	case modifier.OpRemove:
		result = registry.RequestRemove(mod.Category, mod.Level, mod.NetType, mod.RemoveAll)
	case modifier.OpReset:
		result = registry.RequestReset(mod.Category, mod.NetType)
	default:
		w.rejectLocked(cmd, mod.Category, modifier.RejectUnknownLevel, modifier.NoModifierByte)
		return
	}

	if result.Reason != "" {
		w.rejectLocked(cmd, mod.Category, result.Reason, result.Value)
		return
	}

	if w.deps.Metrics != nil {
		w.deps.Metrics.Add(metricCommandsApplied, 1)
	}
	w.acks = append(w.acks, CommandAck{
		ActorID:  cmd.ActorID,
		Seq:      cmd.Seq,
		Tick:     w.tick,
		Category: mod.Category,
		Value:    result.Value,
	})

	// The correction path short-circuits the regular summary cadence: when
	// the client's claimed byte disagrees with the authoritative outcome,
	// a dedicated frame goes back without waiting for the tick flush.
	if mod.NetType == modifier.NetTypePredictedCorrection && mod.Predicted != result.Value {
		if w.deps.Metrics != nil {
			w.deps.Metrics.Add(metricCorrectionsSent, 1)
		}
		w.corrections = append(w.corrections, Correction{
			ActorID:   cmd.ActorID,
			Seq:       cmd.Seq,
			Tick:      w.tick,
			Category:  mod.Category,
			Value:     result.Value,
			Predicted: mod.Predicted,
		})
	}
}

func (w *World) rejectLocked(cmd Command, category modifier.CategoryID, reason string, value byte) {
	if w.deps.Metrics != nil {
		w.deps.Metrics.Add(metricCommandsRejected, 1)
	}
	w.rejections = append(w.rejections, CommandRejection{
		ActorID:  cmd.ActorID,
		Seq:      cmd.Seq,
		Tick:     w.tick,
		Category: category,
		Reason:   reason,
		Value:    value,
	})
}

// Snapshot captures every actor's per-category wire bytes.
func (w *World) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	snapshot := Snapshot{Tick: w.tick}
	for _, id := range w.order {
		snapshot.Actors = append(snapshot.Actors, journal.ActorModifiers{
			ActorID: id,
			Values:  w.actors[id].Snapshot(),
		})
	}
	return snapshot
}

// BuildKeyframe assembles a keyframe from the current snapshot and stamps
// the next sequence number.
func (w *World) BuildKeyframe() journal.Keyframe {
	snapshot := w.Snapshot()
	w.mu.Lock()
	w.keyframeSeq++
	seq := w.keyframeSeq
	w.mu.Unlock()
	return journal.Keyframe{
		Tick:     snapshot.Tick,
		Sequence: seq,
		Actors:   snapshot.Actors,
	}
}

// DrainPatches forwards to the journal.
func (w *World) DrainPatches() []journal.Patch {
	return w.journal.DrainPatches()
}

// SnapshotPatches forwards to the journal.
func (w *World) SnapshotPatches() []journal.Patch {
	return w.journal.SnapshotPatches()
}

// RestorePatches forwards to the journal.
func (w *World) RestorePatches(patches []journal.Patch) {
	w.journal.RestorePatches(patches)
}

// ConsumeResyncHint forwards to the journal.
func (w *World) ConsumeResyncHint() (journal.ResyncSignal, bool) {
	return w.journal.ConsumeResyncHint()
}

// RecordKeyframe forwards to the journal.
func (w *World) RecordKeyframe(frame journal.Keyframe) journal.KeyframeRecordResult {
	return w.journal.RecordKeyframe(frame)
}

// KeyframeBySequence forwards to the journal.
func (w *World) KeyframeBySequence(sequence uint64) (journal.Keyframe, bool) {
	return w.journal.KeyframeBySequence(sequence)
}

// KeyframeWindow forwards to the journal.
func (w *World) KeyframeWindow() (int, uint64, uint64) {
	return w.journal.KeyframeWindow()
}

// DrainAcks returns and clears the acknowledgements staged this tick.
func (w *World) DrainAcks() []CommandAck {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.acks) == 0 {
		return nil
	}
	drained := make([]CommandAck, len(w.acks))
	copy(drained, w.acks)
	w.acks = w.acks[:0]
	return drained
}

// DrainRejections returns and clears the rejections staged this tick.
func (w *World) DrainRejections() []CommandRejection {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.rejections) == 0 {
		return nil
	}
	drained := make([]CommandRejection, len(w.rejections))
	copy(drained, w.rejections)
	w.rejections = w.rejections[:0]
	return drained
}

// DrainCorrections returns and clears the correction frames staged this tick.
func (w *World) DrainCorrections() []Correction {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.corrections) == 0 {
		return nil
	}
	drained := make([]Correction, len(w.corrections))
	copy(drained, w.corrections)
	w.corrections = w.corrections[:0]
	return drained
}

// DrainGrants returns and clears the grant updates staged this tick.
func (w *World) DrainGrants() []GrantUpdate {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.grants) == 0 {
		return nil
	}
	drained := make([]GrantUpdate, len(w.grants))
	copy(drained, w.grants)
	w.grants = w.grants[:0]
	return drained
}

// RemovedActors returns and clears the actors removed since the last call.
func (w *World) RemovedActors() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.removed) == 0 {
		return nil
	}
	drained := make([]string, len(w.removed))
	copy(drained, w.removed)
	w.removed = w.removed[:0]
	return drained
}

var _ EngineCore = (*World)(nil)
