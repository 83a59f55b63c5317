package journal

import (
	"sync"
	"time"

	"driftline/server/internal/modifier"
)

// Telemetry captures the metrics adapter used by the journal to report drops.
type Telemetry interface {
	RecordJournalDrop(metric string)
}

// PatchKind identifies the type of diff entry.
type PatchKind string

const (
	// PatchModifierSummary carries one category's authoritative wire byte.
	PatchModifierSummary PatchKind = "modifier_summary"
	// PatchActorRemoved signals that an actor left the simulation.
	PatchActorRemoved PatchKind = "actor_removed"
)

// Patch is one diff entry applied to client state. Summaries carry the
// authoritative byte plus the previous one so clients can diff without
// local bookkeeping.
type Patch struct {
	Kind     PatchKind           `json:"kind"`
	Tick     uint64              `json:"tick"`
	ActorID  string              `json:"actorId"`
	Category modifier.CategoryID `json:"category,omitempty"`
	Value    byte                `json:"value"`
	Prev     byte                `json:"prev"`
}

// Journal accumulates summary patches generated during a tick and keeps a
// rolling buffer of recent keyframes so late joiners and nacked clients can
// rehydrate state.
type Journal struct {
	mu        sync.RWMutex
	patches   []Patch
	keyframes []Keyframe
	maxFrames int
	maxAge    time.Duration
	telemetry Telemetry
	resync    *Policy
}

// New constructs a journal with storage for the configured number of
// keyframes and retention window.
func New(keyframeCapacity int, maxAge time.Duration) *Journal {
	if keyframeCapacity < 0 {
		keyframeCapacity = 0
	}
	if maxAge < 0 {
		maxAge = 0
	}
	return &Journal{
		patches:   make([]Patch, 0),
		keyframes: make([]Keyframe, 0, keyframeCapacity),
		maxFrames: keyframeCapacity,
		maxAge:    maxAge,
		resync:    NewPolicy(),
	}
}

// AppendSummary records one authoritative effective-level change.
func (j *Journal) AppendSummary(actorID string, update modifier.SummaryUpdate) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.resync != nil {
		j.resync.NoteSummary()
	}
	j.patches = append(j.patches, Patch{
		Kind:     PatchModifierSummary,
		Tick:     update.Tick,
		ActorID:  actorID,
		Category: update.Category,
		Value:    update.Value,
		Prev:     update.Prev,
	})
}

// AppendPatch records a raw patch for the current tick.
func (j *Journal) AppendPatch(p Patch) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.patches = append(j.patches, p)
}

// NoteStaleSummary records a client-reported discard of an out-of-order
// summary. Enough of them within the window flips the resync hint.
func (j *Journal) NoteStaleSummary(actorID string, category modifier.CategoryID) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.recordJournalDropLocked(metricJournalStaleSummary)
	if j.resync != nil {
		j.resync.NoteStale(metricJournalStaleSummary, actorID, string(category))
	}
}

// PurgeActor drops all staged patches that reference the actor. It keeps the
// journal internally consistent when actors are removed before the next
// broadcast.
func (j *Journal) PurgeActor(actorID string) {
	if actorID == "" {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.patches) == 0 {
		return
	}
	filtered := j.patches[:0]
	for _, patch := range j.patches {
		if patch.ActorID == actorID {
			continue
		}
		filtered = append(filtered, patch)
	}
	j.patches = filtered
}

// DrainPatches returns all staged patches and clears the in-memory slice.
func (j *Journal) DrainPatches() []Patch {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.patches) == 0 {
		return nil
	}
	drained := make([]Patch, len(j.patches))
	copy(drained, j.patches)
	j.patches = j.patches[:0]
	return drained
}

// SnapshotPatches returns a copy of the staged patches without clearing the
// journal.
func (j *Journal) SnapshotPatches() []Patch {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.patches) == 0 {
		return nil
	}
	snapshot := make([]Patch, len(j.patches))
	copy(snapshot, j.patches)
	return snapshot
}

// RestorePatches prepends the provided patches back into the journal. It is
// used when a caller drains the journal but the state message cannot be sent
// and the tick has to be retried.
func (j *Journal) RestorePatches(p []Patch) {
	if len(p) == 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	restored := make([]Patch, 0, len(p)+len(j.patches))
	restored = append(restored, p...)
	restored = append(restored, j.patches...)
	j.patches = restored
}

// ConsumeResyncHint reports whether the journal observed enough stale
// summaries to warrant a client resynchronisation. Counters reset after each
// consumption so the caller can re-evaluate on subsequent ticks.
func (j *Journal) ConsumeResyncHint() (ResyncSignal, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.resync == nil {
		return ResyncSignal{}, false
	}
	return j.resync.Consume()
}

// RecordKeyframe stores a keyframe in the buffer enforcing retention limits
// by count and age.
func (j *Journal) RecordKeyframe(frame Keyframe) KeyframeRecordResult {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.maxFrames == 0 {
		j.keyframes = j.keyframes[:0]
		return KeyframeRecordResult{}
	}

	frame.RecordedAt = time.Now()
	j.keyframes = append(j.keyframes, frame)

	cutoff := time.Time{}
	if j.maxAge > 0 {
		cutoff = frame.RecordedAt.Add(-j.maxAge)
	}

	evicted := make([]KeyframeEviction, 0)
	if !cutoff.IsZero() {
		idx := 0
		for idx < len(j.keyframes) {
			if !j.keyframes[idx].RecordedAt.Before(cutoff) {
				break
			}
			evicted = append(evicted, KeyframeEviction{
				Sequence: j.keyframes[idx].Sequence,
				Tick:     j.keyframes[idx].Tick,
				Reason:   "expired",
			})
			idx++
		}
		if idx > 0 {
			copy(j.keyframes, j.keyframes[idx:])
			j.keyframes = j.keyframes[:len(j.keyframes)-idx]
		}
	}

	if j.maxFrames > 0 && len(j.keyframes) > j.maxFrames {
		overflow := len(j.keyframes) - j.maxFrames
		for i := 0; i < overflow; i++ {
			dropped := j.keyframes[i]
			evicted = append(evicted, KeyframeEviction{
				Sequence: dropped.Sequence,
				Tick:     dropped.Tick,
				Reason:   "count",
			})
		}
		copy(j.keyframes, j.keyframes[overflow:])
		j.keyframes = j.keyframes[:len(j.keyframes)-overflow]
	}

	size := len(j.keyframes)
	result := KeyframeRecordResult{Size: size}
	if size > 0 {
		result.OldestSequence = j.keyframes[0].Sequence
		result.NewestSequence = j.keyframes[size-1].Sequence
	}
	result.Evicted = evicted
	return result
}

// Keyframes exposes the current keyframe buffer contents in chronological
// order. Callers receive a copy to avoid holding references into the buffer.
func (j *Journal) Keyframes() []Keyframe {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if len(j.keyframes) == 0 {
		return nil
	}
	frames := make([]Keyframe, len(j.keyframes))
	copy(frames, j.keyframes)
	return frames
}

// KeyframeBySequence returns the keyframe matching the provided sequence.
func (j *Journal) KeyframeBySequence(sequence uint64) (Keyframe, bool) {
	if sequence == 0 {
		return Keyframe{}, false
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, frame := range j.keyframes {
		if frame.Sequence == sequence {
			return frame, true
		}
	}
	return Keyframe{}, false
}

// KeyframeWindow reports the current retention window.
func (j *Journal) KeyframeWindow() (size int, oldest, newest uint64) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	size = len(j.keyframes)
	if size == 0 {
		return size, 0, 0
	}
	oldest = j.keyframes[0].Sequence
	newest = j.keyframes[size-1].Sequence
	return size, oldest, newest
}

const metricJournalStaleSummary = "journal_stale_summary"

func (j *Journal) recordJournalDropLocked(metric string) {
	if j.telemetry == nil || metric == "" {
		return
	}
	j.telemetry.RecordJournalDrop(metric)
}

func (j *Journal) AttachTelemetry(t Telemetry) {
	j.mu.Lock()
	j.telemetry = t
	j.mu.Unlock()
}

// ActorModifiers is one actor's full per-category byte snapshot.
type ActorModifiers struct {
	ActorID string                       `json:"actorId"`
	Values  map[modifier.CategoryID]byte `json:"values,omitempty"`
}

// Keyframe captures the immutable state snapshot stored in the journal.
type Keyframe struct {
	Tick       uint64           `json:"tick"`
	Sequence   uint64           `json:"sequence"`
	Actors     []ActorModifiers `json:"actors,omitempty"`
	RecordedAt time.Time        `json:"recordedAt"`
}

// KeyframeEviction describes a keyframe removed from the buffer and why.
type KeyframeEviction struct {
	Sequence uint64 `json:"sequence"`
	Tick     uint64 `json:"tick"`
	Reason   string `json:"reason,omitempty"`
}

// KeyframeRecordResult reports journal state after storing a keyframe.
type KeyframeRecordResult struct {
	Size           int                `json:"size"`
	OldestSequence uint64             `json:"oldestSequence"`
	NewestSequence uint64             `json:"newestSequence"`
	Evicted        []KeyframeEviction `json:"evicted,omitempty"`
}
