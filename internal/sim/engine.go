package sim

import (
	"driftline/server/internal/journal"
	"driftline/server/internal/modifier"
)

// Snapshot is the full per-actor modifier state at one tick.
type Snapshot struct {
	Tick   uint64                   `json:"tick"`
	Actors []journal.ActorModifiers `json:"actors,omitempty"`
}

// CommandAck confirms a processed modifier command to its issuer. Value is
// the authoritative wire byte after the apply.
type CommandAck struct {
	ActorID  string              `json:"actorId"`
	Seq      uint64              `json:"seq"`
	Tick     uint64              `json:"tick"`
	Category modifier.CategoryID `json:"category"`
	Value    byte                `json:"value"`
}

// CommandRejection reports a command the engine refused and why.
type CommandRejection struct {
	ActorID  string              `json:"actorId"`
	Seq      uint64              `json:"seq"`
	Tick     uint64              `json:"tick"`
	Category modifier.CategoryID `json:"category,omitempty"`
	Reason   string              `json:"reason"`
	Value    byte                `json:"value"`
}

// Correction is the immediate frame sent when a predicted_correction command
// disagreed with the authoritative outcome. It carries the byte the client
// claimed alongside the byte the server computed.
type Correction struct {
	ActorID   string              `json:"actorId"`
	Seq       uint64              `json:"seq"`
	Tick      uint64              `json:"tick"`
	Category  modifier.CategoryID `json:"category"`
	Value     byte                `json:"value"`
	Predicted byte                `json:"predicted"`
}

// GrantUpdate replicates a freshly issued authority grant to its actor.
type GrantUpdate struct {
	ActorID string         `json:"actorId"`
	Tick    uint64         `json:"tick"`
	Grant   modifier.Grant `json:"grant"`
}

// Engine defines the minimal surface area exposed to non-simulation callers.
type Engine interface {
	Apply([]Command) error
	Step()
	Snapshot() Snapshot
	DrainPatches() []journal.Patch
	SnapshotPatches() []journal.Patch
	RestorePatches([]journal.Patch)
	ConsumeResyncHint() (journal.ResyncSignal, bool)
	RecordKeyframe(journal.Keyframe) journal.KeyframeRecordResult
	KeyframeBySequence(uint64) (journal.Keyframe, bool)
	KeyframeWindow() (int, uint64, uint64)
}

// EngineCore is the surface the loop wraps: the engine plus its injected
// dependencies and the per-tick outcome drains.
type EngineCore interface {
	Engine
	Deps() Deps
	DrainAcks() []CommandAck
	DrainRejections() []CommandRejection
	DrainCorrections() []Correction
	DrainGrants() []GrantUpdate
	RemovedActors() []string
}
