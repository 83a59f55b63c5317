package sim

import (
	"testing"

	"driftline/server/internal/journal"
	"driftline/server/internal/modifier"
	"driftline/server/logging"
)

func newTestWorld(t *testing.T) *World {
	t.Helper()
	world, err := NewWorld(WorldConfig{KeyframeCapacity: 4}, Deps{Metrics: logging.NewMetrics()})
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	if err := world.AddActor("actor-1"); err != nil {
		t.Fatalf("add actor: %v", err)
	}
	return world
}

func modifierCommand(actorID string, seq uint64, mod ModifierCommand) Command {
	return Command{ActorID: actorID, Seq: seq, Type: CommandModifier, Modifier: &mod}
}

func TestWorldAppliesModifierAndFlushesSummary(t *testing.T) {
	world := newTestWorld(t)

	cmd := modifierCommand("actor-1", 7, ModifierCommand{
		Category: modifier.CategoryBoost,
		Op:       modifier.OpAdd,
		Level:    "boost.tier2",
		NetType:  modifier.NetTypePredicted,
	})
	if err := world.Apply([]Command{cmd}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	world.Step()

	acks := world.DrainAcks()
	if len(acks) != 1 {
		t.Fatalf("expected 1 ack, got %d", len(acks))
	}
	if acks[0].Seq != 7 || acks[0].Value != 2 || acks[0].Tick != 1 {
		t.Fatalf("unexpected ack %+v", acks[0])
	}

	patches := world.DrainPatches()
	if len(patches) != 1 {
		t.Fatalf("expected 1 summary patch, got %d", len(patches))
	}
	patch := patches[0]
	if patch.Kind != journal.PatchModifierSummary || patch.ActorID != "actor-1" {
		t.Fatalf("unexpected patch %+v", patch)
	}
	if patch.Category != modifier.CategoryBoost || patch.Value != 2 || patch.Prev != 0 || patch.Tick != 1 {
		t.Fatalf("unexpected summary bytes %+v", patch)
	}
}

func TestWorldQuietTickFlushesNothing(t *testing.T) {
	world := newTestWorld(t)
	world.Step()
	if patches := world.DrainPatches(); patches != nil {
		t.Fatalf("quiet tick must produce no patches, got %+v", patches)
	}
}

func TestWorldRejectsUnknownActor(t *testing.T) {
	world := newTestWorld(t)
	cmd := modifierCommand("ghost", 1, ModifierCommand{
		Category: modifier.CategoryBoost,
		Op:       modifier.OpAdd,
		Level:    "boost.tier1",
		NetType:  modifier.NetTypePredicted,
	})
	world.Apply([]Command{cmd})

	rejections := world.DrainRejections()
	if len(rejections) != 1 || rejections[0].Reason != CommandRejectUnknownActor {
		t.Fatalf("expected unknown_actor rejection, got %+v", rejections)
	}
	if world.DrainAcks() != nil {
		t.Fatalf("rejected command must not ack")
	}
}

func TestWorldRejectsDisallowedNetType(t *testing.T) {
	world := newTestWorld(t)
	cmd := modifierCommand("actor-1", 3, ModifierCommand{
		Category: modifier.CategorySnare,
		Op:       modifier.OpAdd,
		Level:    "snare.tier1",
		NetType:  modifier.NetTypePredicted,
	})
	world.Apply([]Command{cmd})

	rejections := world.DrainRejections()
	if len(rejections) != 1 || rejections[0].Reason != modifier.RejectNetType {
		t.Fatalf("expected net type rejection, got %+v", rejections)
	}
}

func TestWorldCorrectionShortCircuit(t *testing.T) {
	world := newTestWorld(t)

	// The client claims its optimistic apply left byte 3 showing, but the
	// server lands on byte 1.
	cmd := modifierCommand("actor-1", 9, ModifierCommand{
		Category:  modifier.CategoryBoost,
		Op:        modifier.OpAdd,
		Level:     "boost.tier1",
		NetType:   modifier.NetTypePredictedCorrection,
		Predicted: 3,
	})
	world.Apply([]Command{cmd})

	corrections := world.DrainCorrections()
	if len(corrections) != 1 {
		t.Fatalf("expected 1 correction, got %d", len(corrections))
	}
	c := corrections[0]
	if c.Seq != 9 || c.Value != 1 || c.Predicted != 3 || c.Category != modifier.CategoryBoost {
		t.Fatalf("unexpected correction %+v", c)
	}
}

func TestWorldAgreementSendsNoCorrection(t *testing.T) {
	world := newTestWorld(t)
	cmd := modifierCommand("actor-1", 9, ModifierCommand{
		Category:  modifier.CategoryBoost,
		Op:        modifier.OpAdd,
		Level:     "boost.tier1",
		NetType:   modifier.NetTypePredictedCorrection,
		Predicted: 1,
	})
	world.Apply([]Command{cmd})

	if corrections := world.DrainCorrections(); corrections != nil {
		t.Fatalf("matching prediction must not correct, got %+v", corrections)
	}
	if acks := world.DrainAcks(); len(acks) != 1 {
		t.Fatalf("expected the ack to still go out")
	}
}

func TestWorldGrantCommand(t *testing.T) {
	world := newTestWorld(t)
	world.Apply([]Command{{
		ActorID: "actor-1",
		Type:    CommandGrant,
		Grant:   &GrantCommand{Scope: modifier.CategorySnare, Source: "console", DurationTicks: 50},
	}})

	grants := world.DrainGrants()
	if len(grants) != 1 {
		t.Fatalf("expected 1 grant update, got %d", len(grants))
	}
	grant := grants[0].Grant
	if grant.Scope != modifier.CategorySnare || grant.ExpiryTick != 51 {
		t.Fatalf("unexpected grant %+v", grant)
	}

	registry, _ := world.Registry("actor-1")
	if !registry.HasAuthority(modifier.CategorySnare) {
		t.Fatalf("grant must be live on the actor's registry")
	}
}

func TestWorldServerNetTypeNeedsGrant(t *testing.T) {
	world := newTestWorld(t)
	cmd := modifierCommand("actor-1", 4, ModifierCommand{
		Category: modifier.CategorySnare,
		Op:       modifier.OpAdd,
		Level:    "snare.tier3",
		NetType:  modifier.NetTypeServerInitiated,
	})
	world.Apply([]Command{cmd})

	rejections := world.DrainRejections()
	if len(rejections) != 1 || rejections[0].Reason != modifier.RejectRequiresAuthority {
		t.Fatalf("grant-less server command must be refused, got %+v", rejections)
	}
	if world.DrainAcks() != nil {
		t.Fatalf("refused command must not ack")
	}
	registry, _ := world.Registry("actor-1")
	if got := registry.Snapshot()[modifier.CategorySnare]; got != 0 {
		t.Fatalf("refused command must not touch the stack, value=%d", got)
	}

	// An active grant opens the path for the identical command.
	world.Apply([]Command{{
		ActorID: "actor-1",
		Type:    CommandGrant,
		Grant:   &GrantCommand{Scope: modifier.CategorySnare, Source: "console", DurationTicks: 50},
	}})
	cmd.Seq = 5
	world.Apply([]Command{cmd})

	acks := world.DrainAcks()
	if len(acks) != 1 || acks[0].Value != 3 {
		t.Fatalf("granted command must ack with the new byte, got %+v", acks)
	}
	if world.DrainRejections() != nil {
		t.Fatalf("granted command must not be refused")
	}
}

func TestWorldRefusesClientSourcedGrant(t *testing.T) {
	world := newTestWorld(t)
	world.Apply([]Command{{
		ActorID: "actor-1",
		Seq:     6,
		Type:    CommandGrant,
		Grant:   &GrantCommand{Scope: modifier.CategorySnare, Source: "client", DurationTicks: 50},
	}})

	rejections := world.DrainRejections()
	if len(rejections) != 1 || rejections[0].Reason != CommandRejectUnauthorizedGrant {
		t.Fatalf("client-sourced grant must be refused, got %+v", rejections)
	}
	if world.DrainGrants() != nil {
		t.Fatalf("refused grant must not broadcast")
	}
	registry, _ := world.Registry("actor-1")
	if registry.HasAuthority(modifier.CategorySnare) {
		t.Fatalf("refused grant must not take effect")
	}
}

func TestWorldSnapshotAndKeyframe(t *testing.T) {
	world := newTestWorld(t)
	if err := world.AddActor("actor-2"); err != nil {
		t.Fatalf("add actor: %v", err)
	}
	world.Apply([]Command{modifierCommand("actor-2", 1, ModifierCommand{
		Category: modifier.CategorySlowFall,
		Op:       modifier.OpAdd,
		Level:    "slowfall.tier1",
		NetType:  modifier.NetTypePredicted,
	})})
	world.Step()

	snapshot := world.Snapshot()
	if snapshot.Tick != 1 || len(snapshot.Actors) != 2 {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
	if snapshot.Actors[0].ActorID != "actor-1" || snapshot.Actors[1].ActorID != "actor-2" {
		t.Fatalf("actors must come in deterministic order, got %+v", snapshot.Actors)
	}
	if snapshot.Actors[1].Values[modifier.CategorySlowFall] != 1 {
		t.Fatalf("slowfall byte not captured: %+v", snapshot.Actors[1])
	}

	frame := world.BuildKeyframe()
	if frame.Sequence != 1 || frame.Tick != 1 {
		t.Fatalf("unexpected keyframe %+v", frame)
	}
	result := world.RecordKeyframe(frame)
	if result.Size != 1 || result.NewestSequence != 1 {
		t.Fatalf("unexpected record result %+v", result)
	}
	if stored, ok := world.KeyframeBySequence(1); !ok || len(stored.Actors) != 2 {
		t.Fatalf("keyframe lookup failed: %+v %v", stored, ok)
	}
}

func TestWorldRemoveActorPurgesPatches(t *testing.T) {
	world := newTestWorld(t)
	world.Apply([]Command{modifierCommand("actor-1", 1, ModifierCommand{
		Category: modifier.CategoryBoost,
		Op:       modifier.OpAdd,
		Level:    "boost.tier1",
		NetType:  modifier.NetTypePredicted,
	})})
	world.Step()

	if !world.RemoveActor("actor-1") {
		t.Fatalf("remove should succeed")
	}
	if world.RemoveActor("actor-1") {
		t.Fatalf("double remove should fail")
	}
	if patches := world.DrainPatches(); patches != nil {
		t.Fatalf("removed actor's patches must be purged, got %+v", patches)
	}
	removed := world.RemovedActors()
	if len(removed) != 1 || removed[0] != "actor-1" {
		t.Fatalf("unexpected removed list %v", removed)
	}
	if world.RemovedActors() != nil {
		t.Fatalf("removed list must clear after drain")
	}
}

func TestWorldDuplicateActorRejected(t *testing.T) {
	world := newTestWorld(t)
	if err := world.AddActor("actor-1"); err == nil {
		t.Fatalf("duplicate actor must be rejected")
	}
}

func TestWorldTickAdvancesOncePerStep(t *testing.T) {
	world := newTestWorld(t)
	world.Apply(nil)
	world.Step()
	world.Apply(nil)
	world.Step()
	if got := world.CurrentTick(); got != 2 {
		t.Fatalf("expected tick 2, got %d", got)
	}
}
