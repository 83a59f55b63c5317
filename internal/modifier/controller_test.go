package modifier

import (
	"testing"

	"driftline/server/logging"
)

func newTestController(role Role, sink EventSink) (*Controller, *GrantSet) {
	grants := &GrantSet{}
	actor := logging.EntityRef{ID: "actor-1", Kind: logging.EntityKindActor}
	ctrl := NewController(testCategory(TieBreakHighest), role, grants, sink, logging.NopPublisher(), actor)
	return ctrl, grants
}

func TestAuthorityDefersEventsToFlush(t *testing.T) {
	sink := &recordingSink{}
	ctrl, _ := newTestController(RoleAuthority, sink)
	ctrl.CaptureForTick(10)

	result := ctrl.Request(OpAdd, "boost.tier1", NetTypePredicted, false)
	if !result.Applied || !result.Changed {
		t.Fatalf("expected applied change, got %+v", result)
	}
	if len(sink.events) != 0 {
		t.Fatalf("authority must not fire events before flush, got %v", sink.events)
	}

	update, ok := ctrl.FlushTick(10)
	if !ok {
		t.Fatalf("expected a summary update")
	}
	if update.Value != 1 || update.Prev != NoModifierByte || update.Tick != 10 {
		t.Fatalf("unexpected update %+v", update)
	}
	if len(sink.ofKind("added")) != 1 || len(sink.ofKind("changed")) != 1 {
		t.Fatalf("expected one added and one changed event, got %v", sink.events)
	}

	if _, ok := ctrl.FlushTick(11); ok {
		t.Fatalf("unchanged level must not re-broadcast")
	}
}

func TestAuthorityIntraTickChurnCollapses(t *testing.T) {
	sink := &recordingSink{}
	ctrl, _ := newTestController(RoleAuthority, sink)
	ctrl.CaptureForTick(5)

	ctrl.Request(OpAdd, "boost.tier2", NetTypeServerInitiated, false)
	ctrl.Request(OpRemove, "boost.tier2", NetTypeServerInitiated, false)

	if _, ok := ctrl.FlushTick(5); ok {
		t.Fatalf("add then remove within one tick must flush nothing")
	}
	if len(sink.events) != 0 {
		t.Fatalf("collapsed churn must fire no events, got %v", sink.events)
	}
}

func TestPredictionAgreementFiresEventsOnce(t *testing.T) {
	sink := &recordingSink{}
	ctrl, _ := newTestController(RolePredicting, sink)

	// Client issues the add at tick 10; the summary the server stamps at
	// tick 11 arrives at tick 12 and simply confirms the prediction.
	ctrl.CaptureForTick(10)
	result := ctrl.Request(OpAdd, "boost.tier1", NetTypePredicted, false)
	if !result.Applied || result.Value != 1 {
		t.Fatalf("unexpected request result %+v", result)
	}
	if len(sink.ofKind("added")) != 1 {
		t.Fatalf("Added must fire immediately at the request tick, got %v", sink.events)
	}
	if ctrl.OutstandingPredictions() != 1 {
		t.Fatalf("expected one outstanding prediction")
	}

	ctrl.CaptureForTick(12)
	if !ctrl.ReconcileAgainstAuthoritative(11, 1) {
		t.Fatalf("matching summary must be accepted")
	}
	if len(sink.ofKind("added")) != 1 {
		t.Fatalf("agreement must not re-fire Added, got %v", sink.events)
	}
	if ctrl.OutstandingPredictions() != 0 {
		t.Fatalf("acknowledged prediction must leave the ledger")
	}
	if got := ctrl.EffectiveLevel(); got != "boost.tier1" {
		t.Fatalf("expected tier1 after agreement, got %q", got)
	}
}

func TestPredictionCorrectionRollsBack(t *testing.T) {
	sink := &recordingSink{}
	ctrl, _ := newTestController(RolePredicting, sink)

	ctrl.CaptureForTick(10)
	ctrl.Request(OpAdd, "boost.tier2", NetTypePredictedCorrection, false)
	if got := ctrl.EffectiveLevel(); got != "boost.tier2" {
		t.Fatalf("optimistic apply should show tier2, got %q", got)
	}

	// Server disagrees: the authoritative summary says no modifier.
	ctrl.CaptureForTick(12)
	if !ctrl.ReconcileAgainstAuthoritative(11, NoModifierByte) {
		t.Fatalf("correction summary must be accepted")
	}
	if got := ctrl.EffectiveLevel(); got != NoModifier {
		t.Fatalf("rollback must restore the authoritative level, got %q", got)
	}
	if len(sink.ofKind("removed")) != 1 {
		t.Fatalf("the visible downgrade must fire Removed once, got %v", sink.events)
	}
	if ctrl.OutstandingPredictions() != 0 {
		t.Fatalf("corrected prediction must leave the ledger")
	}
}

func TestCorrectionReplaysNewerPredictions(t *testing.T) {
	sink := &recordingSink{}
	ctrl, _ := newTestController(RolePredicting, sink)

	ctrl.CaptureForTick(10)
	ctrl.Request(OpAdd, "boost.tier2", NetTypePredicted, false)
	ctrl.CaptureForTick(12)
	ctrl.Request(OpAdd, "boost.tier1", NetTypePredicted, false)

	// The summary resolves only the tick-10 prediction and contradicts it;
	// the tick-12 add must be replayed on top of the corrected base.
	if !ctrl.ReconcileAgainstAuthoritative(11, NoModifierByte) {
		t.Fatalf("summary must be accepted")
	}
	if got := ctrl.EffectiveLevel(); got != "boost.tier1" {
		t.Fatalf("replayed prediction should leave tier1 showing, got %q", got)
	}
	if ctrl.OutstandingPredictions() != 1 {
		t.Fatalf("the newer prediction must stay outstanding, got %d", ctrl.OutstandingPredictions())
	}
}

func TestServerInitiatedUpdateOnPredictor(t *testing.T) {
	sink := &recordingSink{}
	ctrl, _ := newTestController(RolePredicting, sink)
	ctrl.CaptureForTick(20)

	if !ctrl.ReconcileAgainstAuthoritative(20, 3) {
		t.Fatalf("summary must be accepted")
	}
	if got := ctrl.EffectiveLevel(); got != "boost.tier3" {
		t.Fatalf("expected tier3, got %q", got)
	}
	if len(sink.ofKind("added")) != 1 {
		t.Fatalf("server-initiated appearance must fire Added, got %v", sink.events)
	}
}

func TestStaleSummaryDiscarded(t *testing.T) {
	sink := &recordingSink{}
	ctrl, _ := newTestController(RolePredicting, sink)
	ctrl.CaptureForTick(20)

	ctrl.ReconcileAgainstAuthoritative(20, 2)
	sink.reset()

	if ctrl.ReconcileAgainstAuthoritative(15, 1) {
		t.Fatalf("older summary must be discarded")
	}
	if len(sink.events) != 0 {
		t.Fatalf("discarded summary must not fire events, got %v", sink.events)
	}
	if got := ctrl.EffectiveLevel(); got != "boost.tier2" {
		t.Fatalf("state must keep the newer value, got %q", got)
	}
}

func TestObserverRejectsRequestsAndTracksSummaries(t *testing.T) {
	sink := &recordingSink{}
	ctrl, _ := newTestController(RoleObserver, sink)
	ctrl.CaptureForTick(10)

	result := ctrl.Request(OpAdd, "boost.tier1", NetTypePredicted, false)
	if result.Applied || result.Reason != RejectObserver {
		t.Fatalf("observer request must be rejected, got %+v", result)
	}

	ctrl.ReconcileAgainstAuthoritative(10, 2)
	if got := ctrl.EffectiveLevel(); got != "boost.tier2" {
		t.Fatalf("observer must present the decoded summary, got %q", got)
	}
	if len(sink.ofKind("added")) != 1 {
		t.Fatalf("observer must derive Added from its own diff, got %v", sink.events)
	}

	ctrl.ReconcileAgainstAuthoritative(12, NoModifierByte)
	if len(sink.ofKind("removed")) != 1 {
		t.Fatalf("observer must derive Removed, got %v", sink.events)
	}
}

func TestServerInitiatedRequiresGrantOnPredictor(t *testing.T) {
	ctrl, grants := newTestController(RolePredicting, nil)
	ctrl.CaptureForTick(10)

	result := ctrl.Request(OpAdd, "boost.tier1", NetTypeServerInitiated, false)
	if result.Applied || result.Reason != RejectRequiresAuthority {
		t.Fatalf("expected authority rejection, got %+v", result)
	}

	grants.Issue(Grant{Scope: CategoryBoost, Source: "console", ExpiryTick: 100})
	result = ctrl.Request(OpAdd, "boost.tier1", NetTypeServerInitiated, false)
	if !result.Applied {
		t.Fatalf("granted request must apply, got %+v", result)
	}

	ctrl.CaptureForTick(100)
	result = ctrl.Request(OpAdd, "boost.tier2", NetTypeServerInitiated, false)
	if result.Applied || result.Reason != RejectRequiresAuthority {
		t.Fatalf("expired grant must reject again, got %+v", result)
	}
}

func TestPredictorNoOpSkipsLedger(t *testing.T) {
	sink := &recordingSink{}
	ctrl, _ := newTestController(RolePredicting, sink)
	ctrl.CaptureForTick(10)

	// Removing a level that was never added mutates nothing, so there is
	// nothing for a future summary to confirm or correct.
	result := ctrl.Request(OpRemove, "boost.tier1", NetTypePredicted, false)
	if result.Applied || result.Reason != "" {
		t.Fatalf("no-op remove must report unapplied without a reason, got %+v", result)
	}
	if ctrl.OutstandingPredictions() != 0 {
		t.Fatalf("no-op remove must not enter the ledger, got %d records", ctrl.OutstandingPredictions())
	}
	if len(sink.events) != 0 {
		t.Fatalf("no-op remove must fire no events, got %v", sink.events)
	}

	if result := ctrl.Request(OpReset, "", NetTypePredicted, false); result.Applied {
		t.Fatalf("reset of an empty stack must be a no-op, got %+v", result)
	}
	if ctrl.OutstandingPredictions() != 0 {
		t.Fatalf("no-op reset must not enter the ledger")
	}
}

func TestRestrictedNetTypeRejected(t *testing.T) {
	category := Category{
		ID:              "snare",
		Levels:          []Level{"snare.tier1"},
		AllowedNetTypes: []NetType{NetTypePredictedCorrection, NetTypeServerInitiated},
	}
	ctrl := NewController(category, RoleAuthority, &GrantSet{}, nil, nil, logging.EntityRef{})
	ctrl.CaptureForTick(1)

	result := ctrl.Request(OpAdd, "snare.tier1", NetTypePredicted, false)
	if result.Applied || result.Reason != RejectNetType {
		t.Fatalf("disallowed net type must be rejected, got %+v", result)
	}
	result = ctrl.Request(OpAdd, "snare.tier1", NetTypePredictedCorrection, false)
	if !result.Applied {
		t.Fatalf("allowed net type must apply, got %+v", result)
	}
}

func TestExpiredPredictionsRollBack(t *testing.T) {
	sink := &recordingSink{}
	grants := &GrantSet{}
	category := testCategory(TieBreakHighest)
	category.ExpiryTicks = 5
	ctrl := NewController(category, RolePredicting, grants, sink, logging.NopPublisher(), logging.EntityRef{ID: "actor-1"})

	ctrl.CaptureForTick(10)
	ctrl.Request(OpAdd, "boost.tier1", NetTypePredicted, false)
	sink.reset()

	// No summary ever arrives; once the window closes the prediction is
	// dropped and the shadow state returns to the last authoritative level.
	ctrl.CaptureForTick(20)
	if ctrl.OutstandingPredictions() != 0 {
		t.Fatalf("expired prediction must leave the ledger")
	}
	if got := ctrl.EffectiveLevel(); got != NoModifier {
		t.Fatalf("expected sentinel after expiry rollback, got %q", got)
	}
	if len(sink.ofKind("removed")) != 1 {
		t.Fatalf("expiry rollback must fire Removed, got %v", sink.events)
	}
}

func TestPredictorConvergesWithAuthority(t *testing.T) {
	sink := &recordingSink{}
	authority, _ := newTestController(RoleAuthority, nil)
	predictor, _ := newTestController(RolePredicting, sink)

	type step struct {
		op        Op
		level     Level
		removeAll bool
	}
	steps := []step{
		{OpAdd, "boost.tier1", false},
		{OpAdd, "boost.tier3", false},
		{OpAdd, "boost.tier1", false},
		{OpRemove, "boost.tier3", false},
		{OpRemove, "boost.tier1", true},
		{OpAdd, "boost.tier2", false},
	}

	tick := uint64(1)
	for _, s := range steps {
		authority.CaptureForTick(tick)
		predictor.CaptureForTick(tick)
		authority.Request(s.op, s.level, NetTypePredicted, s.removeAll)
		predictor.Request(s.op, s.level, NetTypePredicted, s.removeAll)

		if update, ok := authority.FlushTick(tick); ok {
			if !predictor.ReconcileAgainstAuthoritative(update.Tick, update.Value) {
				t.Fatalf("tick %d: summary rejected", tick)
			}
		}
		if authority.EffectiveLevel() != predictor.EffectiveLevel() {
			t.Fatalf("tick %d: diverged, authority=%q predictor=%q",
				tick, authority.EffectiveLevel(), predictor.EffectiveLevel())
		}
		tick++
	}
	if predictor.OutstandingPredictions() != 0 {
		t.Fatalf("every prediction should be resolved, %d outstanding", predictor.OutstandingPredictions())
	}
}

func TestResetStateClearsEverything(t *testing.T) {
	ctrl, _ := newTestController(RolePredicting, nil)
	ctrl.CaptureForTick(10)
	ctrl.Request(OpAdd, "boost.tier2", NetTypePredicted, false)
	ctrl.ReconcileAgainstAuthoritative(10, 2)

	ctrl.ResetState()
	if ctrl.IsActive() {
		t.Fatalf("reset state must be inactive")
	}
	if ctrl.EncodedLevel() != NoModifierByte {
		t.Fatalf("reset state must encode to the sentinel byte")
	}
	if ctrl.OutstandingPredictions() != 0 {
		t.Fatalf("reset state must drop the ledger")
	}
}
