package journal

import (
	"fmt"
)

// ResyncReason records one stale-summary observation that contributed to a
// pending hint.
type ResyncReason struct {
	Kind     string
	ActorID  string
	Category string
}

// ResyncSignal is the consumable outcome of the policy: how many summaries
// went stale out of how many were broadcast, plus a bounded sample of
// reasons.
type ResyncSignal struct {
	StaleSummaries uint64
	TotalSummaries uint64
	Reasons        []ResyncReason
}

// Policy decides when the rate of discarded summaries justifies pushing a
// full keyframe at the affected clients instead of more patches.
type Policy struct {
	totalSummaries uint64
	staleSummaries uint64
	pending        bool
	reasons        []ResyncReason
}

const staleThresholdPerTenThousand = 1
const resyncReasonLimit = 8

func NewPolicy() *Policy {
	return &Policy{reasons: make([]ResyncReason, 0, resyncReasonLimit)}
}

func (p *Policy) NoteSummary() {
	if p == nil {
		return
	}
	if p.totalSummaries == ^uint64(0) {
		p.totalSummaries = p.totalSummaries / 2
		p.staleSummaries = p.staleSummaries / 2
	}
	p.totalSummaries++
}

func (p *Policy) NoteStale(kind, actorID, category string) {
	if p == nil {
		return
	}
	p.staleSummaries++
	if len(p.reasons) < resyncReasonLimit {
		p.reasons = append(p.reasons, ResyncReason{Kind: kind, ActorID: actorID, Category: category})
	}
	p.evaluate()
}

func (p *Policy) evaluate() {
	if p == nil || p.pending || p.staleSummaries == 0 {
		return
	}
	total := p.totalSummaries
	if total == 0 {
		total = 1
	}
	if p.staleSummaries*10000 >= total*staleThresholdPerTenThousand {
		p.pending = true
	}
}

func (p *Policy) Consume() (ResyncSignal, bool) {
	if p == nil || !p.pending {
		return ResyncSignal{}, false
	}
	signal := ResyncSignal{
		StaleSummaries: p.staleSummaries,
		TotalSummaries: p.totalSummaries,
		Reasons:        append([]ResyncReason(nil), p.reasons...),
	}
	p.pending = false
	p.totalSummaries = 0
	p.staleSummaries = 0
	if len(p.reasons) > 0 {
		p.reasons = p.reasons[:0]
	}
	return signal, true
}

func (s ResyncSignal) Summary() string {
	if s.StaleSummaries == 0 && s.TotalSummaries == 0 {
		return ""
	}
	return fmt.Sprintf("stale_summaries=%d total_summaries=%d reasons=%v", s.StaleSummaries, s.TotalSummaries, s.Reasons)
}
