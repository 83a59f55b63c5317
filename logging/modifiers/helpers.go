package modifiers

import (
	"context"

	"driftline/server/logging"
)

const (
	// EventAdded is emitted when a category transitions out of the sentinel.
	EventAdded logging.EventType = "modifiers.added"
	// EventRemoved is emitted when a category falls back to the sentinel.
	EventRemoved logging.EventType = "modifiers.removed"
	// EventChanged is emitted on every effective-level transition.
	EventChanged logging.EventType = "modifiers.changed"
	// EventCorrected is emitted when a predicted level disagreed with the
	// authoritative one and the shadow stack was rolled back.
	EventCorrected logging.EventType = "modifiers.corrected"
	// EventExpired is emitted when a prediction record timed out unacked.
	EventExpired logging.EventType = "modifiers.expired"
	// EventGranted is emitted when a client authority grant is issued.
	EventGranted logging.EventType = "modifiers.granted"
)

// TransitionPayload captures an effective-level change for one category.
type TransitionPayload struct {
	Category  string `json:"category"`
	Level     string `json:"level,omitempty"`
	PrevLevel string `json:"prevLevel,omitempty"`
}

// CorrectionPayload captures a prediction rollback.
type CorrectionPayload struct {
	Category       string `json:"category"`
	Predicted      string `json:"predicted,omitempty"`
	Authoritative  string `json:"authoritative,omitempty"`
	ReplayedOps    int    `json:"replayedOps"`
	IssuedTick     uint64 `json:"issuedTick"`
	ResolvedAtTick uint64 `json:"resolvedAtTick"`
}

// GrantPayload captures an issued authority grant.
type GrantPayload struct {
	Scope      string `json:"scope,omitempty"`
	Source     string `json:"source"`
	ExpiryTick uint64 `json:"expiryTick"`
}

// Transition publishes an added/removed/changed event for a category.
func Transition(ctx context.Context, pub logging.Publisher, typ logging.EventType, tick uint64, actor logging.EntityRef, payload TransitionPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     typ,
		Tick:     tick,
		Actor:    actor,
		Targets:  []logging.EntityRef{{ID: payload.Category, Kind: logging.EntityKindCategory}},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryModifiers,
		Payload:  payload,
	})
}

// Corrected publishes a rollback event.
func Corrected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload CorrectionPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventCorrected,
		Tick:     tick,
		Actor:    actor,
		Targets:  []logging.EntityRef{{ID: payload.Category, Kind: logging.EntityKindCategory}},
		Severity: logging.SeverityInfo,
		Category: logging.CategoryModifiers,
		Payload:  payload,
	})
}

// Expired publishes a ledger timeout event.
func Expired(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload CorrectionPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventExpired,
		Tick:     tick,
		Actor:    actor,
		Targets:  []logging.EntityRef{{ID: payload.Category, Kind: logging.EntityKindCategory}},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryModifiers,
		Payload:  payload,
	})
}

// Granted publishes an authority-grant event.
func Granted(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload GrantPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventGranted,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryModifiers,
		Payload:  payload,
	})
}
