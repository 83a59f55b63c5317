package sim

import (
	"time"

	"driftline/server/internal/modifier"
)

// CommandType enumerates the supported simulation commands.
type CommandType string

const (
	CommandModifier  CommandType = "Modifier"
	CommandGrant     CommandType = "Grant"
	CommandHeartbeat CommandType = "Heartbeat"
)

// ModifierCommand carries one stack mutation request. Predicted holds the
// wire byte the client expects to be showing after its optimistic apply; the
// engine compares it on the correction path.
type ModifierCommand struct {
	Category  modifier.CategoryID `json:"category"`
	Op        modifier.Op         `json:"op"`
	Level     modifier.Level      `json:"level,omitempty"`
	NetType   modifier.NetType    `json:"netType"`
	RemoveAll bool                `json:"removeAll,omitempty"`
	Predicted byte                `json:"predicted"`
}

// GrantCommand asks the engine to issue an authority grant for the actor.
type GrantCommand struct {
	Scope         modifier.CategoryID `json:"scope,omitempty"`
	Source        string              `json:"source,omitempty"`
	DurationTicks uint64              `json:"durationTicks,omitempty"`
}

// HeartbeatCommand updates connectivity metadata for an actor.
type HeartbeatCommand struct {
	ReceivedAt time.Time     `json:"receivedAt"`
	ClientSent int64         `json:"clientSent"`
	RTT        time.Duration `json:"rtt"`
}

// Command represents an intent captured for processing on the next tick.
type Command struct {
	OriginTick uint64            `json:"originTick"`
	ActorID    string            `json:"actorId"`
	Seq        uint64            `json:"seq"`
	Type       CommandType       `json:"type"`
	IssuedAt   time.Time         `json:"issuedAt"`
	Modifier   *ModifierCommand  `json:"modifier,omitempty"`
	Grant      *GrantCommand     `json:"grant,omitempty"`
	Heartbeat  *HeartbeatCommand `json:"heartbeat,omitempty"`
}
