package proto

import (
	"encoding/json"
	"fmt"

	"driftline/server/internal/journal"
	"driftline/server/internal/modifier"
	"driftline/server/internal/sim"
)

const (
	// Version tracks the wire-protocol revision expected by clients.
	Version = 1

	// Type identifiers for websocket payloads.
	typeCommandAck    = "commandAck"
	typeCommandReject = "commandReject"
	typeCorrection    = "correction"
	typeHeartbeat     = "heartbeat"
	typeConsoleAck    = "console_ack"
	typeState         = "state"
	typeKeyframe      = "keyframe"
	typeKeyframeNack  = "keyframeNack"
	typeGrant         = "grant"
)

// Client message type identifiers.
const (
	TypeModifier        = "modifier"
	TypeHeartbeat       = "heartbeat"
	TypeConsole         = "console"
	TypeKeyframeReq     = "keyframeRequest"
	TypeAck             = "ack"
	TypeKeyframeCadence = "keyframeCadence"
)

// Exported aliases for outbound message type identifiers.
const (
	TypeState        = typeState
	TypeKeyframe     = typeKeyframe
	TypeKeyframeNack = typeKeyframeNack
	TypeCorrection   = typeCorrection
)

// ClientMessage captures an inbound websocket message from the client.
type ClientMessage struct {
	Ver         int     `json:"ver,omitempty"`
	Type        string  `json:"type"`
	Category    string  `json:"category,omitempty"`
	Op          string  `json:"op,omitempty"`
	Level       string  `json:"level,omitempty"`
	NetType     string  `json:"netType,omitempty"`
	RemoveAll   bool    `json:"removeAll,omitempty"`
	Predicted   byte    `json:"predicted,omitempty"`
	SentAt      int64   `json:"sentAt"`
	Cmd         string  `json:"cmd,omitempty"`
	KeyframeSeq *uint64 `json:"keyframeSeq,omitempty"`
	CommandSeq  *uint64 `json:"seq,omitempty"`
	Sequence    *uint64 `json:"sequence,omitempty"`
	Interval    int     `json:"interval,omitempty"`
}

// DecodeClientMessage converts raw websocket payloads into a structured
// message.
func DecodeClientMessage(payload []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, err
	}
	if msg.Ver == 0 {
		msg.Ver = Version
	}
	if msg.Ver != Version {
		return msg, fmt.Errorf("unsupported client protocol version %d", msg.Ver)
	}
	return msg, nil
}

// ClientCommand captures the structured simulation command carried by a
// websocket message. Origin metadata is populated by the hub when the
// command is accepted for processing. Grants never map from client frames;
// they are issued through the console and server-side paths only.
func ClientCommand(msg ClientMessage) (sim.Command, bool) {
	switch msg.Type {
	case TypeModifier:
		op, ok := modifier.ParseOp(msg.Op)
		if !ok {
			return sim.Command{}, false
		}
		netType, ok := modifier.ParseNetType(msg.NetType)
		if !ok {
			return sim.Command{}, false
		}
		if msg.Category == "" {
			return sim.Command{}, false
		}
		if op != modifier.OpReset && msg.Level == "" {
			return sim.Command{}, false
		}
		return sim.Command{
			Type: sim.CommandModifier,
			Modifier: &sim.ModifierCommand{
				Category:  modifier.CategoryID(msg.Category),
				Op:        op,
				Level:     modifier.Level(msg.Level),
				NetType:   netType,
				RemoveAll: msg.RemoveAll,
				Predicted: msg.Predicted,
			},
		}, true
	default:
		return sim.Command{}, false
	}
}

// CommandAck describes an acknowledgement of a processed command.
type CommandAck struct {
	Seq      uint64
	Tick     uint64
	Category string
	Value    byte
}

// EncodeCommandAck renders a command acknowledgement response.
func EncodeCommandAck(msg CommandAck) ([]byte, error) {
	frame := struct {
		Ver      int    `json:"ver"`
		Type     string `json:"type"`
		Seq      uint64 `json:"seq"`
		Tick     uint64 `json:"tick,omitempty"`
		Category string `json:"category,omitempty"`
		Value    byte   `json:"value"`
	}{
		Ver:      Version,
		Type:     typeCommandAck,
		Seq:      msg.Seq,
		Category: msg.Category,
		Value:    msg.Value,
	}
	if msg.Tick > 0 {
		frame.Tick = msg.Tick
	}
	return json.Marshal(frame)
}

// CommandReject notifies the client that a command was refused.
type CommandReject struct {
	Seq      uint64
	Reason   string
	Retry    bool
	Tick     uint64
	Category string
	Value    byte
}

// EncodeCommandReject renders a command rejection response.
func EncodeCommandReject(msg CommandReject) ([]byte, error) {
	frame := struct {
		Ver      int    `json:"ver"`
		Type     string `json:"type"`
		Seq      uint64 `json:"seq"`
		Reason   string `json:"reason"`
		Retry    bool   `json:"retry,omitempty"`
		Tick     uint64 `json:"tick,omitempty"`
		Category string `json:"category,omitempty"`
		Value    byte   `json:"value"`
	}{
		Ver:      Version,
		Type:     typeCommandReject,
		Seq:      msg.Seq,
		Reason:   msg.Reason,
		Category: msg.Category,
		Value:    msg.Value,
	}
	if msg.Retry {
		frame.Retry = true
	}
	if msg.Tick > 0 {
		frame.Tick = msg.Tick
	}
	return json.Marshal(frame)
}

// Correction is the immediate disagreement frame for the correction path.
// It outruns the regular summary cadence so a mispredicting client snaps
// back within one round trip.
type Correction struct {
	Seq       uint64
	Tick      uint64
	ActorID   string
	Category  string
	Value     byte
	Predicted byte
}

// EncodeCorrection renders a correction frame.
func EncodeCorrection(msg Correction) ([]byte, error) {
	frame := struct {
		Ver       int    `json:"ver"`
		Type      string `json:"type"`
		Seq       uint64 `json:"seq"`
		Tick      uint64 `json:"t"`
		ActorID   string `json:"actorId"`
		Category  string `json:"category"`
		Value     byte   `json:"value"`
		Predicted byte   `json:"predicted"`
	}{
		Ver:       Version,
		Type:      typeCorrection,
		Seq:       msg.Seq,
		Tick:      msg.Tick,
		ActorID:   msg.ActorID,
		Category:  msg.Category,
		Value:     msg.Value,
		Predicted: msg.Predicted,
	}
	return json.Marshal(frame)
}

// GrantUpdate replicates a freshly issued authority grant.
type GrantUpdate struct {
	Tick    uint64
	ActorID string
	Grant   modifier.Grant
}

// EncodeGrantUpdate renders a grant replication frame.
func EncodeGrantUpdate(msg GrantUpdate) ([]byte, error) {
	frame := struct {
		Ver        int    `json:"ver"`
		Type       string `json:"type"`
		Tick       uint64 `json:"t"`
		ActorID    string `json:"actorId"`
		Scope      string `json:"scope,omitempty"`
		Source     string `json:"source,omitempty"`
		ExpiryTick uint64 `json:"expiryTick"`
	}{
		Ver:        Version,
		Type:       typeGrant,
		Tick:       msg.Tick,
		ActorID:    msg.ActorID,
		Scope:      string(msg.Grant.Scope),
		Source:     msg.Grant.Source,
		ExpiryTick: msg.Grant.ExpiryTick,
	}
	return json.Marshal(frame)
}

// Heartbeat echoes timing metadata back to the client.
type Heartbeat struct {
	ServerTime int64
	ClientTime int64
	RTTMillis  int64
}

// EncodeHeartbeat renders a heartbeat acknowledgement payload.
func EncodeHeartbeat(msg Heartbeat) ([]byte, error) {
	frame := struct {
		Ver        int    `json:"ver"`
		Type       string `json:"type"`
		ServerTime int64  `json:"serverTime"`
		ClientTime int64  `json:"clientTime"`
		RTTMillis  int64  `json:"rtt"`
	}{
		Ver:        Version,
		Type:       typeHeartbeat,
		ServerTime: msg.ServerTime,
		ClientTime: msg.ClientTime,
		RTTMillis:  msg.RTTMillis,
	}
	return json.Marshal(frame)
}

// ConsoleAck captures the outcome of a console command.
type ConsoleAck struct {
	Cmd    string
	Status string
	Reason string
	Scope  string
	Expiry uint64
}

// NewConsoleAck constructs a baseline acknowledgement for the given command.
func NewConsoleAck(cmd string) ConsoleAck {
	return ConsoleAck{Cmd: cmd}
}

// EncodeConsoleAck renders a console command acknowledgement payload.
func EncodeConsoleAck(msg ConsoleAck) ([]byte, error) {
	frame := struct {
		Ver    int    `json:"ver"`
		Type   string `json:"type"`
		Cmd    string `json:"cmd"`
		Status string `json:"status"`
		Reason string `json:"reason,omitempty"`
		Scope  string `json:"scope,omitempty"`
		Expiry uint64 `json:"expiryTick,omitempty"`
	}{
		Ver:    Version,
		Type:   typeConsoleAck,
		Cmd:    msg.Cmd,
		Status: msg.Status,
		Reason: msg.Reason,
		Scope:  msg.Scope,
		Expiry: msg.Expiry,
	}
	return json.Marshal(frame)
}

// StateMessageV1 captures the version 1 websocket state payload layout.
type StateMessageV1 struct {
	Ver              int             `json:"ver"`
	Type             string          `json:"type"`
	Patches          []journal.Patch `json:"patches"`
	Tick             uint64          `json:"t"`
	Sequence         uint64          `json:"sequence"`
	KeyframeSeq      uint64          `json:"keyframeSeq"`
	ServerTime       int64           `json:"serverTime"`
	Resync           bool            `json:"resync,omitempty"`
	KeyframeInterval int             `json:"keyframeInterval,omitempty"`
}

// EncodeStateMessageV1 renders a versioned state payload.
func EncodeStateMessageV1(msg StateMessageV1) ([]byte, error) {
	if msg.Type == "" {
		msg.Type = TypeState
	}
	msg.Ver = Version
	return json.Marshal(msg)
}

// JoinResponseV1 captures the version 1 join response layout. Categories
// ship with the join so the client can mirror the server's ladders and
// tie-break rules without separate configuration.
type JoinResponseV1 struct {
	Ver              int                      `json:"ver"`
	ID               string                   `json:"id"`
	Tick             uint64                   `json:"t"`
	Actors           []journal.ActorModifiers `json:"actors,omitempty"`
	Categories       []modifier.Category      `json:"categories"`
	Resync           bool                     `json:"resync"`
	KeyframeInterval int                      `json:"keyframeInterval,omitempty"`
}

// EncodeJoinResponseV1 renders a versioned join response payload.
func EncodeJoinResponseV1(msg JoinResponseV1) ([]byte, error) {
	msg.Ver = Version
	return json.Marshal(msg)
}

// KeyframeMessageV1 captures the version 1 keyframe payload layout.
type KeyframeMessageV1 struct {
	Ver      int                      `json:"ver"`
	Type     string                   `json:"type"`
	Sequence uint64                   `json:"sequence"`
	Tick     uint64                   `json:"t"`
	Actors   []journal.ActorModifiers `json:"actors"`
}

// EncodeKeyframeMessageV1 renders a versioned keyframe payload.
func EncodeKeyframeMessageV1(msg KeyframeMessageV1) ([]byte, error) {
	if msg.Type == "" {
		msg.Type = TypeKeyframe
	}
	msg.Ver = Version
	return json.Marshal(msg)
}

// KeyframeNack reports that a requested keyframe fell out of retention.
type KeyframeNack struct {
	Sequence uint64
	Reason   string
	Oldest   uint64
	Newest   uint64
}

// EncodeKeyframeNack renders a keyframe nack payload.
func EncodeKeyframeNack(msg KeyframeNack) ([]byte, error) {
	frame := struct {
		Ver      int    `json:"ver"`
		Type     string `json:"type"`
		Sequence uint64 `json:"sequence"`
		Reason   string `json:"reason,omitempty"`
		Oldest   uint64 `json:"oldest,omitempty"`
		Newest   uint64 `json:"newest,omitempty"`
	}{
		Ver:      Version,
		Type:     typeKeyframeNack,
		Sequence: msg.Sequence,
		Reason:   msg.Reason,
		Oldest:   msg.Oldest,
		Newest:   msg.Newest,
	}
	return json.Marshal(frame)
}
