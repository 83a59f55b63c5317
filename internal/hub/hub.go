package hub

import (
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"driftline/server/internal/journal"
	"driftline/server/internal/modifier"
	"driftline/server/internal/net/proto"
	"driftline/server/internal/sim"
	"driftline/server/logging"
)

const (
	// DefaultKeyframeInterval is the cadence, in ticks, of unsolicited
	// keyframes interleaved with the patch stream.
	DefaultKeyframeInterval = 60
	// MinKeyframeInterval floors client cadence requests.
	MinKeyframeInterval = 15

	metricBroadcastBytes   = "hub_broadcast_bytes_total"
	metricBroadcastFrames  = "hub_broadcast_frames_total"
	metricCommandsAcked    = "hub_commands_acked_total"
	metricSubscriberDrops  = "hub_subscriber_drops_total"
	metricKeyframesEmitted = "hub_keyframes_total"
)

// Config tunes the hub and the loop it drives.
type Config struct {
	TickRate         int
	CatchupMaxTicks  int
	CommandCapacity  int
	PerActorLimit    int
	QueueWarningStep int
	KeyframeInterval int
}

// Hub owns the subscriber set and pumps loop results onto the wire. One
// state frame goes to everyone; acks, rejections, corrections and grants go
// only to the actor they belong to.
type Hub struct {
	config  Config
	world   *sim.World
	loop    *sim.Loop
	logger  *log.Logger
	metrics *logging.Metrics
	pub     logging.Publisher

	mu               sync.Mutex
	subscribers      map[string]*Subscriber
	stateSeq         uint64
	keyframeSeq      uint64
	keyframeInterval int
	sinceKeyframe    int
	forceKeyframe    bool
}

// New wires a hub around the world and its loop.
func New(world *sim.World, cfg Config) *Hub {
	deps := world.Deps()
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	interval := cfg.KeyframeInterval
	if interval <= 0 {
		interval = DefaultKeyframeInterval
	}
	h := &Hub{
		config:           cfg,
		world:            world,
		logger:           logger,
		metrics:          deps.Metrics,
		pub:              deps.Publisher,
		subscribers:      make(map[string]*Subscriber),
		keyframeInterval: interval,
	}
	h.loop = sim.NewLoop(world, sim.LoopConfig{
		TickRate:        cfg.TickRate,
		CatchupMaxTicks: cfg.CatchupMaxTicks,
		CommandCapacity: cfg.CommandCapacity,
		PerActorLimit:   cfg.PerActorLimit,
		WarningStep:     cfg.QueueWarningStep,
	}, sim.LoopHooks{
		NextTick:  func() uint64 { return world.CurrentTick() + 1 },
		AfterStep: h.afterStep,
		OnQueueWarning: func(length int) {
			logger.Printf("[queue] staged commands reached %d", length)
		},
		OnCommandDrop: func(reason string, cmd sim.Command) {
			logger.Printf("[queue] dropped command actor=%s type=%s reason=%s", cmd.ActorID, cmd.Type, reason)
		},
	})
	return h
}

// Categories lists the configured modifier categories.
func (h *Hub) Categories() []modifier.Category {
	return h.world.Categories()
}

// Loop exposes the command loop for direct staging in tests.
func (h *Hub) Loop() *sim.Loop {
	return h.loop
}

// Run drives the loop until the stop channel closes.
func (h *Hub) Run(stop <-chan struct{}) {
	h.loop.Run(stop)
}

// Join registers a new actor and returns its join payload.
func (h *Hub) Join() (proto.JoinResponseV1, error) {
	actorID := uuid.NewString()
	if err := h.world.AddActor(actorID); err != nil {
		return proto.JoinResponseV1{}, err
	}
	snapshot := h.world.Snapshot()
	return proto.JoinResponseV1{
		ID:               actorID,
		Tick:             snapshot.Tick,
		Actors:           snapshot.Actors,
		Categories:       h.world.Categories(),
		KeyframeInterval: h.KeyframeInterval(),
	}, nil
}

// Subscribe attaches a connection to a previously joined actor.
func (h *Hub) Subscribe(actorID string, conn Conn) (*Subscriber, bool) {
	if _, ok := h.world.Registry(actorID); !ok {
		return nil, false
	}
	sub := newSubscriber(actorID, conn)
	h.mu.Lock()
	if previous, ok := h.subscribers[actorID]; ok {
		previous.close()
	}
	h.subscribers[actorID] = sub
	h.mu.Unlock()
	return sub, true
}

// Disconnect removes the actor's subscription and simulation state.
func (h *Hub) Disconnect(actorID string) bool {
	h.mu.Lock()
	sub, ok := h.subscribers[actorID]
	if ok {
		delete(h.subscribers, actorID)
	}
	h.mu.Unlock()
	if sub != nil {
		sub.close()
	}
	removed := h.world.RemoveActor(actorID)
	if removed {
		h.ForceKeyframe()
	}
	return ok || removed
}

// EnqueueCommand stamps origin metadata and stages the command.
func (h *Hub) EnqueueCommand(actorID string, seq uint64, cmd sim.Command) (sim.Command, bool, string) {
	if _, ok := h.world.Registry(actorID); !ok {
		return sim.Command{}, false, sim.CommandRejectUnknownActor
	}
	cmd.ActorID = actorID
	cmd.Seq = seq
	cmd.OriginTick = h.world.CurrentTick() + 1
	cmd.IssuedAt = time.Now()
	ok, reason := h.loop.Enqueue(cmd)
	if !ok {
		return sim.Command{}, false, reason
	}
	return cmd, true, ""
}

// UpdateHeartbeat records connection liveness and stages the heartbeat for
// the engine's RTT gauge.
func (h *Hub) UpdateHeartbeat(actorID string, now time.Time, clientSent int64) (time.Duration, bool) {
	h.mu.Lock()
	sub, ok := h.subscribers[actorID]
	h.mu.Unlock()
	if !ok {
		return 0, false
	}
	rtt := time.Duration(0)
	if clientSent > 0 {
		rtt = now.Sub(time.UnixMilli(clientSent))
		if rtt < 0 {
			rtt = 0
		}
	}
	sub.recordHeartbeat(now, rtt)
	h.EnqueueCommand(actorID, 0, sim.Command{
		Type: sim.CommandHeartbeat,
		Heartbeat: &sim.HeartbeatCommand{
			ReceivedAt: now,
			ClientSent: clientSent,
			RTT:        rtt,
		},
	})
	return rtt, true
}

// HandleConsoleCommand services debug console input. The only verb today is
// "grant [scope] [durationTicks]"; an empty scope covers every category.
func (h *Hub) HandleConsoleCommand(actorID string, line string) (proto.ConsoleAck, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return proto.ConsoleAck{}, false
	}
	ack := proto.NewConsoleAck(fields[0])
	if fields[0] != "grant" {
		ack.Status = "error"
		ack.Reason = "unknown_command"
		return ack, true
	}

	scope := modifier.GrantScopeAll
	if len(fields) > 1 {
		scope = modifier.CategoryID(fields[1])
	}
	duration := uint64(0)
	if len(fields) > 2 {
		parsed, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			ack.Status = "error"
			ack.Reason = "bad_duration"
			return ack, true
		}
		duration = parsed
	}

	_, ok, reason := h.EnqueueCommand(actorID, 0, sim.Command{
		Type: sim.CommandGrant,
		Grant: &sim.GrantCommand{
			Scope:         scope,
			Source:        "console",
			DurationTicks: duration,
		},
	})
	if !ok {
		ack.Status = "error"
		ack.Reason = reason
		return ack, true
	}
	ack.Status = "ok"
	ack.Scope = string(scope)
	return ack, true
}

// HandleKeyframeRequest resolves a nacked sequence against the retention
// window.
func (h *Hub) HandleKeyframeRequest(sequence uint64) (proto.KeyframeMessageV1, *proto.KeyframeNack, bool) {
	frame, ok := h.loop.KeyframeBySequence(sequence)
	if ok {
		return proto.KeyframeMessageV1{
			Sequence: frame.Sequence,
			Tick:     frame.Tick,
			Actors:   frame.Actors,
		}, nil, true
	}
	size, oldest, newest := h.loop.KeyframeWindow()
	nack := &proto.KeyframeNack{Sequence: sequence, Reason: "evicted"}
	if size > 0 {
		nack.Oldest = oldest
		nack.Newest = newest
	}
	return proto.KeyframeMessageV1{}, nack, true
}

// RecordAck notes the newest state sequence an actor confirmed.
func (h *Hub) RecordAck(actorID string, sequence uint64) {
	h.mu.Lock()
	sub, ok := h.subscribers[actorID]
	h.mu.Unlock()
	if ok {
		sub.RecordAck(sequence)
	}
}

// SetKeyframeInterval applies a client cadence request, clamped to the
// floor. Zero resets to the default.
func (h *Hub) SetKeyframeInterval(requested int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case requested <= 0:
		h.keyframeInterval = DefaultKeyframeInterval
	case requested < MinKeyframeInterval:
		h.keyframeInterval = MinKeyframeInterval
	default:
		h.keyframeInterval = requested
	}
	return h.keyframeInterval
}

// KeyframeInterval reports the current keyframe cadence in ticks.
func (h *Hub) KeyframeInterval() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.keyframeInterval
}

// ForceKeyframe schedules a keyframe on the next broadcast regardless of
// cadence.
func (h *Hub) ForceKeyframe() {
	h.mu.Lock()
	h.forceKeyframe = true
	h.mu.Unlock()
}

// BroadcastStep publishes one completed tick. Exposed so tests can drive the
// pipeline without the timer loop.
func (h *Hub) BroadcastStep(result sim.LoopStepResult) {
	h.afterStep(result)
}

func (h *Hub) afterStep(result sim.LoopStepResult) {
	patches := h.loop.DrainPatches()
	resync := false
	if signal, ok := h.loop.ConsumeResyncHint(); ok {
		resync = true
		h.logger.Printf("[resync] scheduling keyframe: %s", signal.Summary())
	}

	h.mu.Lock()
	h.stateSeq++
	sequence := h.stateSeq
	h.sinceKeyframe++
	emitKeyframe := h.forceKeyframe || resync || h.sinceKeyframe >= h.keyframeInterval
	if emitKeyframe {
		h.forceKeyframe = false
		h.sinceKeyframe = 0
	}
	h.mu.Unlock()

	var keyframe *journal.Keyframe
	if emitKeyframe {
		frame := h.world.BuildKeyframe()
		h.loop.RecordKeyframe(frame)
		keyframe = &frame
		h.mu.Lock()
		h.keyframeSeq = frame.Sequence
		h.mu.Unlock()
		if h.metrics != nil {
			h.metrics.Add(metricKeyframesEmitted, 1)
		}
	}

	h.mu.Lock()
	keyframeSeq := h.keyframeSeq
	interval := h.keyframeInterval
	h.mu.Unlock()

	state := proto.StateMessageV1{
		Patches:          patches,
		Tick:             result.Tick,
		Sequence:         sequence,
		KeyframeSeq:      keyframeSeq,
		ServerTime:       result.Now.UnixMilli(),
		Resync:           resync,
		KeyframeInterval: interval,
	}
	if state.Patches == nil {
		state.Patches = []journal.Patch{}
	}
	data, err := proto.EncodeStateMessageV1(state)
	if err != nil {
		h.logger.Printf("failed to encode state frame: %v", err)
		h.loop.RestorePatches(patches)
		return
	}

	h.broadcastAll(data)
	if keyframe != nil {
		h.broadcastKeyframe(*keyframe)
	}
	h.sendTargetedFrames(result)

	if h.metrics != nil && len(result.Acks) > 0 {
		h.metrics.Add(metricCommandsAcked, uint64(len(result.Acks)))
	}
}

func (h *Hub) broadcastAll(data []byte) {
	for _, sub := range h.snapshotSubscribers() {
		h.writeOrDrop(sub, data)
	}
	if h.metrics != nil {
		h.metrics.Add(metricBroadcastFrames, 1)
		h.metrics.Add(metricBroadcastBytes, uint64(len(data)))
	}
}

func (h *Hub) broadcastKeyframe(frame journal.Keyframe) {
	data, err := proto.EncodeKeyframeMessageV1(proto.KeyframeMessageV1{
		Sequence: frame.Sequence,
		Tick:     frame.Tick,
		Actors:   frame.Actors,
	})
	if err != nil {
		h.logger.Printf("failed to encode keyframe %d: %v", frame.Sequence, err)
		return
	}
	for _, sub := range h.snapshotSubscribers() {
		h.writeOrDrop(sub, data)
	}
}

func (h *Hub) sendTargetedFrames(result sim.LoopStepResult) {
	for _, rejection := range result.Rejections {
		payload, err := proto.EncodeCommandReject(proto.CommandReject{
			Seq:      rejection.Seq,
			Reason:   rejection.Reason,
			Retry:    rejection.Reason == sim.CommandRejectQueueLimit,
			Tick:     rejection.Tick,
			Category: string(rejection.Category),
			Value:    rejection.Value,
		})
		if err != nil {
			continue
		}
		h.sendTo(rejection.ActorID, payload)
	}
	for _, correction := range result.Corrections {
		payload, err := proto.EncodeCorrection(proto.Correction{
			Seq:       correction.Seq,
			Tick:      correction.Tick,
			ActorID:   correction.ActorID,
			Category:  string(correction.Category),
			Value:     correction.Value,
			Predicted: correction.Predicted,
		})
		if err != nil {
			continue
		}
		h.sendTo(correction.ActorID, payload)
	}
	for _, grant := range result.Grants {
		payload, err := proto.EncodeGrantUpdate(proto.GrantUpdate{
			Tick:    grant.Tick,
			ActorID: grant.ActorID,
			Grant:   grant.Grant,
		})
		if err != nil {
			continue
		}
		h.sendTo(grant.ActorID, payload)
	}
}

func (h *Hub) sendTo(actorID string, data []byte) {
	h.mu.Lock()
	sub, ok := h.subscribers[actorID]
	h.mu.Unlock()
	if ok {
		h.writeOrDrop(sub, data)
	}
}

func (h *Hub) snapshotSubscribers() []*Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := make([]*Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	return subs
}

func (h *Hub) writeOrDrop(sub *Subscriber, data []byte) {
	if err := sub.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Printf("dropping subscriber %s: %v", sub.ActorID(), err)
		if h.metrics != nil {
			h.metrics.Add(metricSubscriberDrops, 1)
		}
		h.Disconnect(sub.ActorID())
	}
}

// TelemetrySnapshot copies the hub's counter map for diagnostics.
func (h *Hub) TelemetrySnapshot() map[string]uint64 {
	return h.metrics.Snapshot()
}
