package ws

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"driftline/server/internal/hub"
	"driftline/server/internal/net/proto"
	"driftline/server/internal/sim"
	"driftline/server/logging"
)

const (
	// RejectBadPayload is sent when a frame does not decode.
	RejectBadPayload = "bad_payload"
	// RejectBadCommand is sent when a decoded frame does not map to a
	// simulation command.
	RejectBadCommand = "bad_command"

	metricMessagesTotal   = "ws_messages_total"
	metricBadPayloadTotal = "ws_bad_payload_total"
	metricDuplicatesTotal = "ws_duplicate_commands_total"
)

// Handler upgrades websocket connections and pumps client messages into the
// hub. The broadcast direction is owned by the hub; the handler only writes
// direct responses (intake acks, rejects, heartbeat echoes, keyframes).
type Handler struct {
	hub      *hub.Hub
	logger   *log.Logger
	metrics  *logging.Metrics
	upgrader websocket.Upgrader
}

// NewHandler builds a websocket handler on top of the hub.
func NewHandler(h *hub.Hub, logger *log.Logger, metrics *logging.Metrics) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		hub:     h,
		logger:  logger,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and serves it until the client goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	actorID := r.URL.Query().Get("id")
	if actorID == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("websocket upgrade failed: %v", err)
		return
	}
	sub, ok := h.hub.Subscribe(actorID, conn)
	if !ok {
		h.logger.Printf("rejecting subscription for unknown actor %s", actorID)
		conn.Close()
		return
	}
	h.serve(sub, conn)
}

func (h *Handler) serve(sub *hub.Subscriber, conn *websocket.Conn) {
	defer h.hub.Disconnect(sub.ActorID())
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Printf("read error for %s: %v", sub.ActorID(), err)
			}
			return
		}
		h.handleMessage(sub, payload)
	}
}

func (h *Handler) handleMessage(sub *hub.Subscriber, payload []byte) {
	if h.metrics != nil {
		h.metrics.Add(metricMessagesTotal, 1)
	}
	msg, err := proto.DecodeClientMessage(payload)
	if err != nil {
		if h.metrics != nil {
			h.metrics.Add(metricBadPayloadTotal, 1)
		}
		h.sendReject(sub, 0, RejectBadPayload)
		return
	}

	switch msg.Type {
	case proto.TypeModifier:
		h.handleCommand(sub, msg)
	case proto.TypeHeartbeat:
		h.handleHeartbeat(sub, msg)
	case proto.TypeConsole:
		if ack, handled := h.hub.HandleConsoleCommand(sub.ActorID(), msg.Cmd); handled {
			h.send(sub, func() ([]byte, error) { return proto.EncodeConsoleAck(ack) })
		}
	case proto.TypeKeyframeReq:
		h.handleKeyframeRequest(sub, msg)
	case proto.TypeAck:
		if msg.Sequence != nil {
			h.hub.RecordAck(sub.ActorID(), *msg.Sequence)
		}
	case proto.TypeKeyframeCadence:
		h.hub.SetKeyframeInterval(msg.Interval)
	default:
		h.sendReject(sub, commandSeq(msg), RejectBadCommand)
	}
}

// handleCommand stages a modifier command. Sequence numbers dedupe
// retransmits: a seq at or below the high-water mark gets a bare ack and no
// second application.
func (h *Handler) handleCommand(sub *hub.Subscriber, msg proto.ClientMessage) {
	seq := commandSeq(msg)
	if seq > 0 && seq <= sub.LastCommandSeq() {
		if h.metrics != nil {
			h.metrics.Add(metricDuplicatesTotal, 1)
		}
		h.send(sub, func() ([]byte, error) {
			return proto.EncodeCommandAck(proto.CommandAck{Seq: seq, Category: msg.Category})
		})
		return
	}

	cmd, ok := proto.ClientCommand(msg)
	if !ok {
		h.sendReject(sub, seq, RejectBadCommand)
		return
	}
	if _, ok, reason := h.hub.EnqueueCommand(sub.ActorID(), seq, cmd); !ok {
		h.send(sub, func() ([]byte, error) {
			return proto.EncodeCommandReject(proto.CommandReject{
				Seq:    seq,
				Reason: reason,
				Retry:  reason == sim.CommandRejectQueueLimit || reason == sim.CommandRejectQueueFull,
			})
		})
		return
	}
	sub.StoreLastCommandSeq(seq)
	h.send(sub, func() ([]byte, error) {
		return proto.EncodeCommandAck(proto.CommandAck{Seq: seq, Category: msg.Category})
	})
}

func (h *Handler) handleHeartbeat(sub *hub.Subscriber, msg proto.ClientMessage) {
	now := time.Now()
	rtt, ok := h.hub.UpdateHeartbeat(sub.ActorID(), now, msg.SentAt)
	if !ok {
		return
	}
	h.send(sub, func() ([]byte, error) {
		return proto.EncodeHeartbeat(proto.Heartbeat{
			ServerTime: now.UnixMilli(),
			ClientTime: msg.SentAt,
			RTTMillis:  rtt.Milliseconds(),
		})
	})
}

func (h *Handler) handleKeyframeRequest(sub *hub.Subscriber, msg proto.ClientMessage) {
	if msg.KeyframeSeq == nil {
		h.sendReject(sub, 0, RejectBadCommand)
		return
	}
	frame, nack, _ := h.hub.HandleKeyframeRequest(*msg.KeyframeSeq)
	if nack != nil {
		h.send(sub, func() ([]byte, error) { return proto.EncodeKeyframeNack(*nack) })
		return
	}
	h.send(sub, func() ([]byte, error) { return proto.EncodeKeyframeMessageV1(frame) })
}

func (h *Handler) sendReject(sub *hub.Subscriber, seq uint64, reason string) {
	h.send(sub, func() ([]byte, error) {
		return proto.EncodeCommandReject(proto.CommandReject{Seq: seq, Reason: reason})
	})
}

func (h *Handler) send(sub *hub.Subscriber, encode func() ([]byte, error)) {
	data, err := encode()
	if err != nil {
		h.logger.Printf("failed to encode frame for %s: %v", sub.ActorID(), err)
		return
	}
	if err := sub.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Printf("write failed for %s: %v", sub.ActorID(), err)
	}
}

func commandSeq(msg proto.ClientMessage) uint64 {
	if msg.CommandSeq == nil {
		return 0
	}
	return *msg.CommandSeq
}
