package hub

import (
	"sync"
	"sync/atomic"
	"time"
)

// Conn is the transport surface the hub writes to. *websocket.Conn satisfies
// it; tests substitute a recorder.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Subscriber wraps one actor's connection. Writes are serialized through the
// mutex because the broadcast goroutine and the session reader both send
// frames.
type Subscriber struct {
	actorID string
	conn    Conn

	writeMu        sync.Mutex
	lastCommandSeq atomic.Uint64
	lastAck        atomic.Uint64

	heartbeatMu   sync.Mutex
	lastHeartbeat time.Time
	lastRTT       time.Duration
}

func newSubscriber(actorID string, conn Conn) *Subscriber {
	return &Subscriber{actorID: actorID, conn: conn}
}

// ActorID reports the actor this subscriber belongs to.
func (s *Subscriber) ActorID() string {
	return s.actorID
}

// WriteMessage forwards to the connection under the write lock.
func (s *Subscriber) WriteMessage(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

// LastCommandSeq reports the highest acknowledged command sequence.
func (s *Subscriber) LastCommandSeq() uint64 {
	return s.lastCommandSeq.Load()
}

// StoreLastCommandSeq records the highest acknowledged command sequence.
func (s *Subscriber) StoreLastCommandSeq(seq uint64) {
	for {
		current := s.lastCommandSeq.Load()
		if seq <= current {
			return
		}
		if s.lastCommandSeq.CompareAndSwap(current, seq) {
			return
		}
	}
}

// RecordAck stores the newest state sequence the client confirmed.
func (s *Subscriber) RecordAck(sequence uint64) {
	for {
		current := s.lastAck.Load()
		if sequence <= current {
			return
		}
		if s.lastAck.CompareAndSwap(current, sequence) {
			return
		}
	}
}

// LastAck reports the newest state sequence the client confirmed.
func (s *Subscriber) LastAck() uint64 {
	return s.lastAck.Load()
}

func (s *Subscriber) recordHeartbeat(now time.Time, rtt time.Duration) {
	s.heartbeatMu.Lock()
	s.lastHeartbeat = now
	s.lastRTT = rtt
	s.heartbeatMu.Unlock()
}

// Heartbeat reports the most recent heartbeat time and round trip.
func (s *Subscriber) Heartbeat() (time.Time, time.Duration) {
	s.heartbeatMu.Lock()
	defer s.heartbeatMu.Unlock()
	return s.lastHeartbeat, s.lastRTT
}

func (s *Subscriber) close() {
	if s.conn != nil {
		s.conn.Close()
	}
}
