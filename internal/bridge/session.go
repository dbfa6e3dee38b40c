package bridge

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/smartstocktrader/ultrabot/internal/observ"
)

const pingInterval = 30 * time.Second

// session is one connected Expert Advisor client. All writes to the socket
// go through the send queue and writePump; the read loop in server.go is the
// only reader.
type session struct {
	id           string
	conn         *websocket.Conn
	send         chan Outbound
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	lastBeat     atomic.Int64 // unix nanos of the last heartbeat frame
}

func newSession(conn *websocket.Conn, queueSize int, writeTimeout time.Duration) *session {
	s := &session{
		id:           uuid.New().String(),
		conn:         conn,
		send:         make(chan Outbound, queueSize),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
	s.lastBeat.Store(time.Now().UnixNano())
	return s
}

// markHeartbeat records a heartbeat frame from the client.
func (s *session) markHeartbeat() {
	s.lastBeat.Store(time.Now().UnixNano())
}

// sinceHeartbeat reports how long the client has gone without a heartbeat.
func (s *session) sinceHeartbeat() time.Duration {
	return time.Since(time.Unix(0, s.lastBeat.Load()))
}

// queue enqueues a frame without blocking. A full queue means the client is
// not draining; the frame is dropped and the caller decides whether to close.
func (s *session) queue(msg Outbound) bool {
	select {
	case <-s.done:
		return false
	case s.send <- msg:
		return true
	default:
		return false
	}
}

// writePump owns the connection's write side: queued frames and keepalive
// pings. It exits when the session closes or a write fails.
func (s *session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteJSON(msg); err != nil {
				observ.Warn("bridge_write_failed", map[string]any{
					"session": s.id, "type": msg.Type, "error": err.Error(),
				})
				s.close()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		}
	}
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}
