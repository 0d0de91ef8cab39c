package hub

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/creatorfi/pulse/internal/auth"
)

// SessionState tracks a connection through its lifecycle:
// Connecting → Authenticated → Disconnected. Subscriptions only exist in
// the Authenticated state.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateAuthenticated
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Session is one live client connection, owned by the Hub.
type Session struct {
	ID string

	hub  *Hub
	conn Conn

	state        atomic.Int32
	lastActivity atomic.Int64

	mu            sync.RWMutex
	identity      auth.Identity
	subscriptions map[string]struct{}

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(id string, hub *Hub, conn Conn, queueSize int) *Session {
	s := &Session{
		ID:            id,
		hub:           hub,
		conn:          conn,
		subscriptions: make(map[string]struct{}),
		send:          make(chan []byte, queueSize),
		done:          make(chan struct{}),
	}
	s.touch()
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Identity returns the verified identity; zero value before authentication.
func (s *Session) Identity() auth.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// LastActivity is the time of the last inbound message.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// subscribedTo reports topic membership.
func (s *Session) subscribedTo(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.subscriptions[topic]
	return ok
}

// canAccessEntity reports whether entity-scoped messages for entityID may
// be delivered to this session: admins always, creators for themselves,
// investors for the creators they back.
func (s *Session) canAccessEntity(entityID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.identity.Role {
	case auth.RoleAdmin:
		return true
	case auth.RoleCreator:
		return s.identity.UserID == entityID
	case auth.RoleInvestor:
		for _, e := range s.identity.Entities {
			if e == entityID {
				return true
			}
		}
	}
	return false
}

// enqueue hands a pre-encoded frame to the write pump without blocking.
// A full queue means the client cannot keep up; the caller removes it.
func (s *Session) enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	case s.send <- frame:
		return true
	default:
		return false
	}
}

func (s *Session) push(msgType string, data interface{}) bool {
	frame, err := marshalEnvelope(msgType, data)
	if err != nil {
		s.hub.logger.Error("failed to encode outbound message",
			zap.String("type", msgType), zap.Error(err))
		return true
	}
	return s.enqueue(frame)
}

// HandleMessage drives the session state machine for one inbound message.
// It is transport-independent and safe to call from tests directly.
func (s *Session) HandleMessage(raw []byte) {
	s.touch()

	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.push(MsgAuthError, map[string]string{"error": "malformed message"})
		return
	}

	switch msg.Type {
	case MsgAuthenticate:
		s.handleAuthenticate(msg.Credential)
	case MsgSubscribe:
		s.handleSubscribe(msg.Topic)
	case MsgUnsubscribe:
		s.handleUnsubscribe(msg.Topic)
	default:
		if s.State() != StateAuthenticated {
			s.push(MsgAuthError, map[string]string{"error": "authentication required"})
			return
		}
		s.hub.logger.Debug("ignoring unknown client message",
			zap.String("session", s.ID), zap.String("type", msg.Type))
	}
}

func (s *Session) handleAuthenticate(credential string) {
	identity, err := s.hub.verifier.Verify(credential)
	if err != nil {
		// Denied further actions but not torn down; the client may retry.
		s.hub.logger.Warn("authentication failed", zap.String("session", s.ID), zap.Error(err))
		s.push(MsgAuthError, map[string]string{"error": "invalid credential"})
		return
	}

	s.mu.Lock()
	s.identity = identity
	s.mu.Unlock()
	s.state.Store(int32(StateAuthenticated))
	s.hub.onAuthenticated(s)

	s.push(MsgAuthOK, map[string]string{
		"userId": identity.UserID,
		"role":   string(identity.Role),
	})
	// One-time state snapshot immediately after authentication.
	s.push(MsgInitialSnapshot, s.hub.snapshots.SnapshotAll())
}

func (s *Session) handleSubscribe(topic string) {
	if s.State() != StateAuthenticated {
		s.push(MsgAuthError, map[string]string{"error": "authentication required"})
		return
	}
	if topic == "" {
		return
	}
	s.mu.Lock()
	s.subscriptions[topic] = struct{}{}
	s.mu.Unlock()
	s.hub.subscribe(topic, s)
}

func (s *Session) handleUnsubscribe(topic string) {
	if s.State() != StateAuthenticated {
		s.push(MsgAuthError, map[string]string{"error": "authentication required"})
		return
	}
	s.mu.Lock()
	delete(s.subscriptions, topic)
	s.mu.Unlock()
	s.hub.unsubscribe(topic, s)
}

// close transitions to Disconnected and releases the connection exactly once.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateDisconnected))
		close(s.done)
		s.conn.Close()
	})
}

// readPump reads inbound messages until the connection drops, then asks
// the hub to remove the session everywhere.
func (s *Session) readPump() {
	defer s.hub.Disconnect(s.ID)
	for {
		data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.HandleMessage(data)
	}
}

// writePump drains the send queue and emits heartbeats.
func (s *Session) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.send:
			if err := s.conn.WriteMessage(frame); err != nil {
				s.hub.Disconnect(s.ID)
				return
			}
		case <-ticker.C:
			if err := s.conn.Ping(); err != nil {
				s.hub.Disconnect(s.ID)
				return
			}
		}
	}
}
