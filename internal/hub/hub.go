// Package hub tracks connected live clients, their roles and topic
// subscriptions, and fans pipeline output out to the right subset.
package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/creatorfi/pulse/internal/auth"
	"github.com/creatorfi/pulse/internal/config"
	"github.com/creatorfi/pulse/internal/dashboard"
	"github.com/creatorfi/pulse/pkg/metrics"
)

// SnapshotSource supplies the one-time state snapshot pushed after
// authentication.
type SnapshotSource interface {
	SnapshotAll() map[string]dashboard.Summary
}

// Hub is the subscription registry and broadcast fan-out. Session
// lifecycle (connect, disconnect, subscribe) takes the write lock;
// broadcasts share the read lock so they never serialize on each other.
type Hub struct {
	cfg       config.WSConfig
	verifier  auth.Verifier
	snapshots SnapshotSource
	logger    *zap.Logger

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*Session
	topics   map[string]map[string]*Session
}

// New creates a hub using verifier for credentials and snapshots for the
// post-auth state push.
func New(cfg config.WSConfig, verifier auth.Verifier, snapshots SnapshotSource, logger *zap.Logger) *Hub {
	return &Hub{
		cfg:       cfg,
		verifier:  verifier,
		snapshots: snapshots,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*Session),
		topics:   make(map[string]map[string]*Session),
	}
}

// ServeWS upgrades the request and runs the connection's pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	wrapped := newWSConn(conn, h.cfg.WriteTimeout, h.cfg.PongTimeout, h.cfg.MaxMessageSize)
	s := h.Attach(wrapped)
	go s.writePump(h.cfg.PingInterval)
	go s.readPump()
}

// Attach registers a new session in the Connecting state for the given
// transport. Exposed for tests that drive in-memory connections.
func (h *Hub) Attach(conn Conn) *Session {
	s := newSession(uuid.NewString(), h, conn, h.cfg.SendQueueSize)
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("session", s.ID))
	return s
}

func (h *Hub) onAuthenticated(s *Session) {
	identity := s.Identity()
	metrics.ConnectedClients.WithLabelValues(string(identity.Role)).Inc()
	h.logger.Info("client authenticated",
		zap.String("session", s.ID),
		zap.String("user", identity.UserID),
		zap.String("role", string(identity.Role)))
}

func (h *Hub) subscribe(topic string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.topics[topic]
	if !ok {
		set = make(map[string]*Session)
		h.topics[topic] = set
	}
	set[s.ID] = s
}

func (h *Hub) unsubscribe(topic string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.topics[topic]; ok {
		delete(set, s.ID)
		if len(set) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Disconnect removes the session from the registry and every topic set,
// then closes it. Safe to call multiple times.
func (h *Hub) Disconnect(sessionID string) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if ok {
		delete(h.sessions, sessionID)
		for topic, set := range h.topics {
			delete(set, sessionID)
			if len(set) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	if s.State() == StateAuthenticated {
		metrics.ConnectedClients.WithLabelValues(string(s.Identity().Role)).Dec()
	}
	s.close()
	h.logger.Debug("client disconnected", zap.String("session", sessionID))
}

// Broadcast delivers a message to every authenticated client subscribed
// to topic. Delivery is best-effort: a client that cannot keep up is
// removed without affecting the others.
func (h *Hub) Broadcast(topic, msgType string, data interface{}) {
	frame, err := marshalEnvelope(msgType, data)
	if err != nil {
		h.logger.Error("failed to encode broadcast", zap.String("type", msgType), zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.topics[topic]))
	for _, s := range h.topics[topic] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	h.deliver(topic, frame, targets, "")
}

// BroadcastToEntity narrows Broadcast to clients with access to entityID:
// the creator themselves, their investors, and admins.
func (h *Hub) BroadcastToEntity(topic, entityID, msgType string, data interface{}) {
	frame, err := marshalEnvelope(msgType, data)
	if err != nil {
		h.logger.Error("failed to encode broadcast", zap.String("type", msgType), zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.topics[topic]))
	for _, s := range h.topics[topic] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	h.deliver(topic, frame, targets, entityID)
}

// deliver sends a frame outside any hub lock. Subscription state is
// rechecked per session so an unsubscribe racing the broadcast cannot
// leak a message.
func (h *Hub) deliver(topic string, frame []byte, targets []*Session, entityID string) {
	sent := 0
	for _, s := range targets {
		if s.State() != StateAuthenticated || !s.subscribedTo(topic) {
			continue
		}
		if entityID != "" && !s.canAccessEntity(entityID) {
			continue
		}
		if !s.enqueue(frame) {
			h.logger.Warn("removing unresponsive client", zap.String("session", s.ID))
			h.Disconnect(s.ID)
			continue
		}
		sent++
	}
	if sent > 0 {
		metrics.BroadcastsSent.WithLabelValues(topic).Add(float64(sent))
	}
}

// SessionCount returns the number of tracked sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// SubscriberCount returns the number of sessions subscribed to topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// StartReaper evicts clients idle beyond the configured threshold. Runs on
// its own timer so the broadcast hot path never pays for it.
func (h *Hub) StartReaper(ctx context.Context) {
	interval := h.cfg.ReaperInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.reapIdle()
			}
		}
	}()
}

func (h *Hub) reapIdle() {
	cutoff := time.Now().Add(-h.cfg.IdleThreshold)
	h.mu.RLock()
	var stale []string
	for id, s := range h.sessions {
		if s.LastActivity().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	h.mu.RUnlock()
	for _, id := range stale {
		h.logger.Info("evicting idle client", zap.String("session", id))
		h.Disconnect(id)
	}
}

// CloseAll disconnects every session, used during shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	for _, id := range ids {
		h.Disconnect(id)
	}
}
