package notify

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/observability"
)

// Session is one live WebSocket subscriber. Writes are serialized per
// connection.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Close tears the socket down; the hub forgets the session separately.
func (s *Session) Close() error { return s.conn.Close() }

// Hub holds live sessions grouped by broadcast key: one group per user plus
// the shared all-drivers group. Delivery is at-most-once and non-durable; a
// disconnected target silently misses the message.
type Hub struct {
	mu       sync.RWMutex
	groups   map[string]map[*Session]struct{}
	sessions map[*Session][]string
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		groups:   make(map[string]map[*Session]struct{}),
		sessions: make(map[*Session][]string),
		logger:   logger,
	}
}

// Subscribe registers conn under every given group key.
func (h *Hub) Subscribe(conn *websocket.Conn, groups ...string) *Session {
	s := &Session{conn: conn}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, g := range groups {
		if h.groups[g] == nil {
			h.groups[g] = make(map[*Session]struct{})
		}
		h.groups[g][s] = struct{}{}
	}
	h.sessions[s] = groups
	return s
}

// Unsubscribe removes the session from all its groups.
func (h *Hub) Unsubscribe(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, g := range h.sessions[s] {
		delete(h.groups[g], s)
		if len(h.groups[g]) == 0 {
			delete(h.groups, g)
		}
	}
	delete(h.sessions, s)
}

// PublishToGroup writes payload to every socket currently subscribed to the
// group. A failed write drops that session's message only; no queueing, no
// redelivery, no ordering guarantee across subscribers.
func (h *Hub) PublishToGroup(group string, payload any) {
	h.mu.RLock()
	members := make([]*Session, 0, len(h.groups[group]))
	for s := range h.groups[group] {
		members = append(members, s)
	}
	h.mu.RUnlock()

	for _, s := range members {
		if err := s.send(payload); err != nil {
			h.logger.Debug("ws send failed, subscriber misses event", "group", group, "error", err)
			continue
		}
		observability.BroadcastsTotal.Inc()
	}
}
