// Package live pushes research dashboard updates over WebSocket.
package live

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ashureev/cbt-research/internal/events"
	"github.com/coder/websocket"
)

const clientBuffer = 8

type client struct {
	conn *websocket.Conn
	send chan events.SessionCreated
}

// Hub tracks open dashboard connections per user and tab.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]*client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		active: make(map[string]map[string]*client),
	}
}

// Register adds a connection for a user/tab, replacing any previous one.
func (h *Hub) Register(userID, sessionID string, conn *websocket.Conn) <-chan events.SessionCreated {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[userID]; !exists {
		h.active[userID] = make(map[string]*client)
	}

	if existing, exists := h.active[userID][sessionID]; exists && existing.conn != conn {
		_ = existing.conn.Close(websocket.StatusNormalClosure, "dashboard replaced")
	}

	c := &client{conn: conn, send: make(chan events.SessionCreated, clientBuffer)}
	h.active[userID][sessionID] = c
	slog.Info("Dashboard connection registered", "user_id", userID, "session_id", sessionID)
	return c.send
}

// Unregister removes a connection for a user/tab.
func (h *Hub) Unregister(userID, sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sessions, ok := h.active[userID]; ok {
		if current, exists := sessions[sessionID]; exists && current.conn == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(h.active, userID)
			}
			slog.Info("Dashboard connection unregistered", "user_id", userID, "session_id", sessionID)
		}
	}
}

// Count returns the number of open dashboard connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, sessions := range h.active {
		n += len(sessions)
	}
	return n
}

// Broadcast queues ev for every open connection. Connections that are not
// keeping up miss the event; they re-read the full view on the next one.
func (h *Hub) Broadcast(ev events.SessionCreated) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for userID, sessions := range h.active {
		for sessionID, c := range sessions {
			select {
			case c.send <- ev:
			default:
				slog.Debug("Dashboard connection lagging", "user_id", userID, "session_id", sessionID)
			}
		}
	}
}

// Run relays bus events to connected dashboards until ctx is done.
func (h *Hub) Run(ctx context.Context, bus events.Bus) error {
	ch, err := bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			h.Broadcast(ev)
		}
	}
}

// CloseAll terminates every open connection.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, sessions := range h.active {
		for _, c := range sessions {
			_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(h.active, userID)
	}
}
