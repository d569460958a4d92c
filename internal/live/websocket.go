package live

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/cbt-research/internal/events"
	"github.com/ashureev/cbt-research/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const writeTimeout = 10 * time.Second

// Handler upgrades research dashboard requests to WebSocket connections.
type Handler struct {
	hub           *Hub
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a dashboard WebSocket handler.
func NewHandler(hub *Hub, allowedOrigin string, isDev bool) *Handler {
	return &Handler{hub: hub, allowedOrigin: allowedOrigin, isDev: isDev}
}

type clientMessage struct {
	Type string `json:"type"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "dashboard closed"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	send := h.hub.Register(userID, sessionID, ws)
	defer h.hub.Unregister(userID, sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		h.readLoop(ctx, ws, userID)
	}()

	h.writeLoop(ctx, ws, send, userID)
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, userID string) {
	for {
		var msg clientMessage
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("Dashboard WebSocket closed", "user_id", userID)
			} else {
				slog.Warn("Dashboard WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}
		if msg.Type == "ping" {
			if err := h.write(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
				return
			}
		}
	}
}

func (h *Handler) writeLoop(ctx context.Context, ws *websocket.Conn, send <-chan events.SessionCreated, userID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-send:
			if err := h.write(ctx, ws, ev); err != nil {
				slog.Debug("Dashboard WebSocket write error", "error", err, "user_id", userID)
				return
			}
		}
	}
}

func (h *Handler) write(ctx context.Context, ws *websocket.Conn, v any) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, ws, v)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}
