package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ashureev/sahayak/internal/session"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
)

const wsWriteTimeout = 10 * time.Second

// WebSocketHandler streams turns of one session over a WebSocket.
type WebSocketHandler struct {
	*Handler
	limiter       *RateLimiter
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler. limiter may be nil.
func NewWebSocketHandler(base *Handler, limiter *RateLimiter, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		Handler:       base,
		limiter:       limiter,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// RegisterRoutes registers the WebSocket endpoint.
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/sessions/{id}", h.ServeHTTP)
}

// wsMessage is the client-to-server frame.
type wsMessage struct {
	Type       string   `json:"type"`
	Text       string   `json:"text,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// wsReply is the server-to-client frame.
type wsReply struct {
	Type  string              `json:"type"`
	Error string              `json:"error,omitempty"`
	Turn  *session.TurnResult `json:"turn,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.logger.Info("WebSocket connection request", "session_id", id, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	if _, ok := h.lookup(w, r, id); !ok {
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "session_id", id)
		return
	}
	ws.SetReadLimit(h.maxBodySize)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "session_id", id)
		}
	}()

	h.loop(r.Context(), ws, id, clientKey(r))
	h.logger.Info("WebSocket session ended", "session_id", id)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) loop(ctx context.Context, ws *websocket.Conn, id, client string) {
	for {
		var msg wsMessage
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Debug("WebSocket closed by client", "session_id", id)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "session_id", id)
			}
			return
		}

		var reply wsReply
		switch msg.Type {
		case "turn":
			reply = h.turn(ctx, id, client, msg)
		case "ping":
			reply = wsReply{Type: "pong"}
		case "end":
			if err := h.sessions.End(ctx, id); err != nil {
				h.logger.Debug("Session end over WebSocket failed", "session_id", id, "error", err)
			}
			_ = h.write(ctx, ws, wsReply{Type: "ended"})
			return
		default:
			reply = wsReply{Type: "error", Error: "unknown message type"}
		}

		if err := h.write(ctx, ws, reply); err != nil {
			h.logger.Debug("WebSocket write error", "error", err, "session_id", id)
			return
		}
		if reply.Type == "error" && reply.Error == "session not found" {
			return
		}
	}
}

func (h *WebSocketHandler) turn(ctx context.Context, id, client string, msg wsMessage) wsReply {
	if h.limiter != nil && !h.limiter.Allow(client) {
		return wsReply{Type: "error", Error: "rate limit exceeded"}
	}
	confidence, ok := turnConfidence(msg.Confidence)
	if !ok {
		return wsReply{Type: "error", Error: "confidence must be within [0, 1]"}
	}
	res, err := h.sessions.ProcessTurn(ctx, id, msg.Text, confidence)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return wsReply{Type: "error", Error: "session not found"}
		}
		h.logger.Warn("WebSocket turn failed", "session_id", id, "error", err)
		return wsReply{Type: "error", Error: "internal error"}
	}
	return wsReply{Type: "response", Turn: &res}
}

func (h *WebSocketHandler) write(ctx context.Context, ws *websocket.Conn, v wsReply) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, ws, v)
}
