package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/instaastro/liveconsult/internal/domain"
	"github.com/instaastro/liveconsult/internal/identity"
	"github.com/instaastro/liveconsult/internal/store"
)

// Close codes surfaced to clients during the handshake, matching the codes
// the mobile and web clients already understand.
const (
	closeNotParticipant websocket.StatusCode = 4003
	closeNotFound       websocket.StatusCode = 4004
)

// WebSocketHandler upgrades participant connections and bridges them to the
// session owner.
type WebSocketHandler struct {
	hub           *Hub
	repo          store.Repository
	verifier      identity.Verifier
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(hub *Hub, repo store.Repository, verifier identity.Verifier, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		hub:           hub,
		repo:          repo,
		verifier:      verifier,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	consultationID := chi.URLParam(r, "consultationID")
	slog.Info("WebSocket connection request", "session_id", consultationID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", consultationID)
		return
	}

	userID, err := h.verifier.Verify(identity.TokenFromRequest(r))
	if err != nil {
		closeWith(ws, closeNotParticipant, "invalid identity token")
		return
	}

	cons, err := h.repo.GetConsultation(r.Context(), consultationID)
	if errors.Is(err, store.ErrNotFound) {
		closeWith(ws, closeNotFound, "consultation not found")
		return
	}
	if err != nil {
		slog.Error("Failed to load consultation", "error", err, "session_id", consultationID)
		closeWith(ws, websocket.StatusInternalError, "internal error")
		return
	}
	if !cons.Participant(userID) {
		slog.Warn("Connection rejected: not a participant", "session_id", consultationID, "user_id", userID)
		closeWith(ws, closeNotParticipant, "not a participant of this consultation")
		return
	}

	if cons.Ended() {
		h.sendFinalSnapshot(ws, cons)
		return
	}

	owner, err := h.hub.Owner(r.Context(), consultationID)
	if errors.Is(err, ErrSessionEnded) {
		// The session ended after the first load; re-fetch so the terminal
		// snapshot carries the ENDED state, not the stale copy.
		if fresh, ferr := h.repo.GetConsultation(r.Context(), consultationID); ferr == nil {
			cons = fresh
		}
		h.sendFinalSnapshot(ws, cons)
		return
	}
	if err != nil {
		slog.Error("Failed to start session owner", "error", err, "session_id", consultationID)
		closeWith(ws, websocket.StatusInternalError, "internal error")
		return
	}

	c := newClient(userID)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writeLoop(ws, c)
	}()

	if err := owner.Attach(c); err != nil {
		// The session ended between lookup and attach; the close reason
		// tells the client to reconnect for the terminal snapshot.
		c.close("consultation has ended")
		<-writerDone
		return
	}
	defer func() {
		owner.Detach(c)
		<-writerDone
	}()

	h.readLoop(r.Context(), ws, owner, c, userID, consultationID)
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
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

// writeLoop drains the client queue onto the socket, then closes the socket
// with the reason the owner recorded.
func writeLoop(ws *websocket.Conn, c *client) {
	for frame := range c.send {
		if err := ws.Write(context.Background(), websocket.MessageText, frame); err != nil {
			slog.Debug("WebSocket write error", "error", err)
			// Keep draining so the owner-side close is never blocked.
		}
	}
	reason := c.closeReason
	if reason == "" {
		reason = "connection closed"
	}
	if err := ws.Close(websocket.StatusNormalClosure, reason); err != nil {
		slog.Debug("Failed to close websocket", "error", err)
	}
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, owner *Owner, c *client, userID, consultationID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", consultationID, "user_id", userID)
			} else {
				slog.Debug("WebSocket read error", "error", err, "session_id", consultationID, "user_id", userID)
			}
			return
		}

		var msg Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			if !c.enqueue(errorFrame("bad_frame", "frames must be JSON with a type field")) {
				return
			}
			continue
		}

		switch msg.Type {
		case TypeMessage:
			owner.Message(c, msg.Content)
		case TypeStartTimer:
			owner.StartTimer(c)
		case TypeEndChat:
			owner.End(domain.EndReasonUserEnded)
			return
		default:
			if !c.enqueue(errorFrame("unknown_type", "unsupported frame type: "+msg.Type)) {
				return
			}
		}
	}
}

// sendFinalSnapshot serves a connection against an already-ended session:
// one snapshot so the client reaches the terminal view, then a normal close.
func (h *WebSocketHandler) sendFinalSnapshot(ws *websocket.Conn, cons *domain.Consultation) {
	if err := ws.Write(context.Background(), websocket.MessageText, snapshotFrame(cons)); err != nil {
		slog.Debug("Failed to send final snapshot", "error", err, "session_id", cons.ID)
	}
	closeWith(ws, websocket.StatusNormalClosure, "consultation has ended")
}

func closeWith(ws *websocket.Conn, code websocket.StatusCode, reason string) {
	if err := ws.Close(code, reason); err != nil {
		slog.Debug("Failed to close websocket", "error", err, "reason", reason)
	}
}
