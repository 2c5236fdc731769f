package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/coder/websocket"

	"github.com/ashureev/pilotchat/internal/chat"
	"github.com/ashureev/pilotchat/internal/domain"
	"github.com/ashureev/pilotchat/internal/identity"
)

// ChatSocket runs one exchange over a websocket. The client sends a single
// {message, conversationId} document and receives one text message per chunk,
// followed by a normal closure.
func (h *Handler) ChatSocket(w http.ResponseWriter, r *http.Request) {
	id := identity.FromContext(r.Context())
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", id.QuotaKey())
		return
	}
	defer func() {
		// CloseNow is a no-op after a completed close handshake.
		_ = ws.CloseNow()
	}()
	ws.SetReadLimit(h.cfg.MaxRequestBodyBytes)

	ctx := r.Context()
	_, message, err := ws.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) != -1 {
			slog.Debug("WebSocket closed by client", "user_id", id.QuotaKey())
		} else {
			slog.Warn("WebSocket read error", "error", err, "user_id", id.QuotaKey())
		}
		return
	}

	var req chat.Request
	if err := json.Unmarshal(message, &req); err != nil {
		h.closeSocket(ws, websocket.StatusInvalidFramePayloadData, "invalid request body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		h.closeSocket(ws, websocket.StatusInvalidFramePayloadData, chat.ErrEmptyMessage.Error())
		return
	}
	req.ConversationID = domain.NormalizeConversationID(req.ConversationID)

	err = h.chat.Exchange(ctx, id, req, func(chunk string) error {
		return ws.Write(ctx, websocket.MessageText, []byte(chunk))
	})
	switch {
	case err == nil:
		h.closeSocket(ws, websocket.StatusNormalClosure, "")
	case errors.Is(err, chat.ErrQuotaExceeded):
		h.closeSocket(ws, websocket.StatusPolicyViolation, chat.ErrQuotaExceeded.Error())
	case errors.Is(err, context.Canceled), websocket.CloseStatus(err) != -1:
		slog.Debug("WebSocket chat closed by client", "user_id", id.QuotaKey())
	default:
		slog.Error("WebSocket chat failed", "error", err, "user_id", id.QuotaKey(), "conversation_id", req.ConversationID)
		h.closeSocket(ws, websocket.StatusInternalError, errorMessageUnavailable)
	}
}

func (h *Handler) closeSocket(ws *websocket.Conn, code websocket.StatusCode, reason string) {
	if err := ws.Close(code, reason); err != nil {
		slog.Debug("Failed to close websocket", "error", err, "status", code)
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.cfg.IsDevelopment() {
		return true
	}
	origin := r.Header.Get("Origin")
	allowed := h.cfg.Origins()
	if origin == "" || slices.Contains(allowed, "*") || slices.Contains(allowed, origin) {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", allowed)
	return false
}
