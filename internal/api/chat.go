package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/pilotchat/internal/chat"
	"github.com/ashureev/pilotchat/internal/domain"
	"github.com/ashureev/pilotchat/internal/identity"
	"github.com/ashureev/pilotchat/internal/sse"
)

// errorMessageUnavailable is sent to clients when the agent exchange fails.
const errorMessageUnavailable = "the assistant is unavailable, please try again"

type answerResponse struct {
	ConversationID string `json:"conversationId"`
	Reply          string `json:"reply"`
}

// readChatRequest decodes and validates a chat request. It writes a 400 and
// returns false when the body is unusable.
func (h *Handler) readChatRequest(w http.ResponseWriter, r *http.Request) (chat.Request, bool) {
	var req chat.Request
	if err := h.decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		Error(w, http.StatusBadRequest, chat.ErrEmptyMessage.Error())
		return req, false
	}
	req.ConversationID = domain.NormalizeConversationID(req.ConversationID)
	return req, true
}

// StreamChat answers one question as a server-sent event stream. Headers are
// committed with the first chunk, so refusals before that are plain JSON.
func (h *Handler) StreamChat(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readChatRequest(w, r)
	if !ok {
		return
	}
	stream, err := sse.NewWriter(w)
	if err != nil {
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx := r.Context()
	id := identity.FromContext(ctx)
	started := false
	begin := func() {
		if !started {
			stream.Prepare()
			started = true
		}
	}

	err = h.chat.Exchange(ctx, id, req, func(chunk string) error {
		begin()
		return stream.WriteData(chunk)
	})
	switch {
	case err == nil:
		begin()
	case ctx.Err() != nil:
		slog.Debug("Chat stream closed by client", "user_id", id.QuotaKey(), "conversation_id", req.ConversationID)
	case !started && errors.Is(err, chat.ErrQuotaExceeded):
		Error(w, http.StatusTooManyRequests, chat.ErrQuotaExceeded.Error())
	default:
		slog.Error("Chat stream failed", "error", err, "user_id", id.QuotaKey(), "conversation_id", req.ConversationID)
		begin()
		if writeErr := stream.WriteError(errorMessageUnavailable); writeErr != nil {
			slog.Warn("Failed to write SSE error event", "error", writeErr)
		}
	}
}

// Answer answers one question with a single JSON document.
func (h *Handler) Answer(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readChatRequest(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	id := identity.FromContext(ctx)

	var reply strings.Builder
	err := h.chat.Exchange(ctx, id, req, func(chunk string) error {
		reply.WriteString(chunk)
		return nil
	})
	switch {
	case err == nil:
		JSON(w, http.StatusOK, answerResponse{ConversationID: req.ConversationID, Reply: reply.String()})
	case errors.Is(err, chat.ErrQuotaExceeded):
		Error(w, http.StatusTooManyRequests, chat.ErrQuotaExceeded.Error())
	case errors.Is(err, context.Canceled):
		slog.Debug("Chat request cancelled by client", "user_id", id.QuotaKey())
	default:
		slog.Error("Chat request failed", "error", err, "user_id", id.QuotaKey(), "conversation_id", req.ConversationID)
		Error(w, http.StatusInternalServerError, errorMessageUnavailable)
	}
}
