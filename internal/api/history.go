package api

import (
	"bytes"
	"log/slog"
	"net/http"

	"github.com/ashureev/pilotchat/internal/domain"
	"github.com/ashureev/pilotchat/internal/identity"
)

type historyTurn struct {
	domain.ChatTurn
	HTML string `json:"html"`
}

type historyResponse struct {
	ConversationID string        `json:"conversationId"`
	Turns          []historyTurn `json:"turns"`
}

// History returns the caller's turns of one conversation with each turn's
// markdown rendered to HTML.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	id := identity.FromContext(r.Context())
	conversationID := domain.NormalizeConversationID(r.URL.Query().Get("conversationId"))

	turns, err := h.chat.History(r.Context(), id, conversationID)
	if err != nil {
		slog.Error("Failed to load history", "error", err, "user_id", id.QuotaKey(), "conversation_id", conversationID)
		Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	out := historyResponse{ConversationID: conversationID, Turns: make([]historyTurn, 0, len(turns))}
	for _, turn := range turns {
		out.Turns = append(out.Turns, historyTurn{ChatTurn: turn, HTML: h.render(turn.Content)})
	}
	JSON(w, http.StatusOK, out)
}

// render converts markdown to HTML. A failed conversion renders as "".
func (h *Handler) render(source string) string {
	var buf bytes.Buffer
	if err := h.markdown.Convert([]byte(source), &buf); err != nil {
		slog.Debug("Failed to render markdown", "error", err)
		return ""
	}
	return buf.String()
}
