// Package api provides HTTP handlers for the chat API.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/ashureev/pilotchat/internal/chat"
	"github.com/ashureev/pilotchat/internal/config"
	"github.com/ashureev/pilotchat/internal/subscription"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler provides the chat endpoints and their shared dependencies.
type Handler struct {
	chat     *chat.Service
	subs     subscription.Service
	db       Pinger
	cfg      *config.Config
	markdown goldmark.Markdown
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(svc *chat.Service, subs subscription.Service, db Pinger, cfg *config.Config) *Handler {
	return &Handler{
		chat: svc,
		subs: subs,
		db:   db,
		cfg:  cfg,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decodeJSON reads a size-limited JSON body into v.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxRequestBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}
