package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterHealth registers the health check routes.
func (h *Handler) RegisterHealth(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/health", h.Health)
}

// RegisterRoutes registers the chat, account and billing routes. limits wrap
// the endpoints that start an exchange.
func (h *Handler) RegisterRoutes(r chi.Router, limits ...func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/chat/history", h.History)
		r.With(limits...).Post("/chat", h.Answer)
		r.With(limits...).Post("/chat/stream", h.StreamChat)
		r.Post("/billing/checkout", h.Checkout)
		r.Post("/billing/webhook", h.Webhook)
	})
	r.Route("/auth", func(r chi.Router) {
		r.Get("/signin", h.SignIn)
		r.Get("/signout", h.SignOut)
	})
	r.With(limits...).Get("/ws/chat", h.ChatSocket)
}
