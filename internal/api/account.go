package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/pilotchat/internal/domain"
	"github.com/ashureev/pilotchat/internal/identity"
)

type meResponse struct {
	Authenticated bool                `json:"authenticated"`
	Profile       domain.UserProfile  `json:"profile"`
	Subscription  domain.Subscription `json:"subscription"`
}

// GetMe returns the caller's identity, profile and subscription summary.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	id := identity.FromContext(r.Context())

	sub, err := h.subs.Lookup(r.Context(), id)
	if err != nil {
		slog.Error("Failed to look up subscription", "error", err, "user_id", id.QuotaKey())
		Error(w, http.StatusInternalServerError, "failed to look up subscription")
		return
	}

	profile := domain.UserProfile{ID: id.QuotaKey(), DisplayName: "Anonymous"}
	if email := id.EmailAddress(); email != "" {
		profile.Email = email
		profile.DisplayName = email
	}

	JSON(w, http.StatusOK, meResponse{
		Authenticated: id.Authenticated,
		Profile:       profile,
		Subscription:  sub,
	})
}

// Checkout starts a subscription checkout and returns the page to send the
// caller to.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	id := identity.FromContext(r.Context())
	slog.Info("Checkout requested", "user_id", id.QuotaKey())
	JSON(w, http.StatusOK, map[string]string{"url": h.cfg.Billing.CheckoutURL})
}

// Webhook acknowledges a billing provider event.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxRequestBodyBytes)
	n, err := io.Copy(io.Discard, r.Body)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid webhook body")
		return
	}
	slog.Info("Billing webhook received", "bytes", n)
	w.WriteHeader(http.StatusAccepted)
}

// SignIn sends the caller back to the chat. Sessions are issued by an
// external provider that sets the session cookie.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusFound)
}

// SignOut clears the session cookie and sends the caller back to the chat.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	identity.ClearSessionCookie(w, !h.cfg.IsDevelopment())
	http.Redirect(w, r, "/", http.StatusFound)
}
