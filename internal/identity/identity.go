// Package identity resolves the caller of a request from a signed session token.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ashureev/pilotchat/internal/domain"
)

// SessionCookieName carries the session token for browser clients.
const SessionCookieName = "pilot_session"

type contextKey int

const identityKey contextKey = iota

// Claims are the session token claims.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Resolver turns request credentials into a UserIdentity. Requests without a
// valid token resolve to domain.Anonymous.
type Resolver struct {
	secret []byte
	parser *jwt.Parser
}

// NewResolver creates a resolver for HS256 tokens signed with secret. An
// empty secret disables authentication: every caller is anonymous.
func NewResolver(secret string) *Resolver {
	return &Resolver{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(30*time.Second)),
	}
}

// Enabled reports whether tokens can be verified.
func (r *Resolver) Enabled() bool {
	return len(r.secret) > 0
}

// Resolve returns the identity of the request's caller.
func (r *Resolver) Resolve(req *http.Request) domain.UserIdentity {
	if !r.Enabled() {
		return domain.Anonymous
	}
	raw := tokenFromRequest(req)
	if raw == "" {
		return domain.Anonymous
	}
	id, err := r.Verify(raw)
	if err != nil {
		slog.Debug("Rejected session token", "error", err, "remote_ip", IPFromRequest(req))
		return domain.Anonymous
	}
	return id
}

// Verify parses a token and returns the identity it names.
func (r *Resolver) Verify(raw string) (domain.UserIdentity, error) {
	claims := &Claims{}
	_, err := r.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	})
	if err != nil {
		return domain.Anonymous, fmt.Errorf("parse token: %w", err)
	}
	if claims.Subject == "" {
		return domain.Anonymous, errors.New("token has no subject")
	}
	return domain.NewUserIdentity(claims.Subject, claims.Email), nil
}

// Issue signs a session token for userID valid for ttl.
func (r *Resolver) Issue(userID, email string, ttl time.Duration) (string, error) {
	if !r.Enabled() {
		return "", errors.New("AUTH_JWT_SECRET is not configured")
	}
	now := time.Now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func tokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		return c.Value
	}
	return ""
}

// Middleware stores the caller's identity in the request context.
func Middleware(resolver *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := resolver.Resolve(r)
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id domain.UserIdentity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the identity stored by Middleware, or domain.Anonymous.
func FromContext(ctx context.Context) domain.UserIdentity {
	if id, ok := ctx.Value(identityKey).(domain.UserIdentity); ok {
		return id
	}
	return domain.Anonymous
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
