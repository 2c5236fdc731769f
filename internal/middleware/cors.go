// Package middleware provides HTTP middleware for the PilotChat API.
package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS returns middleware that handles CORS headers. Credentials are only
// allowed when no wildcard origin is configured.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	wildcard := false
	for _, o := range allowedOrigins {
		if o == "*" {
			wildcard = true
			break
		}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: !wildcard,
		MaxAge:           300,
	})
}
