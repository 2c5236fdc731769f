// Package credential issues bearer tokens for outbound agent calls.
package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrNoToken is returned when a provider cannot produce a token.
var ErrNoToken = errors.New("no bearer token available")

// Provider returns a bearer token valid for scope.
type Provider interface {
	Token(ctx context.Context, scope string) (string, error)
}

// ClientCredentials obtains tokens with the OAuth2 client credentials grant.
// Tokens are cached per scope and refreshed shortly before they expire.
type ClientCredentials struct {
	tokenURL     string
	clientID     string
	clientSecret string

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

// NewClientCredentials creates a provider for the given token endpoint.
func NewClientCredentials(tokenURL, clientID, clientSecret string) (*ClientCredentials, error) {
	if tokenURL == "" {
		return nil, fmt.Errorf("token URL cannot be empty")
	}
	if clientID == "" {
		return nil, fmt.Errorf("client ID cannot be empty")
	}
	return &ClientCredentials{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		sources:      make(map[string]oauth2.TokenSource),
	}, nil
}

func (c *ClientCredentials) source(ctx context.Context, scope string) oauth2.TokenSource {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ts, ok := c.sources[scope]; ok {
		return ts
	}
	cfg := clientcredentials.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		TokenURL:     c.tokenURL,
	}
	if scope != "" {
		cfg.Scopes = []string{scope}
	}
	// The token source outlives the first request, so it must not inherit its
	// cancellation.
	ts := oauth2.ReuseTokenSource(nil, cfg.TokenSource(context.WithoutCancel(ctx)))
	c.sources[scope] = ts
	return ts
}

// Token returns a cached or freshly issued access token for scope.
func (c *ClientCredentials) Token(ctx context.Context, scope string) (string, error) {
	tok, err := c.source(ctx, scope).Token()
	if err != nil {
		return "", fmt.Errorf("fetch token for scope %q: %w", scope, err)
	}
	if tok.AccessToken == "" {
		return "", ErrNoToken
	}
	return tok.AccessToken, nil
}

// Static always returns the same token. It is meant for local development.
type Static string

// Token returns the fixed token.
func (s Static) Token(context.Context, string) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}
