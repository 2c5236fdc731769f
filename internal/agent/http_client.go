package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/pilotchat/internal/credential"
)

// maxResponseBytes bounds how much of an agent reply is read.
const maxResponseBytes = 8 << 20

// HTTPClientConfig holds configuration for the HTTP agent client.
type HTTPClientConfig struct {
	Endpoint string
	Scope    string
	Model    string
	Timeout  time.Duration
}

// HTTPClient posts exchanges to a responses endpoint with a bearer token.
type HTTPClient struct {
	cfg    HTTPClientConfig
	creds  credential.Provider
	http   *http.Client
	logger *slog.Logger
}

// NewHTTPClient creates an HTTP agent client. A nil httpClient uses a client
// with cfg.Timeout.
func NewHTTPClient(cfg HTTPClientConfig, creds credential.Provider, httpClient *http.Client, logger *slog.Logger) (*HTTPClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("agent responses endpoint cannot be empty")
	}
	if creds == nil {
		return nil, fmt.Errorf("agent credential provider is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{cfg: cfg, creds: creds, http: httpClient, logger: logger}, nil
}

// Send posts one exchange and extracts the reply text.
func (c *HTTPClient) Send(ctx context.Context, conversationID, userMessage, historyText string) (*Response, error) {
	token, err := c.creds.Token(ctx, c.cfg.Scope)
	if err != nil {
		return nil, fmt.Errorf("acquire agent token: %w", err)
	}

	payload, err := json.Marshal(NewRequest(conversationID, userMessage, historyText, c.cfg.Model))
	if err != nil {
		return nil, fmt.Errorf("encode agent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build agent request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Error("Agent request failed",
			"conversation_id", conversationID,
			"error", err,
			"request_body", string(payload),
		)
		return nil, &TransportError{Reason: err.Error(), RequestBody: string(payload), Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close agent response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{
			Status:      resp.StatusCode,
			Reason:      "read response body: " + err.Error(),
			RequestBody: string(payload),
			Err:         err,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		terr := &TransportError{
			Status:       resp.StatusCode,
			Reason:       statusReason(resp.StatusCode),
			RequestBody:  string(payload),
			ResponseBody: string(body),
		}
		c.logger.Error("Agent request returned error status",
			"conversation_id", conversationID,
			"status", terr.Status,
			"reason", terr.Reason,
			"request_body", terr.RequestBody,
			"response_body", terr.ResponseBody,
		)
		return nil, terr
	}

	raw, err := ParseValue(body)
	if err != nil {
		return nil, &TransportError{
			Status:       resp.StatusCode,
			Reason:       "invalid response payload",
			RequestBody:  string(payload),
			ResponseBody: string(body),
			Err:          err,
		}
	}

	out := NewResponse(raw)
	c.logger.Debug("Agent request completed",
		"conversation_id", conversationID,
		"status", resp.StatusCode,
		"duration", time.Since(start),
		"extracted", out.OutputText != nil,
	)
	return out, nil
}

// IsTransportError reports whether err carries a *TransportError.
func IsTransportError(err error) bool {
	var terr *TransportError
	return errors.As(err, &terr)
}
