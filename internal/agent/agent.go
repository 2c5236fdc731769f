// Package agent talks to the remote language-model agent.
package agent

import (
	"context"
	"fmt"
	"net/http"
)

// NoResponseSentinel replaces the answer when no text could be extracted.
const NoResponseSentinel = "(no response)"

// Client sends one exchange to the remote agent.
type Client interface {
	// Send submits historyText, or userMessage when historyText is empty, and
	// returns the agent's reply.
	Send(ctx context.Context, conversationID, userMessage, historyText string) (*Response, error)
}

// Request is the payload submitted to the agent.
type Request struct {
	ConversationID string            `json:"conversationId"`
	Input          string            `json:"input"`
	Stream         bool              `json:"stream"`
	Model          string            `json:"model,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// NewRequest builds a request for one exchange.
func NewRequest(conversationID, userMessage, historyText, model string) Request {
	input := historyText
	if input == "" {
		input = userMessage
	}
	return Request{
		ConversationID: conversationID,
		Input:          input,
		Stream:         false,
		Model:          model,
		Metadata:       map[string]string{"conversationId": conversationID},
	}
}

// Response is the agent's reply. OutputText is nil when no text could be
// extracted from Raw.
type Response struct {
	OutputText *string
	Raw        Value
}

// NewResponse extracts the output text of raw.
func NewResponse(raw Value) *Response {
	resp := &Response{Raw: raw}
	if text, ok := ExtractOutputText(raw); ok {
		resp.OutputText = &text
	}
	return resp
}

// Text returns the extracted output or NoResponseSentinel.
func (r *Response) Text() string {
	if r == nil || r.OutputText == nil {
		return NoResponseSentinel
	}
	return *r.OutputText
}

// TransportError reports a failed agent call. Status is zero when no HTTP
// response was received.
type TransportError struct {
	Status       int
	Reason       string
	RequestBody  string
	ResponseBody string
	Err          error
}

func (e *TransportError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("agent request failed: %s", e.Reason)
	}
	return fmt.Sprintf("agent request failed: %d %s", e.Status, e.Reason)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func statusReason(status int) string {
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "unknown status"
}
