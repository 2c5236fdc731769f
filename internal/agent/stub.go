package agent

import (
	"context"
	"strings"
)

// Stub answers locally without a remote agent. It is used for development
// and demos when no backend is configured.
type Stub struct {
	// Reply overrides the canned answer when non-empty.
	Reply string
}

// Send returns a canned responses-shaped payload.
func (s Stub) Send(ctx context.Context, conversationID, userMessage, _ string) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reply := s.Reply
	if reply == "" {
		reply = "This is a placeholder answer from the local agent. " +
			"Configure AGENT_BACKEND to reach a real model. You asked: " + strings.TrimSpace(userMessage)
	}
	return NewResponse(Object(
		Member{Key: "id", Value: String("stub-" + conversationID)},
		Member{Key: "output_text", Value: String(reply)},
	)), nil
}
