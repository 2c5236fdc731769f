package domain

import (
	"time"
)

// DefaultConversationID is used when the caller does not supply a conversation.
const DefaultConversationID = "default"

// Role identifies the author of a chat turn.
type Role string

const (
	// RoleUser marks a turn written by the caller.
	RoleUser Role = "user"
	// RoleAssistant marks a turn produced by the agent.
	RoleAssistant Role = "assistant"
)

// ChatTurn is one persisted message of a conversation. Turns are never edited
// after they are saved.
type ChatTurn struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	ConversationID string    `json:"conversationId"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// IsAssistant reports whether the turn was produced by the agent.
func (t ChatTurn) IsAssistant() bool {
	return t.Role == RoleAssistant
}

// NormalizeConversationID maps an empty id to DefaultConversationID.
func NormalizeConversationID(id string) string {
	if id == "" {
		return DefaultConversationID
	}
	return id
}
