package chat

import (
	"strings"

	"github.com/ashureev/pilotchat/internal/domain"
)

// BuildTranscript renders prior turns and the new question as the agent input.
func BuildTranscript(history []domain.ChatTurn, message string) string {
	var b strings.Builder
	b.WriteString("Conversation so far:\n")
	for _, turn := range history {
		if turn.IsAssistant() {
			b.WriteString("Assistant: ")
		} else {
			b.WriteString("User: ")
		}
		b.WriteString(turn.Content)
		b.WriteByte('\n')
	}
	b.WriteString("\nNew question:\n")
	b.WriteString(message)
	b.WriteByte('\n')
	return b.String()
}
