// Package chat runs one question-and-answer exchange: quota check, history,
// persistence and the agent call.
package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/pilotchat/internal/agent"
	"github.com/ashureev/pilotchat/internal/conversation"
	"github.com/ashureev/pilotchat/internal/domain"
	"github.com/ashureev/pilotchat/internal/subscription"
)

// ErrQuotaExceeded is returned when the caller has no messages left.
var ErrQuotaExceeded = errors.New("quota exceeded")

// ErrEmptyMessage is returned for a blank question.
var ErrEmptyMessage = errors.New("message is required")

// Request is one question from a caller.
type Request struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
}

// Service orchestrates chat exchanges.
type Service struct {
	subs  subscription.Service
	turns conversation.Store
	agent agent.Client
	now   func() time.Time
}

// NewService creates a chat service.
func NewService(subs subscription.Service, turns conversation.Store, client agent.Client) *Service {
	return &Service{subs: subs, turns: turns, agent: client, now: time.Now}
}

// Answer runs one exchange and returns the assistant's reply.
func (s *Service) Answer(ctx context.Context, id domain.UserIdentity, req Request) (string, error) {
	var b strings.Builder
	for chunk, err := range s.Stream(ctx, id, req) {
		if err != nil {
			return "", err
		}
		b.WriteString(chunk)
	}
	return b.String(), nil
}

// Stream runs one exchange and yields the reply as text chunks. The reply
// currently arrives as a single chunk. A failure is yielded as the final
// element. Quota is not consumed here; see Exchange.
func (s *Service) Stream(ctx context.Context, id domain.UserIdentity, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		reply, err := s.exchange(ctx, id, req)
		if err != nil {
			yield("", err)
			return
		}
		yield(reply, nil)
	}
}

func (s *Service) exchange(ctx context.Context, id domain.UserIdentity, req Request) (string, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return "", ErrEmptyMessage
	}
	conversationID := domain.NormalizeConversationID(req.ConversationID)
	userKey := id.QuotaKey()

	sub, err := s.subs.Lookup(ctx, id)
	if err != nil {
		return "", fmt.Errorf("lookup subscription: %w", err)
	}
	if !sub.CanSend() {
		return "", ErrQuotaExceeded
	}

	history, err := s.turns.GetConversation(ctx, userKey, conversationID)
	if err != nil {
		return "", err
	}
	transcript := BuildTranscript(history, message)

	if _, err := s.turns.Save(ctx, domain.ChatTurn{
		ID:             uuid.NewString(),
		UserID:         userKey,
		ConversationID: conversationID,
		Role:           domain.RoleUser,
		Content:        message,
		CreatedAt:      s.now().UTC(),
	}); err != nil {
		return "", err
	}

	resp, err := s.agent.Send(ctx, conversationID, message, transcript)
	if err != nil {
		return "", err
	}
	reply := resp.Text()

	if _, err := s.turns.Save(ctx, domain.ChatTurn{
		ID:             uuid.NewString(),
		UserID:         userKey,
		ConversationID: conversationID,
		Role:           domain.RoleAssistant,
		Content:        reply,
		CreatedAt:      s.now().UTC(),
	}); err != nil {
		return "", err
	}

	slog.Debug("Chat exchange completed",
		"user_id", userKey,
		"conversation_id", conversationID,
		"history_turns", len(history),
		"extracted", resp.OutputText != nil,
	)
	return reply, nil
}

// Exchange streams one exchange through emit and consumes one message of the
// caller's quota once every chunk was emitted. Nothing is consumed when the
// exchange or emit fails.
func (s *Service) Exchange(ctx context.Context, id domain.UserIdentity, req Request, emit func(string) error) error {
	for chunk, err := range s.Stream(ctx, id, req) {
		if err != nil {
			return err
		}
		if err := emit(chunk); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ok, err := s.subs.TryConsume(ctx, id)
	if err != nil {
		return fmt.Errorf("consume quota: %w", err)
	}
	if !ok {
		// A concurrent exchange took the last message after our lookup.
		slog.Warn("Quota exhausted after exchange completed", "user_id", id.QuotaKey())
	}
	return nil
}

// History returns the caller's turns of one conversation.
func (s *Service) History(ctx context.Context, id domain.UserIdentity, conversationID string) ([]domain.ChatTurn, error) {
	return s.turns.GetConversation(ctx, id.QuotaKey(), domain.NormalizeConversationID(conversationID))
}
