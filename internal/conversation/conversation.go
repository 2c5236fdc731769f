// Package conversation persists chat turns per user and conversation.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/pilotchat/internal/domain"
	"github.com/ashureev/pilotchat/internal/store"
)

// Collection holds chat turns, partitioned by user id.
const Collection = "turns"

// Store saves and loads conversation turns.
type Store interface {
	// Save persists a turn. Saving a turn whose id already exists overwrites it.
	Save(ctx context.Context, turn domain.ChatTurn) (domain.ChatTurn, error)

	// GetConversation returns the turns of one conversation in chronological
	// order. An unknown conversation yields an empty slice.
	GetConversation(ctx context.Context, userID, conversationID string) ([]domain.ChatTurn, error)
}

// DocumentBacked implements Store on top of a document store.
type DocumentBacked struct {
	docs store.DocumentStore
	now  func() time.Time
}

// NewDocumentBacked creates a conversation store.
func NewDocumentBacked(docs store.DocumentStore) *DocumentBacked {
	return &DocumentBacked{docs: docs, now: time.Now}
}

// Save persists turn, assigning an id and a creation time when missing.
func (s *DocumentBacked) Save(ctx context.Context, turn domain.ChatTurn) (domain.ChatTurn, error) {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.UserID == "" {
		turn.UserID = domain.AnonymousUserKey
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now().UTC()
	}
	turn.ConversationID = domain.NormalizeConversationID(turn.ConversationID)

	if err := s.docs.Upsert(ctx, Collection, turn.UserID, turn.ID, turn.CreatedAt, turn); err != nil {
		return domain.ChatTurn{}, fmt.Errorf("save turn %s: %w", turn.ID, err)
	}
	return turn, nil
}

// GetConversation loads the turns of a conversation.
func (s *DocumentBacked) GetConversation(ctx context.Context, userID, conversationID string) ([]domain.ChatTurn, error) {
	if userID == "" {
		userID = domain.AnonymousUserKey
	}
	raw, err := s.docs.Query(ctx, store.Query{
		Collection:   Collection,
		PartitionKey: userID,
		Filter:       map[string]string{"conversationId": domain.NormalizeConversationID(conversationID)},
	})
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	turns := make([]domain.ChatTurn, 0, len(raw))
	for _, r := range raw {
		var turn domain.ChatTurn
		if err := json.Unmarshal(r, &turn); err != nil {
			return nil, fmt.Errorf("decode turn: %w", err)
		}
		turns = append(turns, turn)
	}

	// The store already orders by created_at; this keeps the guarantee for
	// document stores that do not.
	sort.SliceStable(turns, func(i, j int) bool {
		return turns[i].CreatedAt.Before(turns[j].CreatedAt)
	})
	return turns, nil
}
