package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ashureev/pilotchat/internal/agent"
	"github.com/ashureev/pilotchat/internal/domain"
)

type fakeSubs struct {
	mu        sync.Mutex
	remaining int
	active    bool
	consumed  int
}

func (f *fakeSubs) Lookup(context.Context, domain.UserIdentity) (domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.Subscription{Tier: domain.TierFree, IsActive: f.active, RemainingMessages: f.remaining}, nil
}

func (f *fakeSubs) TryConsume(context.Context, domain.UserIdentity) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remaining <= 0 {
		return false, nil
	}
	f.remaining--
	f.consumed++
	return true, nil
}

type fakeTurns struct {
	mu    sync.Mutex
	turns []domain.ChatTurn
}

func (f *fakeTurns) Save(_ context.Context, turn domain.ChatTurn) (domain.ChatTurn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, turn)
	return turn, nil
}

func (f *fakeTurns) GetConversation(_ context.Context, userID, conversationID string) ([]domain.ChatTurn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ChatTurn, 0)
	for _, t := range f.turns {
		if t.UserID == userID && t.ConversationID == conversationID {
			out = append(out, t)
		}
	}
	return out, nil
}

type agentCall struct {
	conversationID, message, history string
}

type fakeAgent struct {
	reply string
	raw   string
	err   error
	calls []agentCall
}

func (f *fakeAgent) Send(_ context.Context, conversationID, userMessage, historyText string) (*agent.Response, error) {
	f.calls = append(f.calls, agentCall{conversationID, userMessage, historyText})
	if f.err != nil {
		return nil, f.err
	}
	doc := f.raw
	if doc == "" {
		doc = `{"output_text":"` + f.reply + `"}`
	}
	raw, err := agent.ParseValue([]byte(doc))
	if err != nil {
		return nil, err
	}
	return agent.NewResponse(raw), nil
}

func newTestService(remaining int, a *fakeAgent) (*Service, *fakeSubs, *fakeTurns) {
	subs := &fakeSubs{remaining: remaining, active: true}
	turns := &fakeTurns{}
	return NewService(subs, turns, a), subs, turns
}

var alice = domain.NewUserIdentity("alice", "alice@example.com")

func TestExchangeSuccess(t *testing.T) {
	t.Parallel()
	a := &fakeAgent{reply: "Hello!"}
	svc, subs, turns := newTestService(5, a)

	var chunks []string
	err := svc.Exchange(context.Background(), alice, Request{Message: "Hi"}, func(c string) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"Hello!"}, chunks)
	require.Equal(t, 4, subs.remaining)
	require.Equal(t, 1, subs.consumed)

	require.Len(t, turns.turns, 2)
	require.Equal(t, domain.RoleUser, turns.turns[0].Role)
	require.Equal(t, "Hi", turns.turns[0].Content)
	require.Equal(t, "alice", turns.turns[0].UserID)
	require.Equal(t, domain.DefaultConversationID, turns.turns[0].ConversationID)
	require.Equal(t, domain.RoleAssistant, turns.turns[1].Role)
	require.Equal(t, "Hello!", turns.turns[1].Content)
	require.NotEqual(t, turns.turns[0].ID, turns.turns[1].ID)

	require.Len(t, a.calls, 1)
	require.Equal(t, agentCall{
		conversationID: "default",
		message:        "Hi",
		history:        "Conversation so far:\n\nNew question:\nHi\n",
	}, a.calls[0])
}

func TestTranscriptIncludesHistory(t *testing.T) {
	t.Parallel()
	a := &fakeAgent{reply: "Fine."}
	svc, _, _ := newTestService(5, a)
	ctx := context.Background()

	_, err := svc.Answer(ctx, alice, Request{Message: "Hi", ConversationID: "c1"})
	require.NoError(t, err)
	_, err = svc.Answer(ctx, alice, Request{Message: "How are you?", ConversationID: "c1"})
	require.NoError(t, err)

	require.Len(t, a.calls, 2)
	require.Equal(t,
		"Conversation so far:\nUser: Hi\nAssistant: Fine.\n\nNew question:\nHow are you?\n",
		a.calls[1].history)
}

func TestQuotaExceededSkipsEverything(t *testing.T) {
	t.Parallel()
	a := &fakeAgent{reply: "never"}
	svc, subs, turns := newTestService(0, a)

	emitted := false
	err := svc.Exchange(context.Background(), alice, Request{Message: "Hi"}, func(string) error {
		emitted = true
		return nil
	})
	require.ErrorIs(t, err, ErrQuotaExceeded)
	require.False(t, emitted)
	require.Empty(t, turns.turns)
	require.Empty(t, a.calls)
	require.Equal(t, 0, subs.consumed)
}

func TestInactiveSubscriptionIsRejected(t *testing.T) {
	t.Parallel()
	a := &fakeAgent{reply: "never"}
	svc, subs, _ := newTestService(10, a)
	subs.active = false

	_, err := svc.Answer(context.Background(), alice, Request{Message: "Hi"})
	require.ErrorIs(t, err, ErrQuotaExceeded)
	require.Empty(t, a.calls)
}

func TestAgentFailureKeepsUserTurnOnly(t *testing.T) {
	t.Parallel()
	agentErr := &agent.TransportError{Status: 502, Reason: "Bad Gateway"}
	a := &fakeAgent{err: agentErr}
	svc, subs, turns := newTestService(5, a)

	err := svc.Exchange(context.Background(), alice, Request{Message: "Hi"}, func(string) error { return nil })
	var terr *agent.TransportError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, 502, terr.Status)

	require.Len(t, turns.turns, 1)
	require.Equal(t, domain.RoleUser, turns.turns[0].Role)
	require.Equal(t, 5, subs.remaining)
}

func TestExtractionMissStoresSentinel(t *testing.T) {
	t.Parallel()
	a := &fakeAgent{raw: `{"foo":1}`}
	svc, _, turns := newTestService(5, a)

	reply, err := svc.Answer(context.Background(), alice, Request{Message: "Hi"})
	require.NoError(t, err)
	require.Equal(t, agent.NoResponseSentinel, reply)
	require.Len(t, turns.turns, 2)
	require.Equal(t, agent.NoResponseSentinel, turns.turns[1].Content)
}

func TestEmitFailureDoesNotConsume(t *testing.T) {
	t.Parallel()
	a := &fakeAgent{reply: "Hello!"}
	svc, subs, _ := newTestService(5, a)
	writeErr := errors.New("broken pipe")

	err := svc.Exchange(context.Background(), alice, Request{Message: "Hi"}, func(string) error { return writeErr })
	require.ErrorIs(t, err, writeErr)
	require.Equal(t, 5, subs.remaining)
}

func TestEmptyMessageRejected(t *testing.T) {
	t.Parallel()
	a := &fakeAgent{reply: "x"}
	svc, _, turns := newTestService(5, a)

	_, err := svc.Answer(context.Background(), alice, Request{Message: "   "})
	require.ErrorIs(t, err, ErrEmptyMessage)
	require.Empty(t, turns.turns)
}

func TestAnonymousUsesSharedKey(t *testing.T) {
	t.Parallel()
	a := &fakeAgent{reply: "ok"}
	svc, _, turns := newTestService(5, a)

	_, err := svc.Answer(context.Background(), domain.Anonymous, Request{Message: "Hi"})
	require.NoError(t, err)
	require.Equal(t, domain.AnonymousUserKey, turns.turns[0].UserID)

	history, err := svc.History(context.Background(), domain.Anonymous, "")
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestBuildTranscriptEmptyHistory(t *testing.T) {
	t.Parallel()
	require.Equal(t, "Conversation so far:\n\nNew question:\nWhat?\n", BuildTranscript(nil, "What?"))
}
