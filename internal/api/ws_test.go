package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/pilotchat/internal/agent"
	"github.com/ashureev/pilotchat/internal/domain"
)

func dialChat(t *testing.T, env *testEnv) (*websocket.Conn, context.Context) {
	t.Helper()
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn, ctx
}

func TestChatSocketStreamsReply(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 3, agent.Stub{Reply: "Hello!"})
	conn, ctx := dialChat(t, env)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"message":"Hi","conversationId":"ws"}`)))

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)
	require.Equal(t, "Hello!", string(data))

	_, _, err = conn.Read(ctx)
	require.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))

	require.Eventually(t, func() bool { return env.remaining(t) == 2 }, time.Second, 10*time.Millisecond)
}

func TestChatSocketQuotaExceeded(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 1, agent.Stub{Reply: "Hello!"})
	ok, err := env.subs.TryConsume(context.Background(), domain.Anonymous)
	require.NoError(t, err)
	require.True(t, ok)
	conn, ctx := dialChat(t, env)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"message":"Hi"}`)))

	_, _, err = conn.Read(ctx)
	require.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestChatSocketRejectsEmptyMessage(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 3, agent.Stub{})
	conn, ctx := dialChat(t, env)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"message":""}`)))

	_, _, err := conn.Read(ctx)
	require.Equal(t, websocket.StatusInvalidFramePayloadData, websocket.CloseStatus(err))
	require.Equal(t, 3, env.remaining(t))
}
