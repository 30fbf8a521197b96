package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/helpdeskhq/support-chat/internal/gateway"
	"github.com/helpdeskhq/support-chat/internal/model"
	"github.com/helpdeskhq/support-chat/internal/store"
	"github.com/helpdeskhq/support-chat/pkg/logger"
)

// failingArchiver always errors. Appends must still succeed.
type failingArchiver struct{ calls int }

func (f *failingArchiver) PublishMessage(ctx context.Context, appID string, msg *model.GuestMessage) (uint64, error) {
	f.calls++
	return 0, errors.New("stream unavailable")
}

func newMessageFixture(t *testing.T, archiver Archiver) (*MessageService, *store.Memory, *gateway.Registry) {
	t.Helper()
	st := store.NewMemory(nil, logger.NewNop())
	registry := gateway.NewRegistry()
	return NewMessageService(st, registry, archiver, logger.NewNop()), st, registry
}

func mustCreateSession(t *testing.T, st *store.Memory) model.GuestSession {
	t.Helper()
	session, err := st.CreateSession(context.Background(), &model.InitSessionRequest{AppID: "shop1"})
	require.NoError(t, err)
	return session
}

func TestAppend_GuestRequiresMatchingToken(t *testing.T) {
	svc, st, _ := newMessageFixture(t, nil)
	ctx := context.Background()
	session := mustCreateSession(t, st)
	req := &model.SendMessageRequest{Content: "hello"}

	_, err := svc.Append(ctx, GuestCaller("wrong-token"), session.SessionID, model.SenderGuest, "", req)
	require.ErrorIs(t, err, model.ErrUnauthorized)

	_, err = svc.Append(ctx, GuestCaller(""), session.SessionID, model.SenderGuest, "", req)
	require.ErrorIs(t, err, model.ErrUnauthorized)

	msg, err := svc.Append(ctx, GuestCaller(session.SecretToken), session.SessionID, model.SenderGuest, "", req)
	require.NoError(t, err)
	require.Equal(t, model.SenderGuest, msg.SenderType)
	require.Empty(t, msg.Sender)
}

func TestAppend_AgentRequiresMatchingIdentity(t *testing.T) {
	svc, st, _ := newMessageFixture(t, nil)
	ctx := context.Background()
	session := mustCreateSession(t, st)
	req := &model.SendMessageRequest{Content: "hi there"}

	// Anonymous caller claiming to be an agent.
	_, err := svc.Append(ctx, AgentCaller(model.Anonymous), session.SessionID, model.SenderAgent, "agent-a", req)
	require.ErrorIs(t, err, model.ErrUnauthorized)

	// Authenticated agent claiming a different sender.
	_, err = svc.Append(ctx, AgentCaller(model.AgentIdentity("agent-a")), session.SessionID, model.SenderAgent, "agent-b", req)
	require.ErrorIs(t, err, model.ErrUnauthorized)

	msg, err := svc.Append(ctx, AgentCaller(model.AgentIdentity("agent-a")), session.SessionID, model.SenderAgent, "agent-a", req)
	require.NoError(t, err)
	require.Equal(t, "agent-a", msg.Sender)
}

func TestAppend_SystemSenderReservedForInternalPath(t *testing.T) {
	svc, st, _ := newMessageFixture(t, nil)
	ctx := context.Background()
	session := mustCreateSession(t, st)

	_, err := svc.Append(ctx, AgentCaller(model.AgentIdentity("agent-a")), session.SessionID, model.SenderSystem, "", &model.SendMessageRequest{Content: "x"})
	require.ErrorIs(t, err, model.ErrUnauthorized)

	msg, err := svc.AppendSystem(ctx, session.SessionID, "agent joined")
	require.NoError(t, err)
	require.Equal(t, model.SenderSystem, msg.SenderType)
	require.Equal(t, model.MessageEvent, msg.Type)
}

func TestAppend_ClosedSession(t *testing.T) {
	svc, st, _ := newMessageFixture(t, nil)
	ctx := context.Background()
	session := mustCreateSession(t, st)

	_, err := st.Close(ctx, session.SessionID)
	require.NoError(t, err)

	_, err = svc.Append(ctx, GuestCaller(session.SecretToken), session.SessionID, model.SenderGuest, "", &model.SendMessageRequest{Content: "hello"})
	require.ErrorIs(t, err, model.ErrSessionClosed)
}

func TestAppend_ArchiveFailureDoesNotFailAppend(t *testing.T) {
	archiver := &failingArchiver{}
	svc, st, _ := newMessageFixture(t, archiver)
	ctx := context.Background()
	session := mustCreateSession(t, st)

	msg, err := svc.Append(ctx, GuestCaller(session.SecretToken), session.SessionID, model.SenderGuest, "", &model.SendMessageRequest{Content: "hello"})
	require.NoError(t, err)
	require.NotZero(t, msg.Seq)
	require.Equal(t, 1, archiver.calls)
}

func TestAppend_GuestMessagePushedToAssignedAgent(t *testing.T) {
	svc, st, registry := newMessageFixture(t, nil)
	ctx := context.Background()
	session := mustCreateSession(t, st)

	_, err := st.Claim(ctx, session.SessionID, "agent-a")
	require.NoError(t, err)

	conn := registry.Bind(gateway.AgentKey(session.SessionID, "agent-a"))

	_, err = svc.Append(ctx, GuestCaller(session.SecretToken), session.SessionID, model.SenderGuest, "", &model.SendMessageRequest{Content: "hello"})
	require.NoError(t, err)

	frame := <-conn.Frames()
	require.Equal(t, gateway.EventMessage, frame.Event)
	require.NotNil(t, frame.Message)
	require.Equal(t, "hello", frame.Message.Content)
}

func TestAppend_GuestMessageWithNoAssignedAgent(t *testing.T) {
	svc, st, _ := newMessageFixture(t, nil)
	ctx := context.Background()
	session := mustCreateSession(t, st)

	// No agent bound or assigned: the append still succeeds.
	msg, err := svc.Append(ctx, GuestCaller(session.SecretToken), session.SessionID, model.SenderGuest, "", &model.SendMessageRequest{Content: "anyone there?"})
	require.NoError(t, err)
	require.NotZero(t, msg.Seq)
}

func TestAppend_AgentMessagePushedToGuest(t *testing.T) {
	svc, st, registry := newMessageFixture(t, nil)
	ctx := context.Background()
	session := mustCreateSession(t, st)

	conn := registry.Bind(gateway.GuestKey(session.SessionID))

	_, err := svc.Append(ctx, AgentCaller(model.AgentIdentity("agent-a")), session.SessionID, model.SenderAgent, "agent-a", &model.SendMessageRequest{Content: "how can I help?"})
	require.NoError(t, err)

	frame := <-conn.Frames()
	require.Equal(t, gateway.EventMessage, frame.Event)
	require.Equal(t, "how can I help?", frame.Message.Content)
}

func TestListForGuest(t *testing.T) {
	svc, st, _ := newMessageFixture(t, nil)
	ctx := context.Background()
	session := mustCreateSession(t, st)

	_, err := svc.Append(ctx, GuestCaller(session.SecretToken), session.SessionID, model.SenderGuest, "", &model.SendMessageRequest{Content: "hello"})
	require.NoError(t, err)

	resp, err := svc.ListForGuest(ctx, session.SecretToken)
	require.NoError(t, err)
	require.Equal(t, 1, resp.Total)

	_, err = svc.ListForGuest(ctx, "bogus-token")
	require.ErrorIs(t, err, model.ErrUnauthorized)
}

func TestMarkReadForGuest(t *testing.T) {
	svc, st, _ := newMessageFixture(t, nil)
	ctx := context.Background()
	session := mustCreateSession(t, st)

	msg, err := svc.Append(ctx, AgentCaller(model.AgentIdentity("agent-a")), session.SessionID, model.SenderAgent, "agent-a", &model.SendMessageRequest{Content: "welcome"})
	require.NoError(t, err)

	_, err = svc.MarkReadForGuest(ctx, "bogus-token", msg.Seq)
	require.ErrorIs(t, err, model.ErrUnauthorized)

	marked, err := svc.MarkReadForGuest(ctx, session.SecretToken, msg.Seq)
	require.NoError(t, err)
	require.Equal(t, 1, marked)

	unread, err := svc.UnreadCount(ctx, session.SessionID, model.SenderGuest)
	require.NoError(t, err)
	require.Equal(t, 0, unread)
}
