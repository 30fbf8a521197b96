package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/helpdeskhq/support-chat/internal/audit"
	"github.com/helpdeskhq/support-chat/internal/auth"
	"github.com/helpdeskhq/support-chat/internal/gateway"
	"github.com/helpdeskhq/support-chat/internal/middleware"
	"github.com/helpdeskhq/support-chat/internal/model"
	"github.com/helpdeskhq/support-chat/internal/service"
	"github.com/helpdeskhq/support-chat/internal/store"
	"github.com/helpdeskhq/support-chat/pkg/logger"
)

type apiFixture struct {
	server *httptest.Server
	bridge *auth.Bridge
}

// newAPIFixture assembles the full HTTP surface the way the server wires it,
// minus the external collaborators (NATS, Redis, rate limiting).
func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	log := logger.NewNop()

	st := store.NewMemory(nil, log)
	directory := auth.NewStaticDirectory("agent-a", "agent-b")
	bridge := auth.NewBridge("test-secret", directory, log)
	registry := gateway.NewRegistry()

	sessionSvc := service.NewSessionService(st, audit.Nop{}, log)
	messageSvc := service.NewMessageService(st, registry, nil, log)

	guestHandler := NewGuestHandler(sessionSvc, messageSvc, log)
	sessionHandler := NewSessionHandler(sessionSvc, log)
	messageHandler := NewMessageHandler(messageSvc, log)
	streamHandler := NewStreamHandler(sessionSvc, messageSvc, registry, log)
	tokenHandler := NewTokenHandler(bridge, time.Hour, log)

	r := chi.NewRouter()
	r.Use(middleware.ResolveIdentity(bridge))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/guest", func(r chi.Router) {
			r.Post("/sessions", guestHandler.InitSession)
			r.Post("/messages", guestHandler.Send)
			r.Get("/messages/history", guestHandler.History)
			r.Post("/messages/read", guestHandler.MarkRead)
			r.Get("/stream", streamHandler.GuestStream)
		})

		r.Route("/agent", func(r chi.Router) {
			r.Use(middleware.RequireAgent)

			r.Post("/token", tokenHandler.Refresh)
			r.Get("/conversations", sessionHandler.Conversations)

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", sessionHandler.List)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", sessionHandler.Get)
					r.Post("/claim", sessionHandler.Claim)
					r.Post("/release", sessionHandler.Release)
					r.Post("/close", sessionHandler.Close)

					r.Get("/messages", messageHandler.List)
					r.Post("/messages", messageHandler.Send)
					r.Post("/messages/read", messageHandler.MarkRead)
					r.Get("/unread", messageHandler.UnreadCount)

					r.Get("/stream", streamHandler.AgentStream)
				})
			})
		})
	})

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &apiFixture{server: server, bridge: bridge}
}

func (f *apiFixture) agentToken(t *testing.T, agentID string) string {
	t.Helper()
	token, err := f.bridge.IssueToken(agentID, "", time.Hour)
	require.NoError(t, err)
	return token
}

// do sends a JSON request and decodes the JSON response into out (when out
// is non-nil). headers are alternating key, value pairs.
func (f *apiFixture) do(t *testing.T, method, path string, body interface{}, out interface{}, headers ...string) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *apiFixture) initSession(t *testing.T, appID string) model.InitSessionResponse {
	t.Helper()
	var resp model.InitSessionResponse
	status := f.do(t, http.MethodPost, "/api/v1/guest/sessions",
		&model.InitSessionRequest{AppID: appID, Nickname: "Ada"}, &resp)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, resp.SessionID)
	require.NotEmpty(t, resp.SecretToken)
	require.Equal(t, model.StatusPending, resp.Status)
	return resp
}

func TestConversationFlow(t *testing.T) {
	f := newAPIFixture(t)
	agentAuth := []string{"Authorization", "Bearer " + f.agentToken(t, "agent-a")}

	// Guest opens a session.
	boot := f.initSession(t, "shop1")
	sessionPath := "/api/v1/agent/sessions/" + boot.SessionID

	// An unauthenticated claim is rejected before reaching the session.
	status := f.do(t, http.MethodPost, sessionPath+"/claim", nil, nil)
	require.Equal(t, http.StatusUnauthorized, status)

	// The agent claims: pending -> active.
	var session model.GuestSession
	status = f.do(t, http.MethodPost, sessionPath+"/claim", nil, &session, agentAuth...)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, model.StatusActive, session.Status)
	require.Equal(t, "agent-a", session.AssignedAgent)

	// Guest sends a message, authorized only by the secret token.
	var guestMsg model.GuestMessage
	status = f.do(t, http.MethodPost, "/api/v1/guest/messages",
		&model.SendMessageRequest{Content: "hello"}, &guestMsg,
		SecretTokenHeader, boot.SecretToken)
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, model.SenderGuest, guestMsg.SenderType)
	require.Equal(t, "hello", guestMsg.Content)

	// A wrong token cannot send into the session.
	status = f.do(t, http.MethodPost, "/api/v1/guest/messages",
		&model.SendMessageRequest{Content: "spoofed"}, nil,
		SecretTokenHeader, strings.Repeat("f", 32))
	require.Equal(t, http.StatusUnauthorized, status)

	// The agent sees one unread guest message.
	var unread model.UnreadCountResponse
	status = f.do(t, http.MethodGet, sessionPath+"/unread", nil, &unread, agentAuth...)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 1, unread.Unread)

	// Mark it read; the count drops to zero and re-marking is a no-op.
	var marked map[string]int
	status = f.do(t, http.MethodPost, sessionPath+"/messages/read",
		&model.MarkReadRequest{UpToSeq: guestMsg.Seq}, &marked, agentAuth...)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 1, marked["marked"])

	status = f.do(t, http.MethodPost, sessionPath+"/messages/read",
		&model.MarkReadRequest{UpToSeq: guestMsg.Seq}, &marked, agentAuth...)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 0, marked["marked"])

	status = f.do(t, http.MethodGet, sessionPath+"/unread", nil, &unread, agentAuth...)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 0, unread.Unread)

	// The agent replies; the guest history shows both messages in order.
	var agentMsg model.GuestMessage
	status = f.do(t, http.MethodPost, sessionPath+"/messages",
		&model.AgentSendMessageRequest{Content: "how can I help?"}, &agentMsg, agentAuth...)
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, "agent-a", agentMsg.Sender)

	var history model.ListMessagesResponse
	status = f.do(t, http.MethodGet, "/api/v1/guest/messages/history", nil, &history,
		SecretTokenHeader, boot.SecretToken)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 2, history.Total)
	require.Equal(t, "hello", history.Messages[0].Content)
	require.Equal(t, "how can I help?", history.Messages[1].Content)

	// The agent closes the session; closed is terminal.
	status = f.do(t, http.MethodPost, sessionPath+"/close", nil, &session, agentAuth...)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, model.StatusClosed, session.Status)

	status = f.do(t, http.MethodPost, "/api/v1/guest/messages",
		&model.SendMessageRequest{Content: "too late"}, nil,
		SecretTokenHeader, boot.SecretToken)
	require.Equal(t, http.StatusConflict, status)

	// The ledger survives the close.
	status = f.do(t, http.MethodGet, "/api/v1/guest/messages/history", nil, &history,
		SecretTokenHeader, boot.SecretToken)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 2, history.Total)
}

func TestAgentSurface_RejectsNonAgents(t *testing.T) {
	f := newAPIFixture(t)

	// No credential at all.
	status := f.do(t, http.MethodGet, "/api/v1/agent/sessions/", nil, nil)
	require.Equal(t, http.StatusUnauthorized, status)

	// An expired token resolves to anonymous, which the agent surface rejects.
	expired, err := f.bridge.IssueToken("agent-a", "", -time.Minute)
	require.NoError(t, err)
	status = f.do(t, http.MethodGet, "/api/v1/agent/sessions/", nil, nil,
		"Authorization", "Bearer "+expired)
	require.Equal(t, http.StatusUnauthorized, status)

	// A token for an agent missing from the directory grants nothing.
	orphan, err := f.bridge.IssueToken("agent-gone", "", time.Hour)
	require.NoError(t, err)
	status = f.do(t, http.MethodGet, "/api/v1/agent/sessions/", nil, nil,
		"Authorization", "Bearer "+orphan)
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestTokenRefresh(t *testing.T) {
	f := newAPIFixture(t)

	// Only an authenticated agent can mint a fresh token.
	status := f.do(t, http.MethodPost, "/api/v1/agent/token", nil, nil)
	require.Equal(t, http.StatusUnauthorized, status)

	var refreshed model.TokenResponse
	status = f.do(t, http.MethodPost, "/api/v1/agent/token", nil, &refreshed,
		"Authorization", "Bearer "+f.agentToken(t, "agent-a"))
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, refreshed.AccessToken)
	require.Equal(t, int64(3600), refreshed.ExpiresIn)

	// The refreshed token resolves to the same agent.
	status = f.do(t, http.MethodGet, "/api/v1/agent/conversations", nil, nil,
		"Authorization", "Bearer "+refreshed.AccessToken)
	require.Equal(t, http.StatusOK, status)
}

func TestAgentSend_SenderMismatchRejected(t *testing.T) {
	f := newAPIFixture(t)
	agentAuth := []string{"Authorization", "Bearer " + f.agentToken(t, "agent-a")}

	boot := f.initSession(t, "shop1")
	sessionPath := "/api/v1/agent/sessions/" + boot.SessionID

	status := f.do(t, http.MethodPost, sessionPath+"/claim", nil, nil, agentAuth...)
	require.Equal(t, http.StatusOK, status)

	// Claiming someone else's identity in the body is rejected.
	status = f.do(t, http.MethodPost, sessionPath+"/messages",
		&model.AgentSendMessageRequest{Content: "hi", Sender: "agent-b"}, nil, agentAuth...)
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestSessionReassignment(t *testing.T) {
	f := newAPIFixture(t)
	authA := []string{"Authorization", "Bearer " + f.agentToken(t, "agent-a")}
	authB := []string{"Authorization", "Bearer " + f.agentToken(t, "agent-b")}

	boot := f.initSession(t, "shop1")
	sessionPath := "/api/v1/agent/sessions/" + boot.SessionID

	var session model.GuestSession
	status := f.do(t, http.MethodPost, sessionPath+"/claim", nil, &session, authA...)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "agent-a", session.AssignedAgent)

	status = f.do(t, http.MethodPost, sessionPath+"/claim", nil, &session, authB...)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "agent-b", session.AssignedAgent)
	require.Equal(t, model.StatusActive, session.Status)

	// Conversations scope to the calling agent.
	var conversations model.ListSessionsResponse
	status = f.do(t, http.MethodGet, "/api/v1/agent/conversations", nil, &conversations, authB...)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 1, conversations.Total)

	status = f.do(t, http.MethodGet, "/api/v1/agent/conversations", nil, &conversations, authA...)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 0, conversations.Total)
}

func TestSessionList_Filters(t *testing.T) {
	f := newAPIFixture(t)
	agentAuth := []string{"Authorization", "Bearer " + f.agentToken(t, "agent-a")}

	f.initSession(t, "shop1")
	f.initSession(t, "shop1")
	f.initSession(t, "shop2")

	var resp model.ListSessionsResponse
	status := f.do(t, http.MethodGet, "/api/v1/agent/sessions/?app_id=shop1", nil, &resp, agentAuth...)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 2, resp.Total)

	status = f.do(t, http.MethodGet, "/api/v1/agent/sessions/?status=pending&limit=1", nil, &resp, agentAuth...)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 3, resp.Total)
	require.Len(t, resp.Sessions, 1)
	require.True(t, resp.HasMore)
}

func TestGuestStream_InvalidTokenRejected(t *testing.T) {
	f := newAPIFixture(t)

	resp, err := f.server.Client().Get(f.server.URL + "/api/v1/guest/stream?token=" + strings.Repeat("f", 32))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = f.server.Client().Get(f.server.URL + "/api/v1/guest/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	name string
	data string
}

func readSSEEvent(t *testing.T, reader *bufio.Reader) sseEvent {
	t.Helper()
	var event sseEvent
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			event.data = strings.TrimPrefix(line, "data: ")
		case line == "" && event.name != "":
			return event
		}
	}
}

func TestGuestStream_ReplayThenLive(t *testing.T) {
	f := newAPIFixture(t)
	agentAuth := []string{"Authorization", "Bearer " + f.agentToken(t, "agent-a")}

	boot := f.initSession(t, "shop1")
	sessionPath := "/api/v1/agent/sessions/" + boot.SessionID

	status := f.do(t, http.MethodPost, sessionPath+"/claim", nil, nil, agentAuth...)
	require.Equal(t, http.StatusOK, status)

	// One message already in the ledger before the guest connects.
	status = f.do(t, http.MethodPost, sessionPath+"/messages",
		&model.AgentSendMessageRequest{Content: "welcome"}, nil, agentAuth...)
	require.Equal(t, http.StatusCreated, status)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/v1/guest/stream?token=%s", f.server.URL, boot.SecretToken), nil)
	require.NoError(t, err)

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)

	event := readSSEEvent(t, reader)
	require.Equal(t, "connected", event.name)

	// Replay delivers the pre-existing ledger entry.
	event = readSSEEvent(t, reader)
	require.Equal(t, gateway.EventMessage, event.name)
	var replayed model.GuestMessage
	require.NoError(t, json.Unmarshal([]byte(event.data), &replayed))
	require.Equal(t, "welcome", replayed.Content)

	event = readSSEEvent(t, reader)
	require.Equal(t, "replay_complete", event.name)
	var replay ReplayCompleteEvent
	require.NoError(t, json.Unmarshal([]byte(event.data), &replay))
	require.Equal(t, 1, replay.MessageCount)
	require.Equal(t, replayed.Seq, replay.LastSeq)

	// A live agent message is pushed over the open stream.
	status = f.do(t, http.MethodPost, sessionPath+"/messages",
		&model.AgentSendMessageRequest{Content: "still there?"}, nil, agentAuth...)
	require.Equal(t, http.StatusCreated, status)

	event = readSSEEvent(t, reader)
	require.Equal(t, gateway.EventMessage, event.name)
	var frame gateway.Frame
	require.NoError(t, json.Unmarshal([]byte(event.data), &frame))
	require.NotNil(t, frame.Message)
	require.Equal(t, "still there?", frame.Message.Content)
}
