package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/helpdeskhq/support-chat/internal/model"
	"github.com/helpdeskhq/support-chat/pkg/logger"
)

func newTestPersister(t *testing.T) *RedisPersister {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisPersisterFromClient(client, "")
}

func TestRedisPersister_SessionRoundTrip(t *testing.T) {
	p := newTestPersister(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	session := model.GuestSession{
		Seq:           3,
		SessionID:     "aaaabbbbccccddddeeeeffff00001111",
		SecretToken:   "11112222333344445555666677778888",
		AppID:         "shop1",
		Nickname:      "Ada",
		Status:        model.StatusActive,
		AssignedAgent: "agent-a",
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	require.NoError(t, p.SaveSession(ctx, session))

	sessions, messages, err := p.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, messages)
	require.Len(t, sessions, 1)

	got := sessions[0]
	require.Equal(t, session.SessionID, got.SessionID)
	require.Equal(t, session.SecretToken, got.SecretToken, "secret token must survive persistence")
	require.Equal(t, session.Status, got.Status)
	require.Equal(t, session.AssignedAgent, got.AssignedAgent)
	require.Equal(t, session.Seq, got.Seq)
}

func TestRedisPersister_MessageOverwriteKeepsReadFlag(t *testing.T) {
	p := newTestPersister(t)
	ctx := context.Background()

	msg := model.GuestMessage{
		Seq:        7,
		SessionID:  "aaaabbbbccccddddeeeeffff00001111",
		SenderType: model.SenderGuest,
		Content:    "hello",
		Type:       model.MessageText,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, p.SaveMessage(ctx, msg))

	// Re-saving after a read-mark overwrites the same field.
	msg.IsRead = true
	require.NoError(t, p.SaveMessage(ctx, msg))

	// The message is orphaned without its session; save one so Load finds it.
	require.NoError(t, p.SaveSession(ctx, model.GuestSession{
		SessionID:   msg.SessionID,
		SecretToken: "11112222333344445555666677778888",
		Status:      model.StatusPending,
	}))

	_, messages, err := p.Load(ctx)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.True(t, messages[0].IsRead)
	require.Equal(t, uint64(7), messages[0].Seq)
}

func TestMemory_RehydrateFromPersister(t *testing.T) {
	p := newTestPersister(t)
	ctx := context.Background()

	origin := NewMemory(p, logger.NewNop())
	session, err := origin.CreateSession(ctx, &model.InitSessionRequest{AppID: "shop1", Nickname: "Ada"})
	require.NoError(t, err)

	_, err = origin.Claim(ctx, session.SessionID, "agent-a")
	require.NoError(t, err)

	for _, content := range []string{"first", "second", "third"} {
		_, err = origin.Append(ctx, session.SessionID, AppendRequest{SenderType: model.SenderGuest, Content: content})
		require.NoError(t, err)
	}

	// Persistence is write-behind; wait for the snapshots to land.
	require.Eventually(t, func() bool {
		sessions, messages, err := p.Load(ctx)
		return err == nil && len(sessions) == 1 && len(messages) == 3
	}, 2*time.Second, 10*time.Millisecond)

	restored := NewMemory(p, logger.NewNop())
	require.NoError(t, restored.Rehydrate(ctx))

	got, err := restored.GetSessionByToken(ctx, session.SecretToken)
	require.NoError(t, err)
	require.Equal(t, session.SessionID, got.SessionID)
	require.Equal(t, model.StatusActive, got.Status)
	require.Equal(t, "agent-a", got.AssignedAgent)

	messages, err := restored.ListMessages(ctx, session.SessionID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	require.Equal(t, "first", messages[0].Content)
	require.Equal(t, "third", messages[2].Content)

	// Sequence counters continue past the rehydrated high-water mark.
	next, err := restored.Append(ctx, session.SessionID, AppendRequest{SenderType: model.SenderAgent, Sender: "agent-a", Content: "fourth"})
	require.NoError(t, err)
	require.Greater(t, next.Seq, messages[2].Seq)
}
