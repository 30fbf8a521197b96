package gateway

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPush_NoTargetIsSilent(t *testing.T) {
	r := NewRegistry()
	require.NotPanics(t, func() {
		r.Push(GuestKey("s1"), Frame{Event: EventMessage})
	})
}

func TestBindAndPush(t *testing.T) {
	r := NewRegistry()
	conn := r.Bind(GuestKey("s1"))

	r.Push(GuestKey("s1"), Frame{Event: EventMessage, Reason: "hello"})

	frame := <-conn.Frames()
	require.Equal(t, EventMessage, frame.Event)
	require.Equal(t, "hello", frame.Reason)
}

func TestBind_LastConnectionWins(t *testing.T) {
	r := NewRegistry()
	key := GuestKey("s1")

	first := r.Bind(key)
	second := r.Bind(key)

	// The superseded connection's channel is closed.
	_, open := <-first.Frames()
	require.False(t, open)

	// Frames flow to the newest connection only.
	r.Push(key, Frame{Event: EventSession})
	frame := <-second.Frames()
	require.Equal(t, EventSession, frame.Event)
}

func TestUnbind_StaleConnectionIsNoOp(t *testing.T) {
	r := NewRegistry()
	key := AgentKey("s1", "agent-a")

	first := r.Bind(key)
	second := r.Bind(key)

	// The superseded connection unbinding must not evict its successor.
	r.Unbind(key, first)

	r.Push(key, Frame{Event: EventMessage})
	frame := <-second.Frames()
	require.Equal(t, EventMessage, frame.Event)
}

func TestUnbind_CurrentConnectionCloses(t *testing.T) {
	r := NewRegistry()
	key := GuestKey("s1")

	conn := r.Bind(key)
	r.Unbind(key, conn)

	_, open := <-conn.Frames()
	require.False(t, open)

	// Pushes after unbind are dropped, not panicking on a closed channel.
	require.NotPanics(t, func() {
		r.Push(key, Frame{Event: EventMessage})
	})
}

func TestPush_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	r := NewRegistry()
	key := GuestKey("s1")
	conn := r.Bind(key)

	// Nothing consumes conn; overfilling must not block the pusher.
	for i := 0; i < frameBuffer*2; i++ {
		r.Push(key, Frame{Event: EventMessage})
	}

	require.Len(t, conn.frames, frameBuffer)
}

func TestKeys_DistinguishParties(t *testing.T) {
	r := NewRegistry()

	guest := r.Bind(GuestKey("s1"))
	agent := r.Bind(AgentKey("s1", "agent-a"))

	r.Push(AgentKey("s1", "agent-a"), Frame{Event: EventMessage})

	require.Len(t, agent.frames, 1)
	require.Len(t, guest.frames, 0)
}
