// Package gateway tracks live connections and routes push notifications to
// them. It is a runtime registry keyed by identity: delivery to a live peer
// is best-effort, persistence is the ledger's job.
package gateway

import (
	"sync"

	"github.com/helpdeskhq/support-chat/internal/model"
	"github.com/helpdeskhq/support-chat/pkg/metrics"
)

// frameBuffer is the outbound buffer per connection. A slow consumer drops
// frames rather than blocking the sender.
const frameBuffer = 16

// Frame is one server-to-client notification.
type Frame struct {
	Event   string              `json:"event"`
	Message *model.GuestMessage `json:"message,omitempty"`
	Session *model.GuestSession `json:"session,omitempty"`
	Code    string              `json:"code,omitempty"`
	Reason  string              `json:"reason,omitempty"`
}

// Frame event names.
const (
	EventMessage = "message"
	EventSession = "session"
	EventError   = "error"
)

// GuestKey identifies the guest side of a session.
func GuestKey(sessionID string) string {
	return "guest|" + sessionID
}

// AgentKey identifies one agent's connection to a session.
func AgentKey(sessionID, agentID string) string {
	return "agent|" + sessionID + "|" + agentID
}

// Connection is one bound push target. Frames stops yielding when the
// connection is superseded by a newer one for the same key.
type Connection struct {
	id     uint64
	frames chan Frame
}

// Frames returns the outbound frame channel. It is closed when the
// connection is superseded.
func (c *Connection) Frames() <-chan Frame {
	return c.frames
}

// Registry maps identity keys to their single live push target.
type Registry struct {
	mu     sync.Mutex
	conns  map[string]*Connection
	nextID uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

// Bind registers a connection for the key. If a connection already exists,
// the newer one wins: the superseded connection's frame channel is closed
// and the core makes no delivery guarantee to it.
func (r *Registry) Bind(key string) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.conns[key]; ok {
		close(old.frames)
	}

	r.nextID++
	conn := &Connection{
		id:     r.nextID,
		frames: make(chan Frame, frameBuffer),
	}
	r.conns[key] = conn
	return conn
}

// Unbind removes the connection if it is still the current push target.
// A connection superseded by a newer bind unbinds as a no-op. Unbinding
// never touches session state: disconnection is not a lifecycle event.
func (r *Registry) Unbind(key string, conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.conns[key]
	if !ok || current.id != conn.id {
		return
	}
	delete(r.conns, key)
	close(current.frames)
}

// Push delivers a frame to the key's live connection, if any. The send never
// blocks: with no target or a full buffer the frame is dropped and only
// counted.
func (r *Registry) Push(key string, frame Frame) {
	// The non-blocking send happens under the lock so it cannot race a
	// concurrent Bind or Unbind closing the channel.
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[key]
	if !ok {
		metrics.RecordPush("no_target")
		return
	}

	select {
	case conn.frames <- frame:
		metrics.RecordPush("delivered")
	default:
		metrics.RecordPush("dropped")
	}
}
