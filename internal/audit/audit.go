// Package audit records session lifecycle events for the external audit
// collaborator. Recording is fire-and-forget: a failed record never blocks
// or fails the operation that triggered it.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	natsclient "github.com/helpdeskhq/support-chat/internal/nats"
	"github.com/helpdeskhq/support-chat/pkg/logger"
	"github.com/helpdeskhq/support-chat/pkg/metrics"
)

// Action codes for session lifecycle events.
const (
	ActionClaim    = "session_claim"
	ActionReassign = "session_reassign"
	ActionRelease  = "session_release"
	ActionClose    = "session_close"
)

// SystemActor identifies events triggered by internal policy rather than a
// person, such as idle auto-close.
const SystemActor = "system"

// Event is one audit record.
type Event struct {
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	Target     string    `json:"target"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Recorder records audit events.
type Recorder interface {
	Record(ctx context.Context, actor, action, target string)
}

// StreamRecorder publishes audit events to the JetStream audit subjects.
type StreamRecorder struct {
	streams *natsclient.StreamManager
	logger  *logger.Logger
}

// NewStreamRecorder creates a recorder backed by the support stream.
func NewStreamRecorder(streams *natsclient.StreamManager, log *logger.Logger) *StreamRecorder {
	return &StreamRecorder{streams: streams, logger: log}
}

// Record publishes one event. Failures are logged and counted, nothing more.
func (r *StreamRecorder) Record(ctx context.Context, actor, action, target string) {
	event := Event{
		Actor:      actor,
		Action:     action,
		Target:     target,
		OccurredAt: time.Now(),
	}

	if _, err := r.streams.PublishAudit(ctx, action, event); err != nil {
		metrics.AuditPublishFailures.Inc()
		r.logger.Error("audit publish failed",
			zap.String("action", action),
			zap.String("target", target),
			zap.Error(err),
		)
	}
}

// Nop is a Recorder that discards everything. Useful in tests.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(ctx context.Context, actor, action, target string) {}
