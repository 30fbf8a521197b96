package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/helpdeskhq/support-chat/internal/model"
)

const (
	// StreamName is the name of the support stream holding the durable
	// message archive and audit trail.
	StreamName = "SUPPORT"

	// SubjectPrefix is the prefix for all support subjects.
	SubjectPrefix = "support"
)

// StreamManager handles JetStream stream operations. Publishes are an
// archive of what the in-memory authority already committed; callers treat
// failures as log-only.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the support stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	// Check if stream exists
	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil // Stream already exists
	}

	// Create stream
	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      365 * 24 * time.Hour,     // 1 year
		MaxBytes:    100 * 1024 * 1024 * 1024, // 100GB
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Guest support messages and audit events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// MessageSubject returns the archive subject for a message.
func MessageSubject(appID, sessionID string, sender model.SenderType) string {
	return fmt.Sprintf("%s.%s.%s.msg.%s", SubjectPrefix, appID, sessionID, sender)
}

// AuditSubject returns the subject for an audit event.
func AuditSubject(action string) string {
	return fmt.Sprintf("%s.audit.%s", SubjectPrefix, action)
}

// SessionFilter returns the filter subject for all archived messages of a
// session.
func SessionFilter(appID, sessionID string) string {
	return fmt.Sprintf("%s.%s.%s.>", SubjectPrefix, appID, sessionID)
}

// PublishMessage archives an appended message to JetStream.
func (m *StreamManager) PublishMessage(ctx context.Context, appID string, msg *model.GuestMessage) (uint64, error) {
	subject := MessageSubject(appID, msg.SessionID, msg.SenderType)

	data, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal message: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, subject, data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish message: %w", err)
	}

	return ack.Sequence, nil
}

// PublishAudit publishes an audit event to JetStream.
func (m *StreamManager) PublishAudit(ctx context.Context, action string, payload any) (uint64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal audit event: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, AuditSubject(action), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish audit event: %w", err)
	}

	return ack.Sequence, nil
}
