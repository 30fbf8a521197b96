package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/helpdeskhq/support-chat/internal/gateway"
	"github.com/helpdeskhq/support-chat/internal/model"
	"github.com/helpdeskhq/support-chat/internal/store"
	"github.com/helpdeskhq/support-chat/pkg/logger"
	"github.com/helpdeskhq/support-chat/pkg/metrics"
)

// Caller carries the credentials a request presented: the resolved identity
// for agents, the session secret for guests. Either or both may be empty.
type Caller struct {
	Identity    model.Identity
	SecretToken string
}

// GuestCaller builds a caller holding a session secret token.
func GuestCaller(secretToken string) Caller {
	return Caller{SecretToken: secretToken}
}

// AgentCaller builds a caller from a resolved identity.
func AgentCaller(identity model.Identity) Caller {
	return Caller{Identity: identity}
}

// Archiver publishes appended messages to the durable archive. Publishing
// is best-effort; the ledger is authoritative.
type Archiver interface {
	PublishMessage(ctx context.Context, appID string, msg *model.GuestMessage) (uint64, error)
}

// MessageService handles the message ledger: authorized appends,
// read-marking, unread counts, and counterpart push notification.
type MessageService struct {
	store    *store.Memory
	registry *gateway.Registry
	archiver Archiver
	logger   *logger.Logger
}

// NewMessageService creates a new message service. archiver may be nil.
func NewMessageService(st *store.Memory, registry *gateway.Registry, archiver Archiver, log *logger.Logger) *MessageService {
	return &MessageService{
		store:    st,
		registry: registry,
		archiver: archiver,
		logger:   log,
	}
}

// Append authorizes the caller for the claimed sender and appends the
// message. A guest caller must hold the session's secret token; an agent
// caller's resolved identity must equal the claimed sender. The system
// sender is reserved for AppendSystem.
func (s *MessageService) Append(ctx context.Context, caller Caller, sessionID string, senderType model.SenderType, sender string, req *model.SendMessageRequest) (model.GuestMessage, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.GuestMessage{}, err
	}

	switch senderType {
	case model.SenderGuest:
		if caller.SecretToken == "" || caller.SecretToken != session.SecretToken {
			return model.GuestMessage{}, model.ErrUnauthorized
		}
		sender = ""
	case model.SenderAgent:
		if !caller.Identity.IsAgent() || caller.Identity.AgentID() != sender {
			return model.GuestMessage{}, model.ErrUnauthorized
		}
	default:
		return model.GuestMessage{}, model.ErrUnauthorized
	}

	return s.append(ctx, &session, store.AppendRequest{
		SenderType: senderType,
		Sender:     sender,
		Content:    req.Content,
		Type:       req.Type,
	})
}

// AppendSystem appends a system-authored event message, bypassing caller
// authorization. Internal use only.
func (s *MessageService) AppendSystem(ctx context.Context, sessionID, content string) (model.GuestMessage, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.GuestMessage{}, err
	}
	return s.append(ctx, &session, store.AppendRequest{
		SenderType: model.SenderSystem,
		Content:    content,
		Type:       model.MessageEvent,
	})
}

func (s *MessageService) append(ctx context.Context, session *model.GuestSession, req store.AppendRequest) (model.GuestMessage, error) {
	msg, err := s.store.Append(ctx, session.SessionID, req)
	if err != nil {
		return model.GuestMessage{}, err
	}

	metrics.MessagesTotal.WithLabelValues(session.AppID, string(msg.SenderType)).Inc()

	// Archive is best-effort: the in-memory ledger already committed.
	if s.archiver != nil {
		if _, err := s.archiver.PublishMessage(ctx, session.AppID, &msg); err != nil {
			s.logger.Error("message archive failed",
				zap.String("session_id", msg.SessionID),
				zap.Uint64("seq", msg.Seq),
				zap.Error(err),
			)
		}
	}

	s.notifyCounterpart(ctx, session, &msg)
	return msg, nil
}

// notifyCounterpart pushes the new message to the other party's live
// connection, if one exists. Fire-and-forget: the append already succeeded.
func (s *MessageService) notifyCounterpart(ctx context.Context, session *model.GuestSession, msg *model.GuestMessage) {
	frame := gateway.Frame{Event: gateway.EventMessage, Message: msg}

	if msg.SenderType == model.SenderGuest {
		// Re-read the assignment: it may have changed since the caller's
		// snapshot was taken.
		current, err := s.store.GetSession(ctx, session.SessionID)
		if err != nil || current.AssignedAgent == "" {
			metrics.RecordPush("no_target")
			return
		}
		s.registry.Push(gateway.AgentKey(session.SessionID, current.AssignedAgent), frame)
		return
	}

	s.registry.Push(gateway.GuestKey(session.SessionID), frame)
}

// List returns the full ledger in append order. Authorization is the
// caller's concern (agent middleware or guest token lookup).
func (s *MessageService) List(ctx context.Context, sessionID string) (*model.ListMessagesResponse, error) {
	messages, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &model.ListMessagesResponse{
		Messages: messages,
		Total:    len(messages),
	}, nil
}

// ListForGuest returns the ledger for the session owning the secret token.
func (s *MessageService) ListForGuest(ctx context.Context, secretToken string) (*model.ListMessagesResponse, error) {
	session, err := s.store.GetSessionByToken(ctx, secretToken)
	if err != nil {
		return nil, model.ErrUnauthorized
	}
	return s.List(ctx, session.SessionID)
}

// MarkRead marks messages addressed to readerType up to upToSeq as read.
// Idempotent.
func (s *MessageService) MarkRead(ctx context.Context, sessionID string, upToSeq uint64, readerType model.SenderType) (int, error) {
	return s.store.MarkRead(ctx, sessionID, upToSeq, readerType)
}

// MarkReadForGuest is the guest-side read-marking path, authorized by
// possession of the secret token.
func (s *MessageService) MarkReadForGuest(ctx context.Context, secretToken string, upToSeq uint64) (int, error) {
	session, err := s.store.GetSessionByToken(ctx, secretToken)
	if err != nil {
		return 0, model.ErrUnauthorized
	}
	return s.store.MarkRead(ctx, session.SessionID, upToSeq, model.SenderGuest)
}

// UnreadCount counts unread messages addressed to forType.
func (s *MessageService) UnreadCount(ctx context.Context, sessionID string, forType model.SenderType) (int, error) {
	return s.store.UnreadCount(ctx, sessionID, forType)
}
