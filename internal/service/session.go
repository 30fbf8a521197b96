// Package service provides business logic for the support chat platform.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/helpdeskhq/support-chat/internal/audit"
	"github.com/helpdeskhq/support-chat/internal/model"
	"github.com/helpdeskhq/support-chat/internal/store"
	"github.com/helpdeskhq/support-chat/pkg/logger"
	"github.com/helpdeskhq/support-chat/pkg/metrics"
)

// SessionService handles guest session lifecycle operations.
type SessionService struct {
	store    *store.Memory
	recorder audit.Recorder
	logger   *logger.Logger
}

// NewSessionService creates a new session service.
func NewSessionService(st *store.Memory, recorder audit.Recorder, log *logger.Logger) *SessionService {
	return &SessionService{
		store:    st,
		recorder: recorder,
		logger:   log,
	}
}

// Create opens a new pending session and issues its handle and secret token.
func (s *SessionService) Create(ctx context.Context, req *model.InitSessionRequest) (model.GuestSession, error) {
	session, err := s.store.CreateSession(ctx, req)
	if err != nil {
		return model.GuestSession{}, err
	}

	metrics.SessionsTotal.WithLabelValues(session.AppID).Inc()
	s.logger.Info("session created",
		zap.String("session_id", session.SessionID),
		zap.String("app_id", session.AppID),
	)
	return session, nil
}

// Get retrieves a session by ID.
func (s *SessionService) Get(ctx context.Context, sessionID string) (model.GuestSession, error) {
	return s.store.GetSession(ctx, sessionID)
}

// GetByToken retrieves the session owning a guest secret token.
func (s *SessionService) GetByToken(ctx context.Context, secretToken string) (model.GuestSession, error) {
	return s.store.GetSessionByToken(ctx, secretToken)
}

// Touch records guest presence on the session so the idle sweeper does not
// close a conversation whose guest is still connected but quiet.
func (s *SessionService) Touch(ctx context.Context, sessionID string) error {
	return s.store.TouchActivity(ctx, sessionID, time.Now())
}

// List retrieves sessions matching the filter, most recent activity first.
func (s *SessionService) List(ctx context.Context, filter store.ListFilter) (*model.ListSessionsResponse, error) {
	sessions, total, err := s.store.ListSessions(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &model.ListSessionsResponse{
		Sessions: sessions,
		HasMore:  filter.Offset+len(sessions) < total,
		Total:    total,
	}, nil
}

// Claim assigns the session to the agent. A claim on a session held by
// another agent reassigns it; both outcomes emit an audit event.
func (s *SessionService) Claim(ctx context.Context, sessionID, agentID string) (model.GuestSession, error) {
	result, err := s.store.Claim(ctx, sessionID, agentID)
	if err != nil {
		return model.GuestSession{}, err
	}

	action := audit.ActionClaim
	if result.Reassigned {
		action = audit.ActionReassign
		s.logger.Info("session reassigned",
			zap.String("session_id", sessionID),
			zap.String("from_agent", result.PreviousAgent),
			zap.String("to_agent", agentID),
		)
	}

	metrics.SessionTransitionsTotal.WithLabelValues(action).Inc()
	s.recorder.Record(ctx, agentID, action, sessionID)
	return result.Session, nil
}

// Release returns the session to pending and clears the assignment.
func (s *SessionService) Release(ctx context.Context, sessionID, actor string) (model.GuestSession, error) {
	session, err := s.store.Release(ctx, sessionID)
	if err != nil {
		return model.GuestSession{}, err
	}

	metrics.SessionTransitionsTotal.WithLabelValues(audit.ActionRelease).Inc()
	s.recorder.Record(ctx, actor, audit.ActionRelease, sessionID)
	return session, nil
}

// Close moves the session to its terminal state.
func (s *SessionService) Close(ctx context.Context, sessionID, actor string) (model.GuestSession, error) {
	session, err := s.store.Close(ctx, sessionID)
	if err != nil {
		return model.GuestSession{}, err
	}

	metrics.SessionTransitionsTotal.WithLabelValues(audit.ActionClose).Inc()
	s.recorder.Record(ctx, actor, audit.ActionClose, sessionID)
	return session, nil
}

// CloseIdle closes every open session with no activity since cutoff and
// returns how many were closed. Used by the idle sweeper.
func (s *SessionService) CloseIdle(ctx context.Context, cutoff time.Time) (int, error) {
	idle, err := s.store.ListIdle(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, sessionID := range idle {
		if _, err := s.Close(ctx, sessionID, audit.SystemActor); err != nil {
			s.logger.Error("idle close failed", zap.String("session_id", sessionID), zap.Error(err))
			continue
		}
		closed++
	}
	return closed, nil
}
