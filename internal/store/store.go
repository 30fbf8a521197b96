// Package store owns guest session lifecycle and the per-session message
// ledger. It is the single authority for session state: all mutations are
// serialized per session, and an append commits the message and the session
// summary together or not at all.
package store

import (
	"context"
	"time"

	"github.com/helpdeskhq/support-chat/internal/model"
)

// ListFilter narrows agent-facing session listings. Zero values match all.
type ListFilter struct {
	AppID         string
	Status        model.SessionStatus
	AssignedAgent string
	Limit         int
	Offset        int
}

// AppendRequest carries one message into a session's ledger. Authorization
// happens in the service layer; the store only enforces lifecycle rules.
type AppendRequest struct {
	SenderType model.SenderType
	Sender     string
	Content    string
	Type       model.MessageType
	Metadata   map[string]string
}

// ClaimResult reports what a claim actually did, so the caller can emit the
// right audit event.
type ClaimResult struct {
	Session       model.GuestSession
	Reassigned    bool
	PreviousAgent string
}

// Persister is a write-behind persistence hook. Saves are invoked after a
// mutation has committed in memory and must never influence the outcome of
// the triggering operation; Load rehydrates the store at boot.
type Persister interface {
	SaveSession(ctx context.Context, s model.GuestSession) error
	SaveMessage(ctx context.Context, m model.GuestMessage) error
	Load(ctx context.Context) ([]model.GuestSession, []model.GuestMessage, error)
}

// Counterpart returns the side a message from sender is addressed to.
// System messages address the guest.
func Counterpart(sender model.SenderType) model.SenderType {
	if sender == model.SenderGuest {
		return model.SenderAgent
	}
	return model.SenderGuest
}

// addressedTo reports whether a message authored by sender is addressed to
// reader. Guest-authored messages are read by agents and vice versa; system
// messages are addressed to the guest.
func addressedTo(sender, reader model.SenderType) bool {
	return Counterpart(sender) == reader
}

// isIdleBefore reports whether a session has seen no activity since cutoff.
// Messages, lifecycle transitions, and presence touches all count as
// activity; sessions with none of those fall back to their creation time.
func isIdleBefore(s *model.GuestSession, cutoff time.Time) bool {
	last := s.CreatedAt
	if s.UpdatedAt.After(last) {
		last = s.UpdatedAt
	}
	if s.LastMessageAt != nil && s.LastMessageAt.After(last) {
		last = *s.LastMessageAt
	}
	return last.Before(cutoff)
}
