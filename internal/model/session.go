// Package model defines data structures for the support chat platform.
package model

import (
	"time"
)

// SessionStatus represents the lifecycle state of a guest session.
type SessionStatus string

const (
	// StatusPending means the session is open and waiting for an agent.
	StatusPending SessionStatus = "pending"
	// StatusActive means an agent has claimed the session.
	StatusActive SessionStatus = "active"
	// StatusClosed is terminal; no further messages may be appended.
	StatusClosed SessionStatus = "closed"
)

// GuestSession represents one guest's support conversation.
//
// SessionID is the public handle; SecretToken is a bearer capability known
// only to the originating guest client. Both are assigned exactly once at
// creation and never regenerated.
type GuestSession struct {
	// Seq is the store-assigned surrogate key.
	Seq uint64 `json:"seq,omitempty"`

	SessionID   string `json:"session_id"`
	SecretToken string `json:"-"`
	AppID       string `json:"app_id"`

	// Guest-supplied metadata; display and filtering only, never authorization.
	VisitorID string `json:"visitor_id,omitempty"`
	Nickname  string `json:"nickname,omitempty"`
	Contact   string `json:"contact,omitempty"`
	SourceURL string `json:"source_url,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	Status SessionStatus `json:"status"`

	// AssignedAgent is the agent currently handling the session; empty when
	// unassigned.
	AssignedAgent string `json:"assigned_agent,omitempty"`

	// Denormalized summary of the most recent message, updated atomically
	// with every append.
	LastMessage   string     `json:"last_message,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InitSessionRequest is the guest-facing request to open a session.
type InitSessionRequest struct {
	AppID     string            `json:"app_id"`
	VisitorID string            `json:"visitor_id,omitempty"`
	Nickname  string            `json:"nickname,omitempty"`
	Contact   string            `json:"contact,omitempty"`
	SourceURL string            `json:"source_url,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// InitSessionResponse returns the session handle and the bearer secret to the
// guest client. This is the only place the secret token ever leaves the server.
type InitSessionResponse struct {
	SessionID   string        `json:"session_id"`
	SecretToken string        `json:"secret_token"`
	Status      SessionStatus `json:"status"`
}

// ListSessionsResponse is the response for the agent-facing session list.
type ListSessionsResponse struct {
	Sessions []GuestSession `json:"sessions"`
	Total    int            `json:"total"`
	HasMore  bool           `json:"has_more"`
}
