package model

import (
	"time"
)

// SenderType identifies which side of the conversation authored a message.
type SenderType string

const (
	SenderGuest  SenderType = "guest"
	SenderAgent  SenderType = "agent"
	SenderSystem SenderType = "system"
)

// MessageType classifies the message payload.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
	MessageEvent MessageType = "event"
)

// GuestMessage is one entry in a session's append-only ledger.
//
// Seq is assigned by the store at append time and is the authoritative
// ordering key; CreatedAt is informational and timestamp ties are irrelevant.
// Nothing is ever mutated after append except the IsRead flag.
type GuestMessage struct {
	Seq        uint64            `json:"seq"`
	SessionID  string            `json:"session_id"`
	SenderType SenderType        `json:"sender_type"`
	Sender     string            `json:"sender,omitempty"`
	Content    string            `json:"content"`
	Type       MessageType       `json:"message_type"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	IsRead     bool              `json:"is_read"`
	CreatedAt  time.Time         `json:"created_at"`
}

// SendMessageRequest is the request body for both guest and agent sends.
type SendMessageRequest struct {
	Content string      `json:"content"`
	Type    MessageType `json:"message_type,omitempty"`
}

// AgentSendMessageRequest is the agent-side send body. Sender defaults to
// the caller's resolved identity; a mismatching explicit sender is rejected.
type AgentSendMessageRequest struct {
	Content string      `json:"content"`
	Type    MessageType `json:"message_type,omitempty"`
	Sender  string      `json:"sender,omitempty"`
}

// MarkReadRequest marks all counterpart messages up to UpToSeq as read.
type MarkReadRequest struct {
	UpToSeq uint64 `json:"up_to_seq"`
}

// ListMessagesResponse is the response for message history queries.
type ListMessagesResponse struct {
	Messages []GuestMessage `json:"messages"`
	Total    int            `json:"total"`
}

// UnreadCountResponse reports unread messages addressed to one side.
type UnreadCountResponse struct {
	SessionID string `json:"session_id"`
	Unread    int    `json:"unread"`
}
