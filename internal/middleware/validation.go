package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/helpdeskhq/support-chat/internal/model"
)

// opaqueIDLength is the length of generated session IDs and secret tokens.
const opaqueIDLength = 32

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if len(content) == 0 {
		return errors.New("content cannot be empty")
	}
	if len(content) > 100000 { // ~100KB limit
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateMessageType validates the message type enum, allowing empty (the
// store defaults it to text).
func ValidateMessageType(t model.MessageType) error {
	switch t {
	case "", model.MessageText, model.MessageImage, model.MessageFile, model.MessageEvent:
		return nil
	}
	return errors.New("invalid message type")
}

// ValidateSessionID validates a session's public handle.
func ValidateSessionID(id string) error {
	if len(id) != opaqueIDLength {
		return errors.New("invalid session ID format")
	}
	return nil
}

// ValidateAppID validates an application / tenant scope ID.
func ValidateAppID(id string) error {
	if len(id) == 0 {
		return errors.New("app ID cannot be empty")
	}
	if len(id) > 64 {
		return errors.New("app ID exceeds maximum length")
	}
	return nil
}

// ValidateNickname validates a guest-supplied nickname.
func ValidateNickname(nickname string) error {
	if len(nickname) > 64 {
		return errors.New("nickname exceeds maximum length")
	}
	if !utf8.ValidString(nickname) {
		return errors.New("nickname must be valid UTF-8")
	}
	return nil
}
