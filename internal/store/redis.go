package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/helpdeskhq/support-chat/internal/model"
)

// RedisPersister snapshots sessions and message ledgers to Redis so a
// restarted process can rehydrate its in-memory authority. It is a
// persistence layer, not a coordination layer: session ownership stays with
// the single process.
type RedisPersister struct {
	client *redis.Client
	prefix string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix is the key prefix for all keys (default: "support:").
	Prefix string
}

// NewRedisPersister connects to Redis and verifies the connection.
func NewRedisPersister(cfg RedisConfig) (*RedisPersister, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisPersisterFromClient(client, cfg.Prefix), nil
}

// NewRedisPersisterFromClient wraps an existing client. Useful for testing
// with miniredis.
func NewRedisPersisterFromClient(client *redis.Client, prefix string) *RedisPersister {
	if prefix == "" {
		prefix = "support:"
	}
	return &RedisPersister{client: client, prefix: prefix}
}

func (p *RedisPersister) sessionsKey() string {
	return p.prefix + "sessions"
}

func (p *RedisPersister) messagesKey(sessionID string) string {
	return p.prefix + "messages:" + sessionID
}

// sessionRecord is the persisted shape of a session. The secret token is
// excluded from the session's API encoding, so persistence carries it in a
// separate field.
type sessionRecord struct {
	model.GuestSession
	SecretToken string `json:"secret_token"`
}

// SaveSession writes the full session snapshot, keyed by session ID. Saving
// the same session again overwrites the previous snapshot, so the newest
// committed state wins.
func (p *RedisPersister) SaveSession(ctx context.Context, s model.GuestSession) error {
	data, err := json.Marshal(sessionRecord{GuestSession: s, SecretToken: s.SecretToken})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := p.client.HSet(ctx, p.sessionsKey(), s.SessionID, data).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// SaveMessage writes one message keyed by its append sequence. Read-marking
// re-saves the message with the flag set.
func (p *RedisPersister) SaveMessage(ctx context.Context, m model.GuestMessage) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	field := strconv.FormatUint(m.Seq, 10)
	if err := p.client.HSet(ctx, p.messagesKey(m.SessionID), field, data).Err(); err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// Load reads every persisted session and its ledger. Message ordering is
// restored by the caller from the append sequence.
func (p *RedisPersister) Load(ctx context.Context) ([]model.GuestSession, []model.GuestMessage, error) {
	rawSessions, err := p.client.HGetAll(ctx, p.sessionsKey()).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("load sessions: %w", err)
	}

	sessions := make([]model.GuestSession, 0, len(rawSessions))
	var messages []model.GuestMessage

	for sessionID, raw := range rawSessions {
		var rec sessionRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, nil, fmt.Errorf("unmarshal session %s: %w", sessionID, err)
		}
		s := rec.GuestSession
		s.SecretToken = rec.SecretToken
		sessions = append(sessions, s)

		rawMessages, err := p.client.HGetAll(ctx, p.messagesKey(sessionID)).Result()
		if err != nil {
			return nil, nil, fmt.Errorf("load messages for %s: %w", sessionID, err)
		}
		for field, rawMsg := range rawMessages {
			var m model.GuestMessage
			if err := json.Unmarshal([]byte(rawMsg), &m); err != nil {
				return nil, nil, fmt.Errorf("unmarshal message %s/%s: %w", sessionID, field, err)
			}
			messages = append(messages, m)
		}
	}

	return sessions, messages, nil
}

// Close releases the underlying client.
func (p *RedisPersister) Close() error {
	return p.client.Close()
}
