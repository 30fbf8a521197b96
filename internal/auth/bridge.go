// Package auth resolves connection credentials to identities.
//
// Agents authenticate with a signed access token; guests never authenticate
// here at all — a request without a valid agent token resolves to Anonymous
// and the action layer decides what an anonymous caller may do.
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/helpdeskhq/support-chat/internal/model"
	"github.com/helpdeskhq/support-chat/pkg/logger"
)

// TokenQueryParam is the query parameter carrying the signed token on
// connection bootstrap. EventSource clients cannot set headers at connect
// time, so the query parameter is checked first and wins over the header.
const TokenQueryParam = "jwt_token"

// Claims represents agent JWT claims. Subject is the agent ID.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// AgentDirectory looks up whether an agent account still exists. A signed
// token for a deleted agent must not grant agent privileges.
type AgentDirectory interface {
	Exists(ctx context.Context, agentID string) (bool, error)
}

// Bridge validates bearer credentials from connection-establishment requests
// and resolves them to an identity. It never aborts the request on an auth
// failure: every failure path degrades to Anonymous.
type Bridge struct {
	secret    []byte
	directory AgentDirectory
	logger    *logger.Logger
}

// NewBridge creates a bridge. directory may be nil, in which case any valid
// token subject is accepted as an existing agent.
func NewBridge(jwtSecret string, directory AgentDirectory, log *logger.Logger) *Bridge {
	return &Bridge{
		secret:    []byte(jwtSecret),
		directory: directory,
		logger:    log,
	}
}

// Resolve extracts a credential from the request and resolves it. The lookup
// order is fixed: query parameter first, then the Authorization header.
func (b *Bridge) Resolve(r *http.Request) model.Identity {
	token := b.tokenFromRequest(r)
	if token == "" {
		return model.Anonymous
	}
	return b.ResolveToken(r.Context(), token)
}

// ResolveToken validates a signed token string and resolves its subject to an
// agent identity. Invalid, expired, or orphaned tokens resolve to Anonymous.
func (b *Bridge) ResolveToken(ctx context.Context, tokenString string) model.Identity {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return b.secret, nil
	})
	if err != nil || !token.Valid {
		b.logger.Warn("token validation failed", zap.Error(err))
		return model.Anonymous
	}

	agentID := claims.Subject
	if agentID == "" {
		return model.Anonymous
	}

	if b.directory != nil {
		exists, err := b.directory.Exists(ctx, agentID)
		if err != nil {
			// Fail open to anonymous, closed to agent privileges.
			b.logger.Error("agent lookup failed", zap.String("agent_id", agentID), zap.Error(err))
			return model.Anonymous
		}
		if !exists {
			b.logger.Warn("token subject no longer exists", zap.String("agent_id", agentID))
			return model.Anonymous
		}
	}

	return model.AgentIdentity(agentID)
}

// IssueToken signs an access token for an agent.
func (b *Bridge) IssueToken(agentID, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agentID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Name: name,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(b.secret)
}

func (b *Bridge) tokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get(TokenQueryParam); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}
