package handler

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/helpdeskhq/support-chat/internal/auth"
	"github.com/helpdeskhq/support-chat/internal/middleware"
	"github.com/helpdeskhq/support-chat/internal/model"
	"github.com/helpdeskhq/support-chat/pkg/logger"
)

// TokenHandler issues agent access tokens.
type TokenHandler struct {
	bridge *auth.Bridge
	ttl    time.Duration
	logger *logger.Logger
}

// NewTokenHandler creates a new token handler. ttl is the lifetime of issued
// tokens.
func NewTokenHandler(bridge *auth.Bridge, ttl time.Duration, log *logger.Logger) *TokenHandler {
	return &TokenHandler{
		bridge: bridge,
		ttl:    ttl,
		logger: log,
	}
}

// Refresh handles POST /api/v1/agent/token
//
// Issues a fresh token for the already-authenticated caller, so agents can
// renew a token nearing expiry without a round trip to the external issuer.
func (h *TokenHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	agentID := middleware.GetIdentity(r.Context()).AgentID()

	token, err := h.bridge.IssueToken(agentID, "", h.ttl)
	if err != nil {
		h.logger.Error("token issue failed", zap.String("agent_id", agentID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, &model.TokenResponse{
		AccessToken: token,
		ExpiresIn:   int64(h.ttl.Seconds()),
	})
}
