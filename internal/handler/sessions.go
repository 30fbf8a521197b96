package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/helpdeskhq/support-chat/internal/middleware"
	"github.com/helpdeskhq/support-chat/internal/model"
	"github.com/helpdeskhq/support-chat/internal/service"
	"github.com/helpdeskhq/support-chat/internal/store"
	"github.com/helpdeskhq/support-chat/pkg/logger"
)

// SessionHandler handles the agent-facing session endpoints.
type SessionHandler struct {
	service *service.SessionService
	logger  *logger.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(svc *service.SessionService, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		service: svc,
		logger:  log,
	}
}

// List handles GET /api/v1/agent/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.List(r.Context(), listFilterFromQuery(r))
	if err != nil {
		h.logger.Error("failed to list sessions")
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Conversations handles GET /api/v1/agent/conversations
//
// The conversations view is the session list scoped to the calling agent,
// most recent activity first, which the denormalized session summary makes
// cheap.
func (h *SessionHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	filter := listFilterFromQuery(r)
	filter.AssignedAgent = middleware.GetIdentity(r.Context()).AgentID()

	resp, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list conversations")
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/agent/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := h.service.Get(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// Claim handles POST /api/v1/agent/sessions/{id}/claim
func (h *SessionHandler) Claim(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	agentID := middleware.GetIdentity(r.Context()).AgentID()
	session, err := h.service.Claim(r.Context(), sessionID, agentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// Release handles POST /api/v1/agent/sessions/{id}/release
func (h *SessionHandler) Release(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	actor := middleware.GetIdentity(r.Context()).AgentID()
	session, err := h.service.Release(r.Context(), sessionID, actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// Close handles POST /api/v1/agent/sessions/{id}/close
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	actor := middleware.GetIdentity(r.Context()).AgentID()
	session, err := h.service.Close(r.Context(), sessionID, actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

func listFilterFromQuery(r *http.Request) store.ListFilter {
	filter := store.ListFilter{
		AppID:         r.URL.Query().Get("app_id"),
		AssignedAgent: r.URL.Query().Get("assigned_to"),
		Limit:         20,
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = model.SessionStatus(status)
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			filter.Limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			filter.Offset = parsed
		}
	}

	return filter
}
