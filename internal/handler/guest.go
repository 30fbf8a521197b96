package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/helpdeskhq/support-chat/internal/middleware"
	"github.com/helpdeskhq/support-chat/internal/model"
	"github.com/helpdeskhq/support-chat/internal/service"
	"github.com/helpdeskhq/support-chat/pkg/logger"
)

// SecretTokenHeader carries the guest bearer token on REST calls. The SSE
// bootstrap uses the "token" query parameter instead, since EventSource
// cannot set headers.
const SecretTokenHeader = "X-Secret-Token"

// GuestHandler handles the guest-facing surface. Guests never log in:
// possession of the session's secret token is the entire authorization.
type GuestHandler struct {
	sessionService *service.SessionService
	messageService *service.MessageService
	logger         *logger.Logger
}

// NewGuestHandler creates a new guest handler.
func NewGuestHandler(sessionSvc *service.SessionService, msgSvc *service.MessageService, log *logger.Logger) *GuestHandler {
	return &GuestHandler{
		sessionService: sessionSvc,
		messageService: msgSvc,
		logger:         log,
	}
}

// InitSession handles POST /api/v1/guest/sessions
//
// Creates a pending session and returns its handle and secret token. This
// response is the only time the secret ever leaves the server.
func (h *GuestHandler) InitSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.InitSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateAppID(req.AppID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateNickname(req.Nickname); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserAgent == "" {
		req.UserAgent = r.UserAgent()
	}

	session, err := h.sessionService.Create(ctx, &req)
	if err != nil {
		h.logger.Error("failed to create session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	writeJSON(w, http.StatusCreated, &model.InitSessionResponse{
		SessionID:   session.SessionID,
		SecretToken: session.SecretToken,
		Status:      session.Status,
	})
}

// Send handles POST /api/v1/guest/messages
func (h *GuestHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := guestToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing secret token")
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateMessageType(req.Type); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := h.sessionService.GetByToken(ctx, token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	msg, err := h.messageService.Append(ctx, service.GuestCaller(token), session.SessionID, model.SenderGuest, "", &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// History handles GET /api/v1/guest/messages/history
func (h *GuestHandler) History(w http.ResponseWriter, r *http.Request) {
	token := guestToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing secret token")
		return
	}

	resp, err := h.messageService.ListForGuest(r.Context(), token)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// MarkRead handles POST /api/v1/guest/messages/read
func (h *GuestHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	token := guestToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing secret token")
		return
	}

	var req model.MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	marked, err := h.messageService.MarkReadForGuest(r.Context(), token, req.UpToSeq)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"marked": marked})
}

// guestToken extracts the secret token from the header or, for transports
// that cannot set headers, the query string.
func guestToken(r *http.Request) string {
	if token := r.Header.Get(SecretTokenHeader); token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}
