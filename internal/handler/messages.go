package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/helpdeskhq/support-chat/internal/middleware"
	"github.com/helpdeskhq/support-chat/internal/model"
	"github.com/helpdeskhq/support-chat/internal/service"
	"github.com/helpdeskhq/support-chat/pkg/logger"
)

// MessageHandler handles the agent-facing message endpoints. The with-user
// view is the per-session ledger, optionally narrowed to one sender side.
type MessageHandler struct {
	messageService *service.MessageService
	logger         *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(msgSvc *service.MessageService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		messageService: msgSvc,
		logger:         log,
	}
}

// List handles GET /api/v1/agent/sessions/{id}/messages
//
// Returns the ledger in strict append order. ?sender_type= narrows to one
// side for the with-user view.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.messageService.List(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if senderType := r.URL.Query().Get("sender_type"); senderType != "" {
		filtered := resp.Messages[:0]
		for _, msg := range resp.Messages {
			if msg.SenderType == model.SenderType(senderType) {
				filtered = append(filtered, msg)
			}
		}
		resp.Messages = filtered
		resp.Total = len(filtered)
	}

	writeJSON(w, http.StatusOK, resp)
}

// Send handles POST /api/v1/agent/sessions/{id}/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.AgentSendMessageRequest
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

	identity := middleware.GetIdentity(ctx)
	sender := req.Sender
	if sender == "" {
		sender = identity.AgentID()
	}

	msg, err := h.messageService.Append(ctx, service.AgentCaller(identity), sessionID, model.SenderAgent, sender, &model.SendMessageRequest{
		Content: req.Content,
		Type:    req.Type,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// MarkRead handles POST /api/v1/agent/sessions/{id}/messages/read
//
// Marks guest-authored messages up to the given sequence as read.
// Idempotent: re-marking is a no-op.
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	marked, err := h.messageService.MarkRead(r.Context(), sessionID, req.UpToSeq, model.SenderAgent)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"marked": marked})
}

// UnreadCount handles GET /api/v1/agent/sessions/{id}/unread
func (h *MessageHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	unread, err := h.messageService.UnreadCount(r.Context(), sessionID, model.SenderAgent)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &model.UnreadCountResponse{
		SessionID: sessionID,
		Unread:    unread,
	})
}
