package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/helpdeskhq/support-chat/internal/gateway"
	"github.com/helpdeskhq/support-chat/internal/middleware"
	"github.com/helpdeskhq/support-chat/internal/service"
	"github.com/helpdeskhq/support-chat/pkg/logger"
	"github.com/helpdeskhq/support-chat/pkg/metrics"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 30 * time.Second

// StreamHandler handles the SSE endpoints: one long-lived connection bound
// to one resolved identity, receiving push frames for its session.
type StreamHandler struct {
	sessionService *service.SessionService
	messageService *service.MessageService
	registry       *gateway.Registry
	logger         *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(
	sessionSvc *service.SessionService,
	msgSvc *service.MessageService,
	registry *gateway.Registry,
	log *logger.Logger,
) *StreamHandler {
	return &StreamHandler{
		sessionService: sessionSvc,
		messageService: msgSvc,
		registry:       registry,
		logger:         log,
	}
}

// ReplayCompleteEvent marks the end of history replay on connect.
type ReplayCompleteEvent struct {
	LastSeq      uint64 `json:"last_seq"`
	MessageCount int    `json:"message_count"`
}

// HeartbeatEvent keeps the connection alive.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// GuestStream handles GET /api/v1/guest/stream?token=<secretToken>
//
// The secret token is the session-bootstrap credential; it is validated once
// here, not per frame.
func (h *StreamHandler) GuestStream(w http.ResponseWriter, r *http.Request) {
	token := guestToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing secret token")
		return
	}

	session, err := h.sessionService.GetByToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	h.serve(w, r, session.SessionID, gateway.GuestKey(session.SessionID), "guest")
}

// AgentStream handles GET /api/v1/agent/sessions/{id}/stream
//
// The Identity Bridge has already resolved the connect credential; an
// anonymous result was rejected by the action-layer middleware before
// reaching here, so the identity is always an agent.
func (h *StreamHandler) AgentStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.sessionService.Get(r.Context(), sessionID); err != nil {
		writeDomainError(w, err)
		return
	}

	agentID := middleware.GetIdentity(r.Context()).AgentID()
	h.serve(w, r, sessionID, gateway.AgentKey(sessionID, agentID), "agent")
}

// serve binds the connection as the push target for key, replays the ledger,
// and forwards live frames until disconnect or supersession. Disconnecting
// unbinds without touching session state.
func (h *StreamHandler) serve(w http.ResponseWriter, r *http.Request, sessionID, key, party string) {
	ctx := r.Context()

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.SSEConnectionsActive.WithLabelValues(party).Inc()
	defer metrics.SSEConnectionsActive.WithLabelValues(party).Dec()

	conn := h.registry.Bind(key)
	defer h.registry.Unbind(key, conn)

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"session_id": sessionID,
	})

	// Replay the ledger so the client starts from a consistent point.
	// ?after_seq=N resumes from a known position.
	var afterSeq uint64
	if seqStr := r.URL.Query().Get("after_seq"); seqStr != "" {
		if seq, err := strconv.ParseUint(seqStr, 10, 64); err == nil {
			afterSeq = seq
		}
	}

	resp, err := h.messageService.List(ctx, sessionID)
	if err != nil {
		h.logger.Error("failed to replay messages", zap.Error(err), zap.String("session_id", sessionID))
		sendSSEEvent(w, flusher, gateway.EventError, gateway.Frame{
			Event:  gateway.EventError,
			Code:   "replay_error",
			Reason: "failed to replay messages",
		})
		return
	}

	var lastSeq uint64
	replayed := 0
	for i := range resp.Messages {
		msg := &resp.Messages[i]
		if msg.Seq <= afterSeq {
			continue
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		sendSSEEvent(w, flusher, gateway.EventMessage, msg)
		lastSeq = msg.Seq
		replayed++
	}

	sendSSEEvent(w, flusher, "replay_complete", &ReplayCompleteEvent{
		LastSeq:      lastSeq,
		MessageCount: replayed,
	})

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("SSE client disconnected",
				zap.String("session_id", sessionID),
				zap.String("party", party),
			)
			return

		case frame, ok := <-conn.Frames():
			if !ok {
				// A newer connection for the same identity took over.
				h.logger.Info("SSE connection superseded",
					zap.String("session_id", sessionID),
					zap.String("party", party),
				)
				return
			}
			sendSSEEvent(w, flusher, frame.Event, frame)

		case <-heartbeat.C:
			// A connected guest counts as presence even when silent.
			if party == "guest" {
				if err := h.sessionService.Touch(ctx, sessionID); err != nil {
					h.logger.Warn("presence touch failed", zap.String("session_id", sessionID), zap.Error(err))
				}
			}
			sendSSEEvent(w, flusher, "heartbeat", &HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
