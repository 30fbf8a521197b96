package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/helpdeskhq/support-chat/internal/model"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeDomainError maps the error taxonomy to HTTP statuses. Store and
// ledger errors reach the caller; nothing is swallowed here.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, model.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, model.ErrSessionClosed):
		writeError(w, http.StatusConflict, "session closed")
	case errors.Is(err, model.ErrConflict):
		writeError(w, http.StatusConflict, "session already claimed")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
