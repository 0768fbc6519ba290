package api

import (
	"encoding/json"
	"net/http"

	"github.com/homeaudio/sonos-gateway/internal/apperrors"
)

// WriteJSON sends an arbitrary JSON payload.
func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}

// WriteSuccess sends {"status":"success"} merged with extra fields.
func WriteSuccess(w http.ResponseWriter, extra map[string]any) error {
	payload := map[string]any{"status": "success"}
	for k, v := range extra {
		payload[k] = v
	}
	return WriteJSON(w, http.StatusOK, payload)
}

// WriteResult sends a raw result (array or object) without the envelope,
// used by search and listing routes.
func WriteResult(w http.ResponseWriter, result any) error {
	return WriteJSON(w, http.StatusOK, result)
}

// WriteError sends {"status":"error","error":"…"} with the mapped status.
func WriteError(w http.ResponseWriter, err error) {
	appErr := apperrors.Ensure(err)
	_ = WriteJSON(w, appErr.StatusCode, map[string]any{
		"status": "error",
		"error":  appErr.Message,
	})
}
