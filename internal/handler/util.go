// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/capitalize-ai/chatdesk/internal/store"
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

// authorize verifies the request's authenticated user matches the identity
// bound to the store. The workspace is single-user; any other subject gets a
// 403.
func authorize(w http.ResponseWriter, userID string, s *store.Store) bool {
	identity := s.Identity()
	if identity == nil {
		writeError(w, http.StatusServiceUnavailable, "no identity bound")
		return false
	}
	if userID != identity.UserID {
		writeError(w, http.StatusForbidden, "token subject does not own this workspace")
		return false
	}
	return true
}
