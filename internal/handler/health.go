package handler

import (
	"net/http"
)

// ConnChecker reports connectivity of the durable substrate's transport.
type ConnChecker interface {
	IsConnected() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	conn ConnChecker
}

// NewHealthHandler creates a new health handler. conn may be nil when the
// in-memory substrate is in use.
func NewHealthHandler(conn ConnChecker) *HealthHandler {
	return &HealthHandler{conn: conn}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.conn != nil && !h.conn.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
