package handlers

import (
	"net/http"

	"github.com/kozaktomas/faceauth/internal/database"
)

// HealthHandler reports liveness and which features are usable.
type HealthHandler struct {
	faceAvailable func() bool
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(faceAvailable func() bool) *HealthHandler {
	return &HealthHandler{faceAvailable: faceAvailable}
}

// Get handles the health check endpoint. The server is healthy even when
// face recognition is down; password login keeps working.
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	face := "unavailable"
	if h.faceAvailable != nil && h.faceAvailable() {
		face = "available"
	}
	storage := "none"
	if database.IsInitialized() {
		storage = database.BackendName()
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"face":     face,
		"database": storage,
	})
}
