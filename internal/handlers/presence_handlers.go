package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"chat-core/internal/auth"
	"chat-core/internal/models"
	"chat-core/internal/presence"
	"chat-core/pkg/logger"
)

type PresenceHandlers struct {
	authService *auth.Service
	tracker     *presence.Tracker
}

func NewPresenceHandlers(authService *auth.Service, tracker *presence.Tracker) *PresenceHandlers {
	return &PresenceHandlers{
		authService: authService,
		tracker:     tracker,
	}
}

// Heartbeat always answers 204: a failed presence write degrades accuracy
// only, and the client's next scheduled tick is the retry.
func (h *PresenceHandlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	user, err := userFromRequest(r, h.authService)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	if err := h.tracker.Heartbeat(r.Context(), user.ID); err != nil {
		logger.Warn("Heartbeat failed for %s: %v", user.ID, err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PresenceHandlers) Intent(w http.ResponseWriter, r *http.Request) {
	user, err := userFromRequest(r, h.authService)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	var req struct {
		Intent models.Presence `json:"intent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if err := h.tracker.MarkIntent(r.Context(), user.ID, req.Intent); err != nil {
		if errors.Is(err, models.ErrValidation) {
			writeError(w, err)
			return
		}
		// Background-sync path: swallow everything else.
		logger.Warn("Intent update failed for %s: %v", user.ID, err)
	}
	w.WriteHeader(http.StatusNoContent)
}
