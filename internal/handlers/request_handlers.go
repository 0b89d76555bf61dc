package handlers

import (
	"encoding/json"
	"net/http"

	"chat-core/internal/auth"
	"chat-core/internal/broker"
	"chat-core/internal/models"
	"chat-core/internal/store"
	"chat-core/pkg/logger"
)

type RequestHandlers struct {
	authService *auth.Service
	broker      *broker.Service
	store       *store.Service
}

func NewRequestHandlers(authService *auth.Service, reqBroker *broker.Service, msgStore *store.Service) *RequestHandlers {
	return &RequestHandlers{
		authService: authService,
		broker:      reqBroker,
		store:       msgStore,
	}
}

func (h *RequestHandlers) SendRequest(w http.ResponseWriter, r *http.Request) {
	user, err := userFromRequest(r, h.authService)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	created, err := h.broker.SendRequest(r.Context(), user, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *RequestHandlers) Respond(w http.ResponseWriter, r *http.Request) {
	user, err := userFromRequest(r, h.authService)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	requestID := r.PathValue("id")
	var req struct {
		Decision models.RequestStatus `json:"decision"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	resolved, err := h.broker.Respond(r.Context(), requestID, req.Decision, user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

// CloseChat tells the other side of a thread to close its window and clears
// the caller's own window flag.
func (h *RequestHandlers) CloseChat(w http.ResponseWriter, r *http.Request) {
	user, err := userFromRequest(r, h.authService)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	threadID := store.ThreadID(user.ID, req.UserID)
	if err := h.store.SetWindowOpen(r.Context(), threadID, user.ID, false); err != nil {
		logger.Warn("Failed to clear window flag on %s: %v", threadID, err)
	}

	if _, err := h.broker.Notify(r.Context(), req.UserID, user, models.NotifyCloseChat); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkRead is fire-and-forget: failures are logged, never surfaced.
func (h *RequestHandlers) MarkRead(w http.ResponseWriter, r *http.Request) {
	if _, err := userFromRequest(r, h.authService); err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	if err := h.broker.MarkRead(r.Context(), r.PathValue("id")); err != nil {
		logger.Warn("Failed to mark notification read: %v", err)
	}
	w.WriteHeader(http.StatusNoContent)
}
