package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"chat-core/internal/auth"
	"chat-core/internal/models"
	"chat-core/internal/store"
	"chat-core/pkg/logger"
)

const maxUploadBytes = 32 << 20

type MessageHandlers struct {
	authService *auth.Service
	store       *store.Service
}

func NewMessageHandlers(authService *auth.Service, msgStore *store.Service) *MessageHandlers {
	return &MessageHandlers{
		authService: authService,
		store:       msgStore,
	}
}

// SendMessage appends to a conversation. A JSON body carries a plain text
// message; a multipart body carries text plus a file, in which case the
// upload must resolve before the append happens.
func (h *MessageHandlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	user, err := userFromRequest(r, h.authService)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	convID := r.PathValue("id")
	if convID == "" {
		http.Error(w, "conversation id is required", http.StatusBadRequest)
		return
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		h.sendWithFile(w, r, convID, user)
		return
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	msg, err := h.store.Append(r.Context(), convID, user, req.Text, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandlers) sendWithFile(w http.ResponseWriter, r *http.Request, convID string, user *models.User) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	msg, err := h.store.AppendWithFile(
		r.Context(), convID, user,
		r.FormValue("text"), header.Filename,
		file, header.Size,
		func(written, total int64) {
			if total > 0 {
				logger.Debug("Upload %s: %d%%", header.Filename, written*100/total)
			}
		},
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// OpenThread provisions (or finds) the private thread with another user.
func (h *MessageHandlers) OpenThread(w http.ResponseWriter, r *http.Request) {
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

	conv, err := h.store.EnsureThread(r.Context(), user.ID, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.store.SetWindowOpen(r.Context(), conv.ID, user.ID, true); err != nil {
		logger.Warn("Failed to mark window open: %v", err)
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *MessageHandlers) SetWindow(w http.ResponseWriter, r *http.Request) {
	user, err := userFromRequest(r, h.authService)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	convID := r.PathValue("id")
	var req struct {
		Open bool `json:"open"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if err := h.store.SetWindowOpen(r.Context(), convID, user.ID, req.Open); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
