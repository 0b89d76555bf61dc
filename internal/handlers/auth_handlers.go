package handlers

import (
	"encoding/json"
	"net/http"

	"chat-core/internal/auth"
	"chat-core/internal/models"
	"chat-core/internal/presence"
	"chat-core/internal/storage"
	"chat-core/pkg/logger"
)

type AuthHandlers struct {
	authService *auth.Service
	tracker     *presence.Tracker
	storage     storage.ObjectStorage
}

func NewAuthHandlers(authService *auth.Service, tracker *presence.Tracker, objects storage.ObjectStorage) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		tracker:     tracker,
		storage:     objects,
	}
}

func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	response, err := h.authService.Register(r.Context(), &req)
	if err != nil {
		logger.Error("Registration error: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, response)
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	response, err := h.authService.Login(r.Context(), &req)
	if err != nil {
		logger.Error("Login error: %v", err)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	// Logging in counts as a liveness signal.
	if err := h.tracker.MarkIntent(r.Context(), response.User.ID, models.PresenceOnline); err != nil {
		logger.Warn("Failed to mark login presence: %v", err)
	}

	writeJSON(w, http.StatusOK, response)
}

// Logout flips the user's intent to offline. The token stays valid until it
// expires; identity revocation is out of scope here.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	user, err := userFromRequest(r, h.authService)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	if err := h.tracker.MarkIntent(r.Context(), user.ID, models.PresenceOffline); err != nil {
		logger.Warn("Failed to mark logout presence: %v", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	user, err := userFromRequest(r, h.authService)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	user.PasswordHash = ""
	writeJSON(w, http.StatusOK, user)
}

func (h *AuthHandlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	user, err := userFromRequest(r, h.authService)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	var req models.UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	updated, err := h.authService.UpdateProfile(r.Context(), user.ID, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// UploadAvatar stores the image under the user's namespace and points the
// profile at it.
func (h *AuthHandlers) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	user, err := userFromRequest(r, h.authService)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	file, header, err := r.FormFile("avatar")
	if err != nil {
		http.Error(w, "avatar file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	url, err := h.storage.Put(r.Context(), "avatars/"+user.ID+"/"+header.Filename, file, header.Size, nil)
	if err != nil {
		writeError(w, err)
		return
	}

	updated, err := h.authService.UpdateProfile(r.Context(), user.ID, &models.UpdateProfileRequest{
		Username:  user.Username,
		AvatarURL: &url,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
