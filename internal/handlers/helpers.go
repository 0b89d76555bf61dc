package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"chat-core/internal/auth"
	"chat-core/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses. NotFound and
// AlreadyResolved reflect benign races and carry an informational message.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, "request no longer available", http.StatusNotFound)
	case errors.Is(err, models.ErrAlreadyResolved):
		http.Error(w, "request no longer available", http.StatusConflict)
	case errors.Is(err, models.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, models.ErrUpload):
		http.Error(w, "upload failed", http.StatusBadGateway)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// bearerToken pulls the JWT from the Authorization header, falling back to
// the token query parameter for websocket upgrades.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func userFromRequest(r *http.Request, authService *auth.Service) (*models.User, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, errors.New("missing token")
	}
	return authService.GetUserFromToken(r.Context(), token)
}
