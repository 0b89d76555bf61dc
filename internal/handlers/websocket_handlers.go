package handlers

import (
	"net/http"

	"chat-core/internal/auth"
	"chat-core/internal/broker"
	"chat-core/internal/hub"
	"chat-core/internal/models"
	"chat-core/internal/presence"
	"chat-core/internal/store"
	"chat-core/pkg/logger"

	"github.com/gorilla/websocket"
)

type WebSocketHandlers struct {
	authService *auth.Service
	store       *store.Service
	broker      *broker.Service
	tracker     *presence.Tracker
	hubManager  *hub.Manager
	upgrader    websocket.Upgrader
}

func NewWebSocketHandlers(authService *auth.Service, msgStore *store.Service, reqBroker *broker.Service, tracker *presence.Tracker, hubManager *hub.Manager) *WebSocketHandlers {
	return &WebSocketHandlers{
		authService: authService,
		store:       msgStore,
		broker:      reqBroker,
		tracker:     tracker,
		hubManager:  hubManager,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Configure for production
		},
	}
}

// Subscribe opens one long-lived subscription per socket. The stream query
// parameter selects the topic; conversation streams additionally need the
// conversation parameter. The client receives a full snapshot followed by
// deltas until it disconnects; reconnecting replaces the local view.
func (h *WebSocketHandlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	user, err := userFromRequest(r, h.authService)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	topic, snapshot, onClose, err := h.resolveStream(r, user)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	client := h.hubManager.Subscribe(topic, snapshot, onClose)
	client.ServePump(conn)
}

func (h *WebSocketHandlers) resolveStream(r *http.Request, user *models.User) (string, hub.SnapshotFunc, func(), error) {
	switch stream := r.URL.Query().Get("stream"); stream {
	case "presence":
		return hub.TopicPresence, h.tracker.Snapshot, nil, nil

	case "conversation":
		convName := r.URL.Query().Get("conversation")
		if convName == "" {
			convName = store.GeneralRoom
		}

		conv, err := h.store.Conversation(r.Context(), convName)
		if err != nil {
			// Unknown room names are provisioned on first subscribe,
			// matching the get-or-create room flow.
			conv, err = h.store.EnsureRoom(r.Context(), convName)
			if err != nil {
				return "", nil, nil, err
			}
		}
		if !h.store.CanAccess(conv, user.ID) {
			return "", nil, nil, models.ErrForbidden
		}
		return hub.TopicConversation(conv.ID), h.store.MessagesSnapshot(conv.ID), nil, nil

	case "requests:pending":
		return hub.TopicPendingRequests(user.ID), h.broker.PendingSnapshot(user.ID), nil, nil

	case "requests:resolved":
		userID := user.ID
		return hub.TopicResolvedRequests(userID),
			h.broker.ResolvedSnapshot(userID),
			func() { h.broker.CancelExpiries(userID) },
			nil

	case "notifications":
		return hub.TopicNotifications(user.ID), h.broker.UnreadSnapshot(user.ID), nil, nil

	default:
		return "", nil, nil, models.ErrValidation
	}
}
