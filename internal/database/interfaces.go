package database

import (
	"context"
	"time"

	"chat-core/internal/models"
)

type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	UpdateProfile(ctx context.Context, id, username string, avatarURL *string) error
	UpdatePresence(ctx context.Context, id string, intent models.Presence, lastSeen time.Time) error
	ListUsers(ctx context.Context) ([]*models.User, error)
}

type ConversationRepository interface {
	// CreateConversation is a no-op if the conversation already exists.
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	SetWindowOpen(ctx context.Context, convID, userID string, open bool) error
}

type MessageRepository interface {
	// AppendMessage stamps the message with a server timestamp strictly
	// greater than every prior timestamp in the same conversation and
	// bumps the conversation's last activity, all atomically.
	AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, error)
	ListMessages(ctx context.Context, convID string) ([]*models.Message, error)
}

type RequestRepository interface {
	CreateRequest(ctx context.Context, req *models.ChatRequest) error
	GetRequest(ctx context.Context, id string) (*models.ChatRequest, error)
	// ResolveRequest transitions pending -> status with compare-and-set
	// semantics: models.ErrAlreadyResolved if the request left pending
	// already, models.ErrNotFound if it does not exist.
	ResolveRequest(ctx context.Context, id string, status models.RequestStatus, respondedAt time.Time) (*models.ChatRequest, error)
	DeleteRequest(ctx context.Context, id string) error
	ListPendingRequests(ctx context.Context, toID string) ([]*models.ChatRequest, error)
	ListResolvedRequests(ctx context.Context, fromID string) ([]*models.ChatRequest, error)
}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	MarkNotificationRead(ctx context.Context, id string) error
	ListUnreadNotifications(ctx context.Context, toID string) ([]*models.Notification, error)
}

type Database interface {
	UserRepository
	ConversationRepository
	MessageRepository
	RequestRepository
	NotificationRepository
	Close() error
}
