package models

import "time"

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestAccepted  RequestStatus = "accepted"
	RequestRejected  RequestStatus = "rejected"
	RequestPostponed RequestStatus = "postponed"
	RequestBusy      RequestStatus = "busy"
)

// Terminal reports whether the status ends the request lifecycle. A request
// leaves pending exactly once.
func (s RequestStatus) Terminal() bool {
	switch s {
	case RequestAccepted, RequestRejected, RequestPostponed, RequestBusy:
		return true
	}
	return false
}

// ChatRequest is an ephemeral private-chat invitation. Resolved requests are
// cleaned up a few seconds after the requester observes the outcome.
type ChatRequest struct {
	ID          string        `json:"id"`
	FromID      string        `json:"from_id"`
	FromName    string        `json:"from_name"`
	FromAvatar  *string       `json:"from_avatar"`
	ToID        string        `json:"to_id"`
	ToName      string        `json:"to_name"`
	ToAvatar    *string       `json:"to_avatar"`
	Status      RequestStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	RespondedAt *time.Time    `json:"responded_at"`
}

type NotificationType string

const (
	NotifyOpenChat  NotificationType = "open_chat"
	NotifyCloseChat NotificationType = "close_chat"
)

// Notification is a single-use signal telling the target client to open or
// close its side of a private thread. Read records are retained.
type Notification struct {
	ID        string           `json:"id"`
	ToID      string           `json:"to_id"`
	FromID    string           `json:"from_id"`
	FromName  string           `json:"from_name"`
	Type      NotificationType `json:"type"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}
