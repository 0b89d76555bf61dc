package models

import "time"

type ConversationKind string

const (
	ConversationRoom   ConversationKind = "room"
	ConversationThread ConversationKind = "thread"
)

// Conversation is either a public room (id is the room name) or a private
// thread between exactly two users (id derived from the sorted participant
// ids, so both sides compute the same thread).
type Conversation struct {
	ID           string           `json:"id"`
	Kind         ConversationKind `json:"kind"`
	Participants []string         `json:"participants"`
	WindowsOpen  map[string]bool  `json:"windows_open"`
	CreatedAt    time.Time        `json:"created_at"`
	// LastActivity doubles as the per-conversation timestamp high-water
	// mark: every appended message is stamped strictly after it.
	LastActivity time.Time `json:"last_activity"`
}

type FileRef struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// Message is immutable once appended. Sender name and avatar are snapshots
// taken at send time, not live references.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	AvatarURL      *string   `json:"avatar_url"`
	Text           string    `json:"text"`
	File           *FileRef  `json:"file"`
	CreatedAt      time.Time `json:"created_at"`
}
