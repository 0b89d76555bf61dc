package store

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"chat-core/internal/database"
	"chat-core/internal/hub"
	"chat-core/internal/models"
	"chat-core/internal/storage"

	"github.com/google/uuid"
)

// GeneralRoom always exists; it is the public room every client lands in.
const GeneralRoom = "general"

const threadSeparator = ":"

// Service is the message store: append-only ordered logs per conversation,
// plus conversation provisioning for rooms and private threads.
type Service struct {
	db      database.Database
	events  *hub.Manager
	storage storage.ObjectStorage

	mu          sync.Mutex
	appendLocks map[string]*sync.Mutex
}

func NewService(db database.Database, events *hub.Manager, objects storage.ObjectStorage) *Service {
	return &Service{
		db:          db,
		events:      events,
		storage:     objects,
		appendLocks: make(map[string]*sync.Mutex),
	}
}

// appendLock serializes stamp-and-publish per conversation, so the order
// deltas reach the topic matches the order timestamps were committed.
func (s *Service) appendLock(convID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.appendLocks[convID]
	if !ok {
		l = &sync.Mutex{}
		s.appendLocks[convID] = l
	}
	return l
}

// ThreadID derives the private-thread conversation id from the two
// participant ids. Sorting first makes it order-independent, so both
// participants compute the same id and duplicate threads cannot appear.
func ThreadID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0] + threadSeparator + ids[1]
}

func (s *Service) EnsureRoom(ctx context.Context, name string) (*models.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: room name is required", models.ErrValidation)
	}
	// Room names must not collide with the thread id namespace.
	if strings.Contains(name, threadSeparator) {
		return nil, fmt.Errorf("%w: invalid room name", models.ErrValidation)
	}

	conv := &models.Conversation{
		ID:          name,
		Kind:        models.ConversationRoom,
		WindowsOpen: map[string]bool{},
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.db.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return s.db.GetConversation(ctx, name)
}

// EnsureThread provisions the deterministic thread between two users,
// creating it if absent. Both sides converge on the same conversation no
// matter who calls first.
func (s *Service) EnsureThread(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	if userA == "" || userB == "" || userA == userB {
		return nil, fmt.Errorf("%w: a thread needs two distinct participants", models.ErrValidation)
	}

	id := ThreadID(userA, userB)
	participants := []string{userA, userB}
	sort.Strings(participants)

	conv := &models.Conversation{
		ID:           id,
		Kind:         models.ConversationThread,
		Participants: participants,
		WindowsOpen:  map[string]bool{},
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.db.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return s.db.GetConversation(ctx, id)
}

func (s *Service) Conversation(ctx context.Context, id string) (*models.Conversation, error) {
	return s.db.GetConversation(ctx, id)
}

// CanAccess reports whether the user may read or write the conversation:
// rooms are public, threads are limited to their two participants.
func (s *Service) CanAccess(conv *models.Conversation, userID string) bool {
	if conv.Kind == models.ConversationRoom {
		return true
	}
	for _, p := range conv.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Append writes one immutable message. The store assigns the timestamp;
// client clocks are never trusted for ordering.
func (s *Service) Append(ctx context.Context, convID string, sender *models.User, text string, file *models.FileRef) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" && file == nil {
		return nil, fmt.Errorf("%w: message needs text or a file", models.ErrValidation)
	}

	conv, err := s.db.GetConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !s.CanAccess(conv, sender.ID) {
		return nil, models.ErrForbidden
	}

	msg := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: convID,
		SenderID:       sender.ID,
		SenderName:     sender.Username,
		AvatarURL:      sender.AvatarURL,
		Text:           text,
		File:           file,
	}

	lock := s.appendLock(convID)
	lock.Lock()
	defer lock.Unlock()

	stamped, err := s.db.AppendMessage(ctx, msg)
	if err != nil {
		return nil, err
	}

	s.events.Publish(hub.TopicConversation(convID), models.Added(stamped))
	return stamped, nil
}

// AppendWithFile uploads the attachment first and appends only once the
// upload has resolved; an upload failure aborts the whole send.
func (s *Service) AppendWithFile(ctx context.Context, convID string, sender *models.User, text, filename string, r io.Reader, size int64, progress storage.ProgressFunc) (*models.Message, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, fmt.Errorf("%w: filename is required", models.ErrValidation)
	}

	url, err := s.storage.Put(ctx, "chatFiles/"+convID+"/"+filename, r, size, progress)
	if err != nil {
		return nil, err
	}

	return s.Append(ctx, convID, sender, text, &models.FileRef{URL: url, Filename: filename})
}

// MessagesSnapshot backs the conversation topic: all existing messages in
// creation order, as Added events.
func (s *Service) MessagesSnapshot(convID string) hub.SnapshotFunc {
	return func(ctx context.Context) ([]models.ChangeEvent, error) {
		messages, err := s.db.ListMessages(ctx, convID)
		if err != nil {
			return nil, err
		}

		events := make([]models.ChangeEvent, 0, len(messages))
		for _, m := range messages {
			events = append(events, models.Added(m))
		}
		return events, nil
	}
}

func (s *Service) SetWindowOpen(ctx context.Context, convID, userID string, open bool) error {
	conv, err := s.db.GetConversation(ctx, convID)
	if err != nil {
		return err
	}
	if !s.CanAccess(conv, userID) {
		return models.ErrForbidden
	}
	return s.db.SetWindowOpen(ctx, convID, userID, open)
}
