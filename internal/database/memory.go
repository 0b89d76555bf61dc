package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"chat-core/internal/models"
)

// MemoryDB is the single-node reference store: every repository backed by
// mutex-guarded maps. It is the test backend and the STORE_DRIVER=memory
// runtime option.
type MemoryDB struct {
	mu            sync.RWMutex
	users         map[string]*models.User
	usersByEmail  map[string]string
	conversations map[string]*models.Conversation
	messages      map[string][]*models.Message
	requests      map[string]*models.ChatRequest
	notifications map[string]*models.Notification
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		users:         make(map[string]*models.User),
		usersByEmail:  make(map[string]string),
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]*models.Message),
		requests:      make(map[string]*models.ChatRequest),
		notifications: make(map[string]*models.Notification),
	}
}

func (db *MemoryDB) Close() error { return nil }

func copyUser(u *models.User) *models.User {
	c := *u
	return &c
}

func copyConversation(c *models.Conversation) *models.Conversation {
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	out.WindowsOpen = make(map[string]bool, len(c.WindowsOpen))
	for k, v := range c.WindowsOpen {
		out.WindowsOpen[k] = v
	}
	return &out
}

func copyMessage(m *models.Message) *models.Message {
	c := *m
	if m.File != nil {
		f := *m.File
		c.File = &f
	}
	return &c
}

func copyRequest(r *models.ChatRequest) *models.ChatRequest {
	c := *r
	if r.RespondedAt != nil {
		t := *r.RespondedAt
		c.RespondedAt = &t
	}
	return &c
}

// User Repository Implementation
func (db *MemoryDB) CreateUser(ctx context.Context, user *models.User) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.usersByEmail[user.Email]; exists {
		return models.ErrValidation
	}

	stored := copyUser(user)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	if stored.LastSeen.IsZero() {
		stored.LastSeen = stored.CreatedAt
	}
	db.users[stored.ID] = stored
	db.usersByEmail[stored.Email] = stored.ID
	return nil
}

func (db *MemoryDB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	id, ok := db.usersByEmail[email]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyUser(db.users[id]), nil
}

func (db *MemoryDB) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	user, ok := db.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyUser(user), nil
}

func (db *MemoryDB) UpdateProfile(ctx context.Context, id, username string, avatarURL *string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	user, ok := db.users[id]
	if !ok {
		return models.ErrNotFound
	}
	user.Username = username
	user.AvatarURL = avatarURL
	return nil
}

func (db *MemoryDB) UpdatePresence(ctx context.Context, id string, intent models.Presence, lastSeen time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	user, ok := db.users[id]
	if !ok {
		return models.ErrNotFound
	}
	user.Intent = intent
	user.LastSeen = lastSeen
	return nil
}

func (db *MemoryDB) ListUsers(ctx context.Context) ([]*models.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	users := make([]*models.User, 0, len(db.users))
	for _, u := range db.users {
		users = append(users, copyUser(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// Conversation Repository Implementation
func (db *MemoryDB) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.conversations[conv.ID]; exists {
		return nil
	}

	stored := copyConversation(conv)
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.LastActivity.IsZero() {
		stored.LastActivity = stored.CreatedAt
	}
	if stored.WindowsOpen == nil {
		stored.WindowsOpen = make(map[string]bool)
	}
	db.conversations[stored.ID] = stored
	return nil
}

func (db *MemoryDB) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	conv, ok := db.conversations[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyConversation(conv), nil
}

func (db *MemoryDB) SetWindowOpen(ctx context.Context, convID, userID string, open bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	conv, ok := db.conversations[convID]
	if !ok {
		return models.ErrNotFound
	}
	conv.WindowsOpen[userID] = open
	return nil
}

// Message Repository Implementation
func (db *MemoryDB) AppendMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	conv, ok := db.conversations[msg.ConversationID]
	if !ok {
		return nil, models.ErrNotFound
	}

	// Same high-water rule as the Postgres store: stamps are strictly
	// increasing within a conversation even if the clock stands still.
	createdAt := time.Now().UTC()
	if !createdAt.After(conv.LastActivity) {
		createdAt = conv.LastActivity.Add(time.Microsecond)
	}
	conv.LastActivity = createdAt

	stored := copyMessage(msg)
	stored.CreatedAt = createdAt
	db.messages[msg.ConversationID] = append(db.messages[msg.ConversationID], stored)

	return copyMessage(stored), nil
}

func (db *MemoryDB) ListMessages(ctx context.Context, convID string) ([]*models.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	stored := db.messages[convID]
	messages := make([]*models.Message, 0, len(stored))
	for _, m := range stored {
		messages = append(messages, copyMessage(m))
	}
	return messages, nil
}

// Request Repository Implementation
func (db *MemoryDB) CreateRequest(ctx context.Context, req *models.ChatRequest) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	stored := copyRequest(req)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	db.requests[stored.ID] = stored
	return nil
}

func (db *MemoryDB) GetRequest(ctx context.Context, id string) (*models.ChatRequest, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	req, ok := db.requests[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyRequest(req), nil
}

func (db *MemoryDB) ResolveRequest(ctx context.Context, id string, status models.RequestStatus, respondedAt time.Time) (*models.ChatRequest, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	req, ok := db.requests[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	if req.Status != models.RequestPending {
		return nil, models.ErrAlreadyResolved
	}

	req.Status = status
	req.RespondedAt = &respondedAt
	return copyRequest(req), nil
}

func (db *MemoryDB) DeleteRequest(ctx context.Context, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	delete(db.requests, id)
	return nil
}

func (db *MemoryDB) ListPendingRequests(ctx context.Context, toID string) ([]*models.ChatRequest, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var requests []*models.ChatRequest
	for _, r := range db.requests {
		if r.ToID == toID && r.Status == models.RequestPending {
			requests = append(requests, copyRequest(r))
		}
	}
	sortRequests(requests)
	return requests, nil
}

func (db *MemoryDB) ListResolvedRequests(ctx context.Context, fromID string) ([]*models.ChatRequest, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var requests []*models.ChatRequest
	for _, r := range db.requests {
		if r.FromID == fromID && r.Status.Terminal() {
			requests = append(requests, copyRequest(r))
		}
	}
	sortRequests(requests)
	return requests, nil
}

func sortRequests(requests []*models.ChatRequest) {
	sort.Slice(requests, func(i, j int) bool {
		return requests[i].CreatedAt.Before(requests[j].CreatedAt)
	})
}

// Notification Repository Implementation
func (db *MemoryDB) CreateNotification(ctx context.Context, n *models.Notification) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	stored := *n
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	db.notifications[stored.ID] = &stored
	return nil
}

func (db *MemoryDB) MarkNotificationRead(ctx context.Context, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	n, ok := db.notifications[id]
	if !ok {
		return models.ErrNotFound
	}
	n.Read = true
	return nil
}

func (db *MemoryDB) ListUnreadNotifications(ctx context.Context, toID string) ([]*models.Notification, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var notifications []*models.Notification
	for _, n := range db.notifications {
		if n.ToID == toID && !n.Read {
			c := *n
			notifications = append(notifications, &c)
		}
	}
	sort.Slice(notifications, func(i, j int) bool {
		return notifications[i].CreatedAt.Before(notifications[j].CreatedAt)
	})
	return notifications, nil
}
