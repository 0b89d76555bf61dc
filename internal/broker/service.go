package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chat-core/internal/database"
	"chat-core/internal/hub"
	"chat-core/internal/models"
	"chat-core/internal/store"
	"chat-core/pkg/logger"

	"github.com/google/uuid"
)

// Service manages the short-lived signaling records that are distinct from
// chat history: private-chat invitations and open/close notifications.
type Service struct {
	db          database.Database
	events      *hub.Manager
	store       *store.Service
	resolvedTTL time.Duration

	mu       sync.Mutex
	expiries map[string]*expiry
	inFlight map[string]*sync.Mutex
}

type expiry struct {
	timer  *time.Timer
	fromID string
}

func NewService(db database.Database, events *hub.Manager, msgStore *store.Service, resolvedTTL time.Duration) *Service {
	return &Service{
		db:          db,
		events:      events,
		store:       msgStore,
		resolvedTTL: resolvedTTL,
		expiries:    make(map[string]*expiry),
		inFlight:    make(map[string]*sync.Mutex),
	}
}

// requestLock serializes commit-and-publish per request, so topic delivery
// order matches the order transitions were committed. Entries are dropped
// once the request reaches a terminal state.
func (b *Service) requestLock(requestID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.inFlight[requestID]
	if !ok {
		l = &sync.Mutex{}
		b.inFlight[requestID] = l
	}
	return l
}

func (b *Service) dropRequestLock(requestID string) {
	b.mu.Lock()
	delete(b.inFlight, requestID)
	b.mu.Unlock()
}

// SendRequest creates a pending invitation. It does not create a
// conversation; that happens only on acceptance. Nothing prevents a second
// pending request between the same pair, matching the retry-after-timeout
// usage the front-ends rely on.
func (b *Service) SendRequest(ctx context.Context, from *models.User, toID string) (*models.ChatRequest, error) {
	if toID == "" || toID == from.ID {
		return nil, fmt.Errorf("%w: invalid request target", models.ErrValidation)
	}

	to, err := b.db.GetUserByID(ctx, toID)
	if err != nil {
		return nil, err
	}

	req := &models.ChatRequest{
		ID:         uuid.New().String(),
		FromID:     from.ID,
		FromName:   from.Username,
		FromAvatar: from.AvatarURL,
		ToID:       to.ID,
		ToName:     to.Username,
		ToAvatar:   to.AvatarURL,
		Status:     models.RequestPending,
		CreatedAt:  time.Now().UTC(),
	}
	lock := b.requestLock(req.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := b.db.CreateRequest(ctx, req); err != nil {
		b.dropRequestLock(req.ID)
		return nil, err
	}

	b.events.Publish(hub.TopicPendingRequests(to.ID), models.Added(req))
	return req, nil
}

// Respond transitions the request out of pending exactly once. The losing
// side of a concurrent respond gets ErrAlreadyResolved. On acceptance the
// deterministic thread is provisioned and the original requester receives
// an open_chat notification so both sides converge on the same window.
func (b *Service) Respond(ctx context.Context, requestID string, decision models.RequestStatus, responder *models.User) (*models.ChatRequest, error) {
	if !decision.Terminal() {
		return nil, fmt.Errorf("%w: invalid decision %q", models.ErrValidation, decision)
	}

	current, err := b.db.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if current.ToID != responder.ID {
		return nil, models.ErrForbidden
	}

	lock := b.requestLock(requestID)
	lock.Lock()
	defer lock.Unlock()
	defer b.dropRequestLock(requestID)

	resolved, err := b.db.ResolveRequest(ctx, requestID, decision, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	b.events.Publish(hub.TopicPendingRequests(resolved.ToID), models.Removed(resolved))

	if decision == models.RequestAccepted {
		if _, err := b.store.EnsureThread(ctx, resolved.FromID, resolved.ToID); err != nil {
			return nil, err
		}
		if _, err := b.Notify(ctx, resolved.FromID, responder, models.NotifyOpenChat); err != nil {
			return nil, err
		}
	}

	b.publishResolved(resolved)
	return resolved, nil
}

func (b *Service) publishResolved(req *models.ChatRequest) {
	topic := hub.TopicResolvedRequests(req.FromID)

	// Delivery on a live resolved subscription counts as the requester
	// observing the outcome, which starts the cleanup clock. The count is
	// read before publishing: a subscriber whose registration is still in
	// flight picks the record up through its snapshot, which schedules
	// the expiry itself.
	if b.events.Subscribers(topic) > 0 {
		b.scheduleExpiry(req)
	}
	b.events.Publish(topic, models.Modified(req))
}

// Notify emits a single-use open/close signal to the target user.
func (b *Service) Notify(ctx context.Context, toID string, from *models.User, typ models.NotificationType) (*models.Notification, error) {
	if typ != models.NotifyOpenChat && typ != models.NotifyCloseChat {
		return nil, fmt.Errorf("%w: unknown notification type %q", models.ErrValidation, typ)
	}

	n := &models.Notification{
		ID:        uuid.New().String(),
		ToID:      toID,
		FromID:    from.ID,
		FromName:  from.Username,
		Type:      typ,
		CreatedAt: time.Now().UTC(),
	}
	if err := b.db.CreateNotification(ctx, n); err != nil {
		return nil, err
	}

	b.events.Publish(hub.TopicNotifications(toID), models.Added(n))
	return n, nil
}

// MarkRead is best-effort; read records are retained, they just leave the
// unread view.
func (b *Service) MarkRead(ctx context.Context, id string) error {
	return b.db.MarkNotificationRead(ctx, id)
}

// PendingSnapshot backs the recipient's pending-request topic.
func (b *Service) PendingSnapshot(userID string) hub.SnapshotFunc {
	return func(ctx context.Context) ([]models.ChangeEvent, error) {
		requests, err := b.db.ListPendingRequests(ctx, userID)
		if err != nil {
			return nil, err
		}
		return requestEvents(requests), nil
	}
}

// ResolvedSnapshot backs the requester's resolved-request topic. Each
// request it delivers is considered observed and scheduled for cleanup.
func (b *Service) ResolvedSnapshot(userID string) hub.SnapshotFunc {
	return func(ctx context.Context) ([]models.ChangeEvent, error) {
		requests, err := b.db.ListResolvedRequests(ctx, userID)
		if err != nil {
			return nil, err
		}
		for _, req := range requests {
			b.scheduleExpiry(req)
		}
		return requestEvents(requests), nil
	}
}

// UnreadSnapshot backs the notification topic.
func (b *Service) UnreadSnapshot(userID string) hub.SnapshotFunc {
	return func(ctx context.Context) ([]models.ChangeEvent, error) {
		notifications, err := b.db.ListUnreadNotifications(ctx, userID)
		if err != nil {
			return nil, err
		}

		events := make([]models.ChangeEvent, 0, len(notifications))
		for _, n := range notifications {
			events = append(events, models.Added(n))
		}
		return events, nil
	}
}

func requestEvents(requests []*models.ChatRequest) []models.ChangeEvent {
	events := make([]models.ChangeEvent, 0, len(requests))
	for _, r := range requests {
		events = append(events, models.Added(r))
	}
	return events
}

// scheduleExpiry starts the cleanup timer for one resolved request. The
// first observation wins; later deliveries of the same record do not reset
// the clock.
func (b *Service) scheduleExpiry(req *models.ChatRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.expiries[req.ID]; exists {
		return
	}

	id := req.ID
	b.expiries[id] = &expiry{
		fromID: req.FromID,
		timer: time.AfterFunc(b.resolvedTTL, func() {
			b.expire(id, req.FromID)
		}),
	}
}

func (b *Service) expire(requestID, fromID string) {
	b.mu.Lock()
	delete(b.expiries, requestID)
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := b.db.GetRequest(ctx, requestID)
	if err != nil {
		return
	}
	if err := b.db.DeleteRequest(ctx, requestID); err != nil {
		logger.Error("Failed to expire resolved request %s: %v", requestID, err)
		return
	}

	b.events.Publish(hub.TopicResolvedRequests(fromID), models.Removed(req))
}

// CancelExpiries stops pending cleanup timers for a requester. It runs when
// the resolved subscription tears down: cleanup is deliberately best-effort,
// so records whose observer went away simply persist.
func (b *Service) CancelExpiries(fromID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, e := range b.expiries {
		if e.fromID == fromID {
			e.timer.Stop()
			delete(b.expiries, id)
		}
	}
}
