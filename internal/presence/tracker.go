package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chat-core/internal/config"
	"chat-core/internal/database"
	"chat-core/internal/hub"
	"chat-core/internal/models"
	"chat-core/pkg/logger"
)

// Tracker derives live presence from heartbeats and explicit intents.
// Browser tabs cannot guarantee a close signal fires, so offline is never
// trusted solely from writes: any user whose last heartbeat is older than
// the stale threshold is reported offline regardless of stored intent.
type Tracker struct {
	db     database.Database
	events *hub.Manager
	cfg    config.PresenceConfig
	clock  func() time.Time

	mu            sync.Mutex
	lastEffective map[string]models.Presence
}

func NewTracker(db database.Database, events *hub.Manager, cfg config.PresenceConfig) *Tracker {
	return &Tracker{
		db:            db,
		events:        events,
		cfg:           cfg,
		clock:         time.Now,
		lastEffective: make(map[string]models.Presence),
	}
}

// EffectiveState collapses stored intent and heartbeat recency into the
// state subscribers see.
func EffectiveState(intent models.Presence, lastSeen, now time.Time, staleThreshold time.Duration) models.Presence {
	if now.Sub(lastSeen) > staleThreshold {
		return models.PresenceOffline
	}
	if intent == models.PresenceAway {
		return models.PresenceAway
	}
	if intent == models.PresenceOffline {
		return models.PresenceOffline
	}
	return models.PresenceOnline
}

// Heartbeat stamps the user's last-seen time. An explicit away intent
// survives heartbeats; anything else becomes online.
func (t *Tracker) Heartbeat(ctx context.Context, userID string) error {
	user, err := t.db.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	intent := models.PresenceOnline
	if user.Intent == models.PresenceAway {
		intent = models.PresenceAway
	}

	now := t.clock().UTC()
	if err := t.db.UpdatePresence(ctx, userID, intent, now); err != nil {
		return err
	}

	user.Intent = intent
	user.LastSeen = now
	t.publishState(user)
	return nil
}

// MarkIntent records an explicit state hint: away on lost foreground
// visibility, offline on logout.
func (t *Tracker) MarkIntent(ctx context.Context, userID string, intent models.Presence) error {
	if !intent.Valid() {
		return fmt.Errorf("%w: unknown presence intent %q", models.ErrValidation, intent)
	}

	user, err := t.db.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	now := t.clock().UTC()
	if err := t.db.UpdatePresence(ctx, userID, intent, now); err != nil {
		return err
	}

	user.Intent = intent
	user.LastSeen = now
	t.publishState(user)
	return nil
}

// Snapshot backs the presence topic: every user with derived state.
func (t *Tracker) Snapshot(ctx context.Context) ([]models.ChangeEvent, error) {
	users, err := t.db.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	now := t.clock().UTC()
	events := make([]models.ChangeEvent, 0, len(users))
	for _, u := range users {
		events = append(events, models.Added(t.snapshotOf(u, now)))
	}
	return events, nil
}

// Run sweeps for users that went stale without writing anything, so
// subscribers see the offline flip even after an abrupt disconnect.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.sweep(ctx); err != nil {
				logger.Error("Presence sweep failed: %v", err)
			}
		}
	}
}

func (t *Tracker) sweep(ctx context.Context) error {
	users, err := t.db.ListUsers(ctx)
	if err != nil {
		return err
	}

	now := t.clock().UTC()
	for _, u := range users {
		snap := t.snapshotOf(u, now)
		if t.stateChanged(u.ID, snap.State) {
			t.events.Publish(hub.TopicPresence, models.Modified(snap))
		}
	}
	return nil
}

func (t *Tracker) publishState(user *models.User) {
	snap := t.snapshotOf(user, t.clock().UTC())
	t.stateChanged(user.ID, snap.State)
	t.events.Publish(hub.TopicPresence, models.Modified(snap))
}

func (t *Tracker) stateChanged(userID string, state models.Presence) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.lastEffective[userID] == state {
		return false
	}
	t.lastEffective[userID] = state
	return true
}

func (t *Tracker) snapshotOf(user *models.User, now time.Time) models.PresenceSnapshot {
	return models.PresenceSnapshot{
		UserID:    user.ID,
		Username:  user.Username,
		AvatarURL: user.AvatarURL,
		State:     EffectiveState(user.Intent, user.LastSeen, now, t.cfg.StaleThreshold),
		LastSeen:  user.LastSeen,
	}
}
