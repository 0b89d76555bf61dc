package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"chat-core/internal/database"
	"chat-core/internal/hub"
	"chat-core/internal/models"
	"chat-core/internal/store"
)

func newTestBroker(t *testing.T, resolvedTTL time.Duration) (*Service, *database.MemoryDB, *hub.Manager) {
	t.Helper()
	db := database.NewMemoryDB()
	events := hub.NewManager()
	msgStore := store.NewService(db, events, nil)
	return NewService(db, events, msgStore, resolvedTTL), db, events
}

func seedUser(t *testing.T, db *database.MemoryDB, id, name string) *models.User {
	t.Helper()
	u := &models.User{ID: id, Username: name, Email: name + "@example.com"}
	if err := db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser(%s): %v", id, err)
	}
	return u
}

func sendRequest(t *testing.T, b *Service, from *models.User, toID string) *models.ChatRequest {
	t.Helper()
	req, err := b.SendRequest(context.Background(), from, toID)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	return req
}

func TestSendRequestValidation(t *testing.T) {
	b, db, _ := newTestBroker(t, time.Minute)
	alice := seedUser(t, db, "alice-id", "alice")
	ctx := context.Background()

	if _, err := b.SendRequest(ctx, alice, alice.ID); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("self request err = %v, want validation error", err)
	}
	if _, err := b.SendRequest(ctx, alice, "nobody"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("unknown target err = %v, want not found", err)
	}
}

func TestRespondResolvesExactlyOnce(t *testing.T) {
	b, db, _ := newTestBroker(t, time.Minute)
	alice := seedUser(t, db, "alice-id", "alice")
	bob := seedUser(t, db, "bob-id", "bob")
	ctx := context.Background()

	req := sendRequest(t, b, alice, bob.ID)

	resolved, err := b.Respond(ctx, req.ID, models.RequestRejected, bob)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if resolved.Status != models.RequestRejected {
		t.Fatalf("status = %s, want rejected", resolved.Status)
	}
	if resolved.RespondedAt == nil {
		t.Fatal("resolved request missing resolution time")
	}

	// The losing side of a double respond must not flip the outcome.
	if _, err := b.Respond(ctx, req.ID, models.RequestAccepted, bob); !errors.Is(err, models.ErrAlreadyResolved) {
		t.Fatalf("second respond err = %v, want already resolved", err)
	}

	stored, err := db.GetRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if stored.Status != models.RequestRejected {
		t.Fatalf("status after double respond = %s, want rejected", stored.Status)
	}
}

func TestRespondErrors(t *testing.T) {
	b, db, _ := newTestBroker(t, time.Minute)
	alice := seedUser(t, db, "alice-id", "alice")
	bob := seedUser(t, db, "bob-id", "bob")
	mallory := seedUser(t, db, "mallory-id", "mallory")
	ctx := context.Background()

	req := sendRequest(t, b, alice, bob.ID)

	if _, err := b.Respond(ctx, req.ID, "maybe", bob); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("invalid decision err = %v, want validation error", err)
	}
	if _, err := b.Respond(ctx, req.ID, models.RequestAccepted, mallory); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("non-recipient err = %v, want forbidden", err)
	}
	if _, err := b.Respond(ctx, "missing", models.RequestAccepted, bob); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("unknown id err = %v, want not found", err)
	}
}

func TestAcceptProvisionsThreadAndNotifiesRequester(t *testing.T) {
	b, db, _ := newTestBroker(t, time.Minute)
	alice := seedUser(t, db, "alice-id", "alice")
	bob := seedUser(t, db, "bob-id", "bob")
	ctx := context.Background()

	req := sendRequest(t, b, alice, bob.ID)
	if _, err := b.Respond(ctx, req.ID, models.RequestAccepted, bob); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	conv, err := db.GetConversation(ctx, store.ThreadID(alice.ID, bob.ID))
	if err != nil {
		t.Fatalf("accepted request did not provision the thread: %v", err)
	}
	if conv.Kind != models.ConversationThread {
		t.Fatalf("kind = %s, want thread", conv.Kind)
	}

	unread, err := db.ListUnreadNotifications(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListUnreadNotifications: %v", err)
	}
	if len(unread) != 1 || unread[0].Type != models.NotifyOpenChat || unread[0].FromID != bob.ID {
		t.Fatalf("unread = %+v, want one open_chat from bob", unread)
	}
}

func TestPendingTopicSeesAddThenRemove(t *testing.T) {
	b, db, events := newTestBroker(t, time.Minute)
	alice := seedUser(t, db, "alice-id", "alice")
	bob := seedUser(t, db, "bob-id", "bob")
	ctx := context.Background()

	sub := events.Subscribe(hub.TopicPendingRequests(bob.ID), b.PendingSnapshot(bob.ID), nil)
	defer sub.Close()

	req := sendRequest(t, b, alice, bob.ID)

	added := receive(t, sub.Events())
	if added.Kind != models.ChangeAdded || added.Entity.(*models.ChatRequest).ID != req.ID {
		t.Fatalf("first event = %+v, want added %s", added, req.ID)
	}

	if _, err := b.Respond(ctx, req.ID, models.RequestPostponed, bob); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	removed := receive(t, sub.Events())
	if removed.Kind != models.ChangeRemoved || removed.Entity.(*models.ChatRequest).ID != req.ID {
		t.Fatalf("second event = %+v, want removed %s", removed, req.ID)
	}
}

func TestObservedResolvedRequestExpires(t *testing.T) {
	b, db, events := newTestBroker(t, 50*time.Millisecond)
	alice := seedUser(t, db, "alice-id", "alice")
	bob := seedUser(t, db, "bob-id", "bob")
	ctx := context.Background()

	sub := events.Subscribe(hub.TopicResolvedRequests(alice.ID), b.ResolvedSnapshot(alice.ID), nil)
	defer sub.Close()

	req := sendRequest(t, b, alice, bob.ID)
	if _, err := b.Respond(ctx, req.ID, models.RequestBusy, bob); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	modified := receive(t, sub.Events())
	if modified.Kind != models.ChangeModified || modified.Entity.(*models.ChatRequest).Status != models.RequestBusy {
		t.Fatalf("event = %+v, want modified busy", modified)
	}

	// Delivery counted as an observation, so the record self-destructs.
	removed := receive(t, sub.Events())
	if removed.Kind != models.ChangeRemoved {
		t.Fatalf("event = %+v, want removed after expiry", removed)
	}

	if _, err := db.GetRequest(ctx, req.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expired request still stored: err = %v", err)
	}
}

func TestResolvedSnapshotStartsCleanup(t *testing.T) {
	b, db, events := newTestBroker(t, 50*time.Millisecond)
	alice := seedUser(t, db, "alice-id", "alice")
	bob := seedUser(t, db, "bob-id", "bob")
	ctx := context.Background()

	// Resolved with nobody watching: no cleanup clock yet.
	req := sendRequest(t, b, alice, bob.ID)
	if _, err := b.Respond(ctx, req.ID, models.RequestRejected, bob); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	// The requester reconnects; the snapshot delivers the outcome, which
	// counts as the observation.
	sub := events.Subscribe(hub.TopicResolvedRequests(alice.ID), b.ResolvedSnapshot(alice.ID), nil)
	defer sub.Close()

	observed := receive(t, sub.Events())
	if observed.Kind != models.ChangeAdded || observed.Entity.(*models.ChatRequest).ID != req.ID {
		t.Fatalf("snapshot event = %+v, want the resolved request", observed)
	}

	removed := receive(t, sub.Events())
	if removed.Kind != models.ChangeRemoved {
		t.Fatalf("event = %+v, want removed after expiry", removed)
	}
	if _, err := db.GetRequest(ctx, req.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expired request still stored: err = %v", err)
	}
}

func TestUnobservedResolvedRequestPersists(t *testing.T) {
	b, db, _ := newTestBroker(t, 50*time.Millisecond)
	alice := seedUser(t, db, "alice-id", "alice")
	bob := seedUser(t, db, "bob-id", "bob")
	ctx := context.Background()

	req := sendRequest(t, b, alice, bob.ID)
	if _, err := b.Respond(ctx, req.ID, models.RequestRejected, bob); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	time.Sleep(150 * time.Millisecond)

	stored, err := db.GetRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("unobserved resolution was cleaned up: %v", err)
	}
	if stored.Status != models.RequestRejected {
		t.Fatalf("status = %s, want rejected", stored.Status)
	}
}

func TestCancelExpiriesKeepsRecord(t *testing.T) {
	b, db, events := newTestBroker(t, 50*time.Millisecond)
	alice := seedUser(t, db, "alice-id", "alice")
	bob := seedUser(t, db, "bob-id", "bob")
	ctx := context.Background()

	sub := events.Subscribe(hub.TopicResolvedRequests(alice.ID), b.ResolvedSnapshot(alice.ID),
		func() { b.CancelExpiries(alice.ID) })

	req := sendRequest(t, b, alice, bob.ID)
	if _, err := b.Respond(ctx, req.ID, models.RequestPostponed, bob); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	receive(t, sub.Events())

	// Requester disconnects before the cleanup clock fires; cleanup is
	// best-effort, so the record stays for the next snapshot.
	sub.Close()
	time.Sleep(150 * time.Millisecond)

	if _, err := db.GetRequest(ctx, req.ID); err != nil {
		t.Fatalf("record removed after subscription teardown: %v", err)
	}
}

func TestNotifyAndMarkRead(t *testing.T) {
	b, db, _ := newTestBroker(t, time.Minute)
	alice := seedUser(t, db, "alice-id", "alice")
	bob := seedUser(t, db, "bob-id", "bob")
	ctx := context.Background()

	if _, err := b.Notify(ctx, alice.ID, bob, "poke"); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("unknown type err = %v, want validation error", err)
	}

	n, err := b.Notify(ctx, alice.ID, bob, models.NotifyCloseChat)
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if err := b.MarkRead(ctx, n.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	unread, err := db.ListUnreadNotifications(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ListUnreadNotifications: %v", err)
	}
	if len(unread) != 0 {
		t.Fatalf("unread = %+v, want none after mark read", unread)
	}
}

func receive(t *testing.T, ch <-chan models.ChangeEvent) models.ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return models.ChangeEvent{}
}
