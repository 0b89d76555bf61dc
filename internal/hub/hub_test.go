package hub

import (
	"context"
	"testing"
	"time"

	"chat-core/internal/models"
)

func staticSnapshot(events ...models.ChangeEvent) SnapshotFunc {
	return func(ctx context.Context) ([]models.ChangeEvent, error) {
		return events, nil
	}
}

func receiveEvent(t *testing.T, ch <-chan models.ChangeEvent) models.ChangeEvent {
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

func TestSubscribeDeliversSnapshotBeforeDeltas(t *testing.T) {
	m := NewManager()

	client := m.Subscribe("test-topic",
		staticSnapshot(models.Added("one"), models.Added("two")), nil)
	defer client.Close()

	m.Publish("test-topic", models.Added("three"))

	for i, want := range []string{"one", "two", "three"} {
		ev := receiveEvent(t, client.Events())
		if ev.Kind != models.ChangeAdded {
			t.Fatalf("event %d: kind = %s, want added", i, ev.Kind)
		}
		if ev.Entity != want {
			t.Fatalf("event %d: entity = %v, want %s", i, ev.Entity, want)
		}
	}
}

func TestSubscribeDeliversSnapshotLargerThanSendBuffer(t *testing.T) {
	m := NewManager()

	// Well past the client send buffer, like a room with a long history.
	snapshot := make([]models.ChangeEvent, 0, sendBuffer+44)
	for i := 0; i < sendBuffer+44; i++ {
		snapshot = append(snapshot, models.Added(i))
	}

	client := m.Subscribe("history", staticSnapshot(snapshot...), nil)
	defer client.Close()

	m.Publish("history", models.Added(len(snapshot)))

	for i := 0; i <= len(snapshot); i++ {
		ev := receiveEvent(t, client.Events())
		if ev.Entity != i {
			t.Fatalf("event %d: entity = %v, want %d", i, ev.Entity, i)
		}
	}
}

func TestDeliveryMatchesPublishOrder(t *testing.T) {
	m := NewManager()

	client := m.Subscribe("ordered", staticSnapshot(), nil)
	defer client.Close()

	for i := 0; i < 50; i++ {
		m.Publish("ordered", models.Added(i))
	}

	for i := 0; i < 50; i++ {
		ev := receiveEvent(t, client.Events())
		if ev.Entity != i {
			t.Fatalf("out of order: got %v at position %d", ev.Entity, i)
		}
	}
}

func TestCloseStopsDeliveryAndFiresTeardown(t *testing.T) {
	m := NewManager()

	closed := make(chan struct{})
	client := m.Subscribe("teardown", staticSnapshot(), func() { close(closed) })

	client.Close()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("teardown hook never fired")
	}

	// The channel must be closed so consumers stop cleanly.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-client.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event channel never closed")
		}
	}
}

func TestPublishWithoutSubscribersIsDropped(t *testing.T) {
	m := NewManager()

	// No hub exists for this topic; publishing must not block or panic.
	m.Publish("nobody-listening", models.Added("lost"))

	if n := m.Subscribers("nobody-listening"); n != 0 {
		t.Fatalf("Subscribers = %d, want 0", n)
	}
}

func TestSubscriberCount(t *testing.T) {
	m := NewManager()

	a := m.Subscribe("counted", staticSnapshot(), nil)
	b := m.Subscribe("counted", staticSnapshot(), nil)

	waitFor(t, func() bool { return m.Subscribers("counted") == 2 })

	a.Close()
	waitFor(t, func() bool { return m.Subscribers("counted") == 1 })

	b.Close()
	waitFor(t, func() bool { return m.Subscribers("counted") == 0 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}
