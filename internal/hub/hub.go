package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"chat-core/internal/models"
	"chat-core/pkg/logger"
)

// SnapshotFunc produces the initial full state for a topic. It runs inside
// the hub loop before the new subscriber receives any delta, so a
// subscription always sees snapshot first, then changes in publish order.
type SnapshotFunc func(ctx context.Context) ([]models.ChangeEvent, error)

const snapshotTimeout = 10 * time.Second

type registration struct {
	client   *Client
	snapshot SnapshotFunc
}

type Hub struct {
	topic        string
	clients      map[*Client]bool
	register     chan *registration
	unregister   chan *Client
	broadcast    chan models.ChangeEvent
	shutdown     chan struct{}
	done         chan struct{}
	count        atomic.Int32
	lastActivity atomic.Int64
}

func newHub(topic string) *Hub {
	h := &Hub{
		topic:      topic,
		clients:    make(map[*Client]bool),
		register:   make(chan *registration),
		unregister: make(chan *Client),
		broadcast:  make(chan models.ChangeEvent, 64),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
	h.lastActivity.Store(time.Now().UnixNano())
	return h
}

func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.shutdown:
			for client := range h.clients {
				client.detach()
			}
			return

		case reg := <-h.register:
			h.lastActivity.Store(time.Now().UnixNano())
			if !h.deliverSnapshot(reg) {
				reg.client.detach()
				continue
			}
			h.clients[reg.client] = true
			h.count.Add(1)

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				h.count.Add(-1)
				client.detach()
			}

		case ev := <-h.broadcast:
			h.lastActivity.Store(time.Now().UnixNano())
			for client := range h.clients {
				select {
				case client.send <- ev:
				default:
					// Slow consumer: drop it rather than block the
					// whole topic.
					delete(h.clients, client)
					h.count.Add(-1)
					client.detach()
				}
			}
		}
	}
}

func (h *Hub) deliverSnapshot(reg *registration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	events, err := reg.snapshot(ctx)
	if err != nil {
		logger.Error("Snapshot failed for topic %s: %v", h.topic, err)
		return false
	}

	// The client is not in the broadcast set yet, so blocking here cannot
	// race another sender; a consumer that never drains is cut off by the
	// snapshot timeout.
	for _, ev := range events {
		select {
		case reg.client.send <- ev:
		case <-ctx.Done():
			logger.Warn("Snapshot delivery timed out for topic %s", h.topic)
			return false
		}
	}
	return true
}

func (h *Hub) publish(ev models.ChangeEvent) {
	select {
	case h.broadcast <- ev:
	case <-h.done:
	}
}

func (h *Hub) drop(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) Subscribers() int {
	return int(h.count.Load())
}

func (h *Hub) stop() {
	select {
	case <-h.done:
	default:
		close(h.shutdown)
	}
}

// Manager owns one hub per topic and tears down topics nobody listens to.
type Manager struct {
	mu   sync.Mutex
	hubs map[string]*Hub
}

func NewManager() *Manager {
	m := &Manager{hubs: make(map[string]*Hub)}
	go m.cleanupIdleHubs()
	return m
}

func (m *Manager) hubFor(topic string) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, exists := m.hubs[topic]
	if !exists {
		h = newHub(topic)
		m.hubs[topic] = h
		go h.Run()
	}
	return h
}

// Publish fans an event out to the topic's subscribers. Topics with no hub
// have no listeners; the event is dropped, matching fire-and-forget
// semantics for unobserved changes.
func (m *Manager) Publish(topic string, ev models.ChangeEvent) {
	m.mu.Lock()
	h := m.hubs[topic]
	m.mu.Unlock()

	if h != nil {
		h.publish(ev)
	}
}

func (m *Manager) Subscribers(topic string) int {
	m.mu.Lock()
	h := m.hubs[topic]
	m.mu.Unlock()

	if h == nil {
		return 0
	}
	return h.Subscribers()
}

// Subscribe attaches a client to the topic: snapshot first, then deltas
// until the client closes. onClose runs exactly once when the subscription
// tears down, whichever side initiates it.
func (m *Manager) Subscribe(topic string, snapshot SnapshotFunc, onClose func()) *Client {
	for {
		h := m.hubFor(topic)
		client := newClient(h, onClose)

		select {
		case h.register <- &registration{client: client, snapshot: snapshot}:
			return client
		case <-h.done:
			// Hub was swept between lookup and registration; retry
			// with a fresh one.
			m.removeHub(topic, h)
		}
	}
}

func (m *Manager) removeHub(topic string, h *Hub) {
	m.mu.Lock()
	if m.hubs[topic] == h {
		delete(m.hubs, topic)
	}
	m.mu.Unlock()
}

func (m *Manager) cleanupIdleHubs() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		m.mu.Lock()
		for topic, h := range m.hubs {
			idle := time.Since(time.Unix(0, h.lastActivity.Load()))
			if h.Subscribers() == 0 && idle > 5*time.Minute {
				h.stop()
				delete(m.hubs, topic)
				logger.Debug("Cleaned up idle hub for topic %s", topic)
			}
		}
		m.mu.Unlock()
	}
}
