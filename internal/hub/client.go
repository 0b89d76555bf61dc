package hub

import (
	"sync"
	"time"

	"chat-core/internal/models"
	"chat-core/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Client is one subscription. It is transport-agnostic: ServePump drives a
// websocket connection, Events exposes the raw channel for in-process
// subscribers and tests.
type Client struct {
	hub       *Hub
	send      chan models.ChangeEvent
	closeOnce sync.Once
	onClose   func()
}

func newClient(h *Hub, onClose func()) *Client {
	return &Client{
		hub:     h,
		send:    make(chan models.ChangeEvent, sendBuffer),
		onClose: onClose,
	}
}

// Events is the subscription stream: snapshot events first, then deltas.
// The channel closes when the subscription tears down.
func (c *Client) Events() <-chan models.ChangeEvent {
	return c.send
}

// Close cancels the subscription. Delivery stops; in-flight writes that
// were already published still completed server-side. The send channel is
// only ever closed from the hub loop, so cancellation cannot race a
// concurrent delivery.
func (c *Client) Close() {
	c.hub.drop(c)
}

// detach is called from the hub side; safe to call more than once.
func (c *Client) detach() {
	c.closeOnce.Do(func() {
		close(c.send)
		if c.onClose != nil {
			c.onClose()
		}
	})
}

// ServePump writes subscription events to the websocket until either side
// goes away. It owns the connection: reads are drained for control frames
// and the connection is closed on return.
func (c *Client) ServePump(conn *websocket.Conn) {
	go c.readPump(conn)
	c.writePump(conn)
}

func (c *Client) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteJSON(ev); err != nil {
				logger.Error("Write error on topic %s: %v", c.hub.topic, err)
				c.Close()
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *Client) readPump(conn *websocket.Conn) {
	defer func() {
		c.Close()
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Subscriptions are one-way; inbound frames only keep the connection
	// alive or end it.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket error on topic %s: %v", c.hub.topic, err)
			}
			return
		}
	}
}
