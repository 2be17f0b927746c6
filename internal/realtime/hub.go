// Package realtime pushes events to connected users over WebSocket. A user
// may hold several connections (tabs); every connection of the user receives
// each event. Delivery is best-effort: a slow client whose buffer is full
// misses the event and catches up through the REST API.
package realtime

import (
	"encoding/json"
	"sync"
)

// Event is the wire envelope sent to clients.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Client is one WebSocket connection.
type Client struct {
	UserID uint
	Send   chan []byte

	hub    *Hub
	mu     sync.Mutex
	closed bool
}

// Close unregisters the client and closes its send channel. Safe to call twice.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.hub != nil {
		c.hub.unregister(c)
	}
	close(c.Send)
}

// Hub tracks connections by user.
type Hub struct {
	mu     sync.RWMutex
	byUser map[uint]map[*Client]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{byUser: make(map[uint]map[*Client]struct{})}
}

// NewClient registers a connection for userID with a buffered send queue.
func (h *Hub) NewClient(userID uint, buffer int) *Client {
	if buffer <= 0 {
		buffer = 32
	}
	c := &Client{UserID: userID, Send: make(chan []byte, buffer), hub: h}
	h.mu.Lock()
	if h.byUser[userID] == nil {
		h.byUser[userID] = make(map[*Client]struct{})
	}
	h.byUser[userID][c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m := h.byUser[c.UserID]; m != nil {
		delete(m, c)
		if len(m) == 0 {
			delete(h.byUser, c.UserID)
		}
	}
}

// SendToUser delivers ev to every connection of userID and returns how many
// connections accepted it.
func (h *Hub) SendToUser(userID uint, ev Event) int {
	data, err := json.Marshal(ev)
	if err != nil {
		return 0
	}
	h.mu.RLock()
	m := h.byUser[userID]
	clients := make([]*Client, 0, len(m))
	for c := range m {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range clients {
		c.mu.Lock()
		if !c.closed {
			select {
			case c.Send <- data:
				sent++
			default:
			}
		}
		c.mu.Unlock()
	}
	return sent
}

// Online reports whether userID has at least one connection.
func (h *Hub) Online(userID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

// ClientCount returns the number of open connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, m := range h.byUser {
		n += len(m)
	}
	return n
}
