package sse

import (
	"sync"

	"github.com/ballot-engine/ballot-engine/internal/domain/feed"
)

// Hub manages SSE clients for the ballot event stream.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*feed.StreamClient
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*feed.StreamClient),
	}
}

func (h *Hub) Register(client *feed.StreamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ClientID] = client
}

func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		c.Close()
		delete(h.clients, clientID)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers a message to every connected client. Full channels are
// skipped.
func (h *Hub) Broadcast(message *feed.StreamMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		trySend(c, message)
	}
}

func (h *Hub) SendToClient(clientID string, message *feed.StreamMessage) error {
	h.mu.RLock()
	c := h.clients[clientID]
	h.mu.RUnlock()
	if c == nil {
		return feed.ErrClientNotFound
	}
	if !trySend(c, message) {
		return feed.ErrChannelFull
	}
	return nil
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.Close()
		delete(h.clients, id)
	}
}

func trySend(c *feed.StreamClient, msg *feed.StreamMessage) bool {
	select {
	case c.MessageChan <- msg:
		return true
	default:
		return false
	}
}
