package ws

import "sync"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans broadcast payloads out to subscribers grouped by channel name.
// Alerts are fire-and-forget: a broadcast to a channel with no subscribers
// is dropped, and a subscriber whose Send fails is evicted.
type Hub struct {
	mu      sync.RWMutex
	closed  bool
	clients map[string]map[Subscriber]struct{}
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[Subscriber]struct{})}
}

// Register adds a client to a channel stream.
func (h *Hub) Register(channel string, client Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		client.Close()
		return
	}
	if _, ok := h.clients[channel]; !ok {
		h.clients[channel] = make(map[Subscriber]struct{})
	}
	h.clients[channel][client] = struct{}{}
}

// Unregister removes a client from a channel stream.
func (h *Hub) Unregister(channel string, client Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.clients[channel]
	if !ok {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.clients, channel)
	}
}

// Broadcast sends payload to all channel subscribers, evicting any whose
// connection has gone away.
func (h *Hub) Broadcast(channel string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.clients[channel]
	if !ok {
		return
	}
	for c := range clients {
		if err := c.Send(payload); err != nil {
			c.Close()
			delete(clients, c)
		}
	}
	if len(clients) == 0 {
		delete(h.clients, channel)
	}
}

// SubscriberCount reports how many clients are attached to a channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[channel])
}

// Close disconnects every subscriber and rejects future registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, clients := range h.clients {
		for c := range clients {
			c.Close()
		}
	}
	h.clients = make(map[string]map[Subscriber]struct{})
}
