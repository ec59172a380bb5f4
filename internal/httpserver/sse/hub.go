// Package sse fans "state changed" signals out to connected browsers.
package sse

import "sync"

// Hub coalesces signals per client: a client that has not consumed the
// previous signal does not queue another one, since it re-renders the whole
// page anyway.
type Hub struct {
	mu      sync.Mutex
	clients map[chan struct{}]struct{}
	closed  bool
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan struct{}]struct{})}
}

// Subscribe returns the client's signal channel and a function that
// unregisters it. The channel is closed when the hub shuts down.
func (h *Hub) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients, ch)
			h.mu.Unlock()
		})
	}
}

// Publish signals every client without blocking.
func (h *Hub) Publish() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Close ends every client stream. Later subscribers get a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
