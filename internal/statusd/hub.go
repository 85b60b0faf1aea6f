// Package statusd is the conductor's read-only observability surface:
// a liveness check, a JSON snapshot of the running chain, and a
// websocket feed of structural events (link started, component exited,
// chain shutdown). It holds no state beyond the current run and serves
// no writes, consistent with the conductor carrying no persistence or
// authentication layer.
package statusd

import (
	"encoding/json"
	"sync"

	"conductor/pkg/logger"
)

// Event is one structural occurrence broadcast to feed subscribers.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Event type tags.
const (
	EventLinkStarted      = "link_started"
	EventComponentExited  = "component_exited"
	EventChainShutdown    = "chain_shutdown"
	EventBridgeActivation = "bridge_activation_required"
)

// Hub maintains the set of connected feed clients and broadcasts
// structural events to all of them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool

	register   chan *client
	unregister chan *client
	broadcast  chan []byte
}

// NewHub creates an idle hub; call Run to start its broadcast loop.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
	}
}

// Run drives the hub's register/unregister/broadcast loop until its
// inputs are abandoned; it is meant to run for the lifetime of the
// process in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case data := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast publishes a structural event to every connected feed client.
func (h *Hub) Broadcast(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Warnf("statusd: marshal event: %v", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		logger.Warnf("statusd: broadcast channel full, dropping %s event", event.Type)
	}
}

// ClientCount reports how many feed clients are currently connected.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
