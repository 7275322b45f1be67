package hub

import (
	"sync"

	"github.com/weiawesome/wes-io-chat/pkg/log"
)

// Hub tracks the live connections of this instance. Room membership lives
// in the room manager; the hub only owns connection lifetimes.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run processes registrations until Stop, then closes every client.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID()] = client
			h.mu.Unlock()
			l := log.L()
			l.Debug().Str(log.FieldConnectionID, client.ID()).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if current, ok := h.clients[client.ID()]; ok && current == client {
				delete(h.clients, client.ID())
			}
			h.mu.Unlock()
			client.Close()
			l := log.L()
			l.Debug().Str(log.FieldConnectionID, client.ID()).Msg("client unregistered")

		case <-h.done:
			h.mu.Lock()
			clients := h.clients
			h.clients = make(map[string]*Client)
			h.mu.Unlock()
			for _, client := range clients {
				client.Close()
			}
			return
		}
	}
}

// Register adds client. After Stop the client is closed instead.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes and closes client.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.Close()
	}
}

// Stop makes Run close every client and return.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Client looks up a registered client by id.
func (h *Hub) Client(id string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	return c, ok
}
