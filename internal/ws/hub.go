package ws

import (
	"context"
	"sync"

	"comic-studio/backend/internal/api"
	"comic-studio/backend/pkg/logger"
)

// Hub tracks the live WebSocket clients
type Hub struct {
	sessions   api.Sessions
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	stopped    chan struct{}
	log        *logger.Logger
	mu         sync.Mutex
}

func NewHub(sessions api.Sessions, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Hub{
		sessions:   sessions,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
		log:        log.With("component", "ws_hub"),
	}
}

// Run registers and unregisters clients until ctx is done, then
// disconnects everyone still connected.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Info("Client registered", "client_id", client.ID, "session_id", client.session.ID())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.close()
				h.log.Info("Client unregistered", "client_id", client.ID)
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			close(h.stopped)
			return
		}
	}
}

// GetActiveConnections returns the number of connected clients
func (h *Hub) GetActiveConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.stopped:
		return false
	}
}

func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopped:
	}
}
