package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/princekumarofficial/transcode-service/internal/types"
)

// Hub maintains the set of connected event watchers and fans job events
// out to all of them
type Hub struct {
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client

	// Raw JSON events waiting to be fanned out
	broadcast chan []byte

	// Closed when Run returns
	done chan struct{}

	mu     sync.RWMutex
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run is the hub's main loop. It closes every client when ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			h.logger.Info("event watcher connected", "client", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("event watcher disconnected", "client", client.id)
			}
			h.mu.Unlock()

		case payload := <-h.broadcast:
			h.fanOut(payload)
		}
	}
}

// RegisterClient reports false once the hub has stopped.
func (h *Hub) RegisterClient(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues payload for every client. It drops the payload when the
// queue is full rather than block a transcode attempt.
func (h *Hub) Broadcast(payload []byte) {
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("broadcast queue full, dropping event")
	}
}

// Publish lets the hub stand in for events.Publisher when no Redis is
// configured, so watchers still see this process's events.
func (h *Hub) Publish(_ context.Context, eventType types.EventType, data *types.JobEvent) error {
	payload, err := json.Marshal(types.NewEvent(eventType, data))
	if err != nil {
		return err
	}
	h.Broadcast(payload)
	return nil
}

func (h *Hub) fanOut(payload []byte) {
	h.mu.RLock()
	var slow []*Client
	for c := range h.clients {
		if !c.Send(payload) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range slow {
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			close(c.send)
			h.logger.Warn("event watcher too slow, disconnected", "client", c.id)
		}
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected watchers
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
