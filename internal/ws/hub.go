package ws

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Event is a named payload pushed to connected clients. Payloads are
// plain key/value records; delivery is best effort.
type Event struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data"`
}

// Hub tracks connected websocket clients and fans events out to all of
// them. It is the live counterpart to the persisted notification rows:
// missed events are not replayed.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan Event

	mu      sync.RWMutex
	clients map[*Client]struct{}

	logger *zap.Logger
}

// NewHub builds a hub. Run must be called before serving connections.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Event, 64),
		clients:    make(map[*Client]struct{}),
		logger:     logger,
	}
}

// Run processes registrations and broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("websocket client connected", zap.String("username", client.username))
		case client := <-h.unregister:
			h.drop(client)
		case event := <-h.broadcast:
			h.send(event)
		}
	}
}

// Broadcast queues an event for delivery to every connected client.
// It never blocks the caller: if the hub is saturated the event is
// dropped, since the durable record lives in the database.
func (h *Hub) Broadcast(event string, data map[string]interface{}) {
	select {
	case h.broadcast <- Event{Event: event, Data: data}:
	default:
		h.logger.Warn("live event dropped, hub saturated", zap.String("event", event))
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) send(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal live event", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			// Slow consumer: evict rather than stall the hub.
			delete(h.clients, client)
			close(client.send)
		}
	}
}

func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}
