package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"invasion-viewer/metrics"
	"invasion-viewer/models"

	"github.com/apex/log"
)

// Hub fans session events out to the websocket clients watching each session.
type Hub struct {
	// Registered clients by session id
	clients map[string]map[*Client]bool

	// Events waiting to be delivered
	events chan models.Event

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mutex sync.RWMutex
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		events:     make(chan models.Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop; it returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mutex.Lock()
			set, ok := h.clients[client.sessionID]
			if !ok {
				set = make(map[*Client]bool)
				h.clients[client.sessionID] = set
			}
			set[client] = true
			h.mutex.Unlock()
			metrics.WebsocketClients.Inc()
			log.Infof("WebSocket client registered for session %s", client.sessionID)

		case client := <-h.unregister:
			h.remove(client)

		case event := <-h.events:
			h.deliver(event)
		}
	}
}

// Notify queues an event for delivery. It never blocks the caller; when the
// queue is full the event is dropped.
func (h *Hub) Notify(event models.Event) {
	select {
	case h.events <- event:
	default:
		log.Warnf("WebSocket event queue full, dropping %s for session %s", event.Type, event.SessionID)
	}
}

func (h *Hub) deliver(event models.Event) {
	data, err := json.Marshal(models.BroadcastMessage{
		Type:      string(event.Type),
		Data:      event,
		Timestamp: event.Timestamp,
	})
	if err != nil {
		log.Errorf("Failed to marshal %s event: %v", event.Type, err)
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients[event.SessionID] {
		select {
		case client.send <- data:
		default:
			// Slow consumer.
			h.removeLocked(client)
		}
	}
	if event.Type == models.EventSessionClosed {
		for client := range h.clients[event.SessionID] {
			h.removeLocked(client)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.removeLocked(client)
}

func (h *Hub) removeLocked(client *Client) {
	set, ok := h.clients[client.sessionID]
	if !ok || !set[client] {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.clients, client.sessionID)
	}
	close(client.send)
	metrics.WebsocketClients.Dec()
	log.Infof("WebSocket client unregistered for session %s", client.sessionID)
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for _, set := range h.clients {
		for client := range set {
			h.removeLocked(client)
		}
	}
}

// GetConnectedClientsCount returns the number of connected clients
func (h *Hub) GetConnectedClientsCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}
