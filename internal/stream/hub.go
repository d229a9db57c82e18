package stream

import (
	"encoding/json"
	"sync"

	"matrixci/internal/logger"
)

// Hub maintains the set of subscribed clients and fans published events out
// to the clients watching the event's run.
type Hub struct {
	// Subscribed clients
	clients map[*Client]bool

	// Published events from the runner
	events chan Event

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed by Stop to end the run loop
	done     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a new hub. Call Run in a goroutine to start it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		events:     make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run dispatches events until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			logger.Debug("Stream client subscribed", "run_id", client.runID, "clients", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			logger.Debug("Stream client unsubscribed", "clients", len(h.clients))

		case event := <-h.events:
			data, err := json.Marshal(event)
			if err != nil {
				logger.Error("Failed to marshal stream event", "error", err)
				continue
			}
			for client := range h.clients {
				if client.runID != event.RunID {
					continue
				}
				select {
				case client.send <- data:
				default:
					// Slow client: drop it rather than block the hub
					delete(h.clients, client)
					close(client.send)
				}
			}

		case <-h.done:
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			return
		}
	}
}

// Stop ends the run loop and disconnects all clients. Safe to call more
// than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Publish implements Sink. Events are dropped when the hub's buffer is full;
// the stream is a live view, the database is the authoritative record.
func (h *Hub) Publish(event Event) {
	select {
	case h.events <- event:
	case <-h.done:
	default:
		logger.Warn("Stream buffer full, dropping event", "type", string(event.Type), "run_id", event.RunID)
	}
}
