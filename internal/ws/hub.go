// Package ws streams session lifecycle events to connected browsers.
// Each client subscribes to its own portal session; when the gateway
// revokes that session the browser learns about it immediately instead
// of on its next failed request.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"partner-portal/internal/observability"
)

// Event is a message pushed to session event subscribers.
type Event struct {
	Type   string    `json:"type"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

const (
	EventSessionRevoked = "session_revoked"
	EventLogout         = "logout"
)

type notification struct {
	sessionID string
	event     Event
}

// Hub tracks session event subscribers keyed by session ID. It
// implements the upstream client's notifier interface so a failed token
// refresh reaches the browser without polling.
type Hub struct {
	clients map[string]map[*Client]bool

	notify     chan notification
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		notify:     make(chan notification, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop and blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session event hub shutting down")
			return ctx.Err()

		case client := <-h.register:
			if h.clients[client.sessionID] == nil {
				h.clients[client.sessionID] = make(map[*Client]bool)
			}
			h.clients[client.sessionID][client] = true
			observability.SessionEventConnectionsActive.Inc()
			slog.Debug("session event subscriber connected",
				slog.String("session_id", client.sessionID))

		case client := <-h.unregister:
			h.unregisterClient(client)

		case n := <-h.notify:
			h.deliver(n)
		}
	}
}

func (h *Hub) deliver(n notification) {
	clients, ok := h.clients[n.sessionID]
	if !ok {
		return
	}

	data, err := json.Marshal(n.event)
	if err != nil {
		slog.Error("failed to marshal session event",
			slog.String("error", err.Error()),
			slog.String("type", n.event.Type))
		return
	}

	for client := range clients {
		select {
		case client.send <- data:
			observability.SessionEventsSent.WithLabelValues(n.event.Type).Inc()
		default:
			// Subscriber is not draining its buffer
			h.closeClientSend(client)
			delete(clients, client)
			observability.SessionEventConnectionsActive.Dec()
		}
	}

	// A revoked session has no future events; drop its subscribers
	if n.event.Type == EventSessionRevoked {
		for client := range clients {
			h.closeClientSend(client)
			observability.SessionEventConnectionsActive.Dec()
		}
		delete(h.clients, n.sessionID)
	}
}

func (h *Hub) unregisterClient(client *Client) {
	clients, ok := h.clients[client.sessionID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}

	delete(clients, client)
	h.closeClientSend(client)
	observability.SessionEventConnectionsActive.Dec()
	slog.Debug("session event subscriber disconnected",
		slog.String("session_id", client.sessionID))

	if len(clients) == 0 {
		delete(h.clients, client.sessionID)
	}
}

func (h *Hub) closeClientSend(client *Client) {
	select {
	case <-client.send:
	default:
		close(client.send)
	}
}

func (h *Hub) shutdown() {
	close(h.done)

	for _, clients := range h.clients {
		for client := range clients {
			h.closeClientSend(client)
		}
	}

	slog.Info("session event hub shutdown complete")
}

// SessionRevoked pushes a session_revoked event to every subscriber of
// the session. Safe to call from request goroutines; never blocks the
// caller even when the hub is saturated.
func (h *Hub) SessionRevoked(ctx context.Context, sessionID, reason string) {
	h.send(sessionID, Event{Type: EventSessionRevoked, Reason: reason, At: time.Now().UTC()})
}

// NotifyLogout tells a session's other tabs that the user logged out.
func (h *Hub) NotifyLogout(sessionID string) {
	h.send(sessionID, Event{Type: EventLogout, At: time.Now().UTC()})
}

func (h *Hub) send(sessionID string, event Event) {
	select {
	case h.notify <- notification{sessionID: sessionID, event: event}:
	case <-h.done:
	default:
		slog.Warn("session event dropped, hub saturated",
			slog.String("session_id", sessionID),
			slog.String("type", event.Type))
	}
}

// Register subscribes a client to its session's events.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}
