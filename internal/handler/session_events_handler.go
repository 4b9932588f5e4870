package handler

import (
	"log/slog"
	"net/http"

	"partner-portal/internal/middleware"
	"partner-portal/internal/session"
	"partner-portal/internal/ws"

	"github.com/gorilla/websocket"
)

// SessionEventsHandler upgrades authenticated browsers onto the session
// event stream.
type SessionEventsHandler struct {
	hub      *ws.Hub
	resolver *session.Resolver
	upgrader websocket.Upgrader
}

func NewSessionEventsHandler(hub *ws.Hub, resolver *session.Resolver, allowedOrigins []string) *SessionEventsHandler {
	return &SessionEventsHandler{
		hub:      hub,
		resolver: resolver,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowedOrigins []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients send no Origin header
			return true
		}
		for _, o := range allowedOrigins {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// HandleConnection upgrades the request and subscribes it to the
// session's event stream.
func (h *SessionEventsHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.GetSessionID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	resolution, err := h.resolver.Resolve(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve session")
		return
	}
	if !resolution.Authenticated {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed",
			slog.String("error", err.Error()),
			slog.String("session_id", sessionID))
		return
	}

	client := ws.NewClient(h.hub, conn, sessionID)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
