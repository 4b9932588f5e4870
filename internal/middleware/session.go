package middleware

import (
	"context"
	"net/http"

	"partner-portal/internal/observability"
)

// SessionCookieName is the opaque portal session identifier cookie.
const SessionCookieName = "portal_session"

type contextKey string

const sessionIDKey contextKey = "portal_session_id"

// Session extracts the portal session cookie and stashes its value in the
// request context. A missing cookie is not an error here; the Guard
// decides what an anonymous request may do.
func Session() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), sessionIDKey, cookie.Value)
			ctx = observability.WithSessionID(ctx, cookie.Value)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSessionID returns the portal session ID from the request context.
func GetSessionID(ctx context.Context) (string, bool) {
	sid, ok := ctx.Value(sessionIDKey).(string)
	return sid, ok
}

// WithSessionID injects a session ID into a context, for tests and
// internal callers.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}
