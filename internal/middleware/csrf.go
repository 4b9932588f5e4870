package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"partner-portal/internal/security"
)

// CSRF validates CSRF tokens for state-changing requests. Tokens are
// keyed HMACs of the portal session ID (see security.TokenManager), so
// validation needs no storage lookup.
//
// Token sources (checked in order):
// - Form field: csrf_token
// - Header: X-CSRF-Token
// - Header: X-XSRF-Token (alternate)
func CSRF(tokens *security.TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Safe methods don't mutate state
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			if isExemptPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			sessionID, ok := GetSessionID(r.Context())
			if !ok {
				// Anonymous mutating requests (login itself) carry no
				// session to forge against.
				next.ServeHTTP(w, r)
				return
			}

			submitted := extractCSRFToken(r)
			if submitted == "" {
				logCSRFFailure(r, sessionID, "missing token")
				jsonError(w, http.StatusForbidden, "Forbidden")
				return
			}

			if err := tokens.Verify(sessionID, submitted); err != nil {
				logCSRFFailure(r, sessionID, "invalid token")
				jsonError(w, http.StatusForbidden, "Forbidden")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isSafeMethod returns true if the HTTP method is idempotent and cacheable.
func isSafeMethod(method string) bool {
	return method == http.MethodGet ||
		method == http.MethodHead ||
		method == http.MethodOptions
}

// isExemptPath returns true for endpoints that skip CSRF validation:
// health checks, metrics, and websocket upgrades.
func isExemptPath(path string) bool {
	exemptPaths := []string{
		"/health",
		"/metrics",
		"/ws/",
	}

	for _, exemptPath := range exemptPaths {
		if strings.HasPrefix(path, exemptPath) {
			return true
		}
	}
	return false
}

// extractCSRFToken extracts the CSRF token from the request.
func extractCSRFToken(r *http.Request) string {
	// Multipart bodies must not be consumed here; the product upload
	// proxy forwards them verbatim. Header tokens only for those.
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "multipart/") {
		if token := r.FormValue("csrf_token"); token != "" {
			return token
		}
	}

	if token := r.Header.Get("X-CSRF-Token"); token != "" {
		return token
	}

	return r.Header.Get("X-XSRF-Token")
}

func logCSRFFailure(r *http.Request, sessionID, reason string) {
	slog.Warn("CSRF validation failed",
		slog.String("session_id", sessionID),
		slog.String("reason", reason),
		slog.String("method", r.Method),
		slog.String("path", r.RequestURI),
		slog.String("remote_addr", r.RemoteAddr),
	)
}
