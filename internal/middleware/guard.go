package middleware

import (
	"context"
	"net/http"
	"strings"

	"partner-portal/internal/domain"
	"partner-portal/internal/observability"
	"partner-portal/internal/session"
)

// Redirect targets for browser navigation.
const (
	LoginPath        = "/login"
	UnauthorizedPath = "/unauthorized"
)

const resolutionKey contextKey = "session_resolution"

// Guard gates a route on a required-role set. Per request it resolves the
// session live against the credential store and settles into exactly one
// outcome: serve the protected handler, send the browser to the login
// page, or send it to the unauthorized page. Admin passes every gate; an
// empty required set admits any authenticated user.
//
// API clients (non-HTML Accept) get 401/403 JSON instead of redirects.
func Guard(resolver *session.Resolver, required ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID, _ := GetSessionID(r.Context())

			res, err := resolver.Resolve(r.Context(), sessionID, required...)
			if err != nil {
				observability.FromContext(r.Context()).Error("session resolution failed",
					"error", err.Error())
				jsonError(w, http.StatusInternalServerError, "Session lookup failed")
				return
			}

			if !res.Authenticated {
				deny(w, r, LoginPath, http.StatusUnauthorized, "Not authenticated")
				return
			}

			if !res.Authorized {
				deny(w, r, UnauthorizedPath, http.StatusForbidden, "Insufficient role")
				return
			}

			ctx := context.WithValue(r.Context(), resolutionKey, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetResolution returns the resolution the Guard computed for this request.
func GetResolution(ctx context.Context) (session.Resolution, bool) {
	res, ok := ctx.Value(resolutionKey).(session.Resolution)
	return res, ok
}

func deny(w http.ResponseWriter, r *http.Request, location string, status int, message string) {
	if wantsHTML(r) {
		http.Redirect(w, r, location, http.StatusSeeOther)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `","redirect":"` + location + `"}`))
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `"}`))
}

func wantsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}
