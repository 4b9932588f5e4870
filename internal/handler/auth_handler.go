package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"partner-portal/internal/middleware"
	"partner-portal/internal/security"
	"partner-portal/internal/service"
	"partner-portal/internal/session"
)

// LogoutNotifier tells a session's other tabs that it ended.
type LogoutNotifier interface {
	NotifyLogout(sessionID string)
}

// AuthHandler handles portal session endpoints.
type AuthHandler struct {
	authService   *service.AuthService
	resolver      *session.Resolver
	tokens        *security.TokenManager
	notifier      LogoutNotifier
	sessionTTL    time.Duration
	secureCookies bool
}

func NewAuthHandler(
	authService *service.AuthService,
	resolver *session.Resolver,
	tokens *security.TokenManager,
	notifier LogoutNotifier,
	sessionTTL time.Duration,
	secureCookies bool,
) *AuthHandler {
	return &AuthHandler{
		authService:   authService,
		resolver:      resolver,
		tokens:        tokens,
		notifier:      notifier,
		sessionTTL:    sessionTTL,
		secureCookies: secureCookies,
	}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionStateResponse is the session surface exposed to the browser.
// Tokens never appear here.
type SessionStateResponse struct {
	IsAuthenticated bool   `json:"isAuthenticated"`
	Role            string `json:"role,omitempty"`
	IsAuthorized    bool   `json:"isAuthorized"`
	Email           string `json:"email,omitempty"`
	CSRFToken       string `json:"csrfToken,omitempty"`
}

// Login authenticates against the partners API and opens a portal session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sessionID, creds, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if err == service.ErrInvalidInput {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeProxyError(w, r, err)
		return
	}

	h.setSessionCookie(w, sessionID)

	resolution := session.Evaluate(creds, nil)
	writeJSON(w, http.StatusOK, SessionStateResponse{
		IsAuthenticated: resolution.Authenticated,
		Role:            string(resolution.Role),
		IsAuthorized:    resolution.Authorized,
		Email:           resolution.Email,
		CSRFToken:       h.tokens.Generate(sessionID),
	})
}

// Logout closes the portal session and clears the cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.GetSessionID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Session not found")
		return
	}

	if err := h.authService.Logout(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to logout")
		return
	}

	if h.notifier != nil {
		h.notifier.NotifyLogout(sessionID)
	}

	clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Me proxies the profile endpoint for the current session.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.GetSessionID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":    "Not authenticated",
			"redirect": middleware.LoginPath,
		})
		return
	}

	resp, err := h.authService.Me(r.Context(), sessionID)
	if err != nil {
		writeProxyError(w, r, err)
		return
	}

	writeProxyResponse(w, resp)
}

// Session resolves the current session from the store alone. Anonymous
// requests get an unauthenticated resolution, not an error; the login
// page itself calls this.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.GetSessionID(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, SessionStateResponse{})
		return
	}

	resolution, err := h.resolver.Resolve(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve session")
		return
	}

	state := SessionStateResponse{
		IsAuthenticated: resolution.Authenticated,
		Role:            string(resolution.Role),
		IsAuthorized:    resolution.Authorized,
		Email:           resolution.Email,
	}
	if resolution.Authenticated {
		state.CSRFToken = h.tokens.Generate(sessionID)
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(h.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}
