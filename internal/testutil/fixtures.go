package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"partner-portal/internal/domain"
)

// Counter for generating unique IDs
var idCounter atomic.Int64

// NextID generates a unique ID for test fixtures
func NextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, idCounter.Add(1))
}

// CredentialsOptions allows customizing credential fixture creation
type CredentialsOptions struct {
	AccessToken  string
	RefreshToken string
	Role         string
	Email        string
}

// NewTestCredentials creates credentials with sensible defaults
func NewTestCredentials(opts ...func(*CredentialsOptions)) domain.Credentials {
	o := &CredentialsOptions{
		AccessToken:  NextID("access"),
		RefreshToken: NextID("refresh"),
		Role:         "professional",
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.Email == "" {
		o.Email = "partner@example.com"
	}

	return domain.Credentials{
		AccessToken:  o.AccessToken,
		RefreshToken: o.RefreshToken,
		Role:         o.Role,
		Email:        o.Email,
	}
}

// WithRole overrides the fixture role
func WithRole(role string) func(*CredentialsOptions) {
	return func(o *CredentialsOptions) { o.Role = role }
}

// WithAccessToken overrides the fixture access token
func WithAccessToken(token string) func(*CredentialsOptions) {
	return func(o *CredentialsOptions) { o.AccessToken = token }
}

// WithEmail overrides the fixture email
func WithEmail(email string) func(*CredentialsOptions) {
	return func(o *CredentialsOptions) { o.Email = email }
}

// FakePartnersAPI is an httptest-backed stand-in for the remote partners
// API. It accepts one email/password pair, hands out bearer tokens, and
// serves minimal product and user collections so the gateway can be
// exercised end to end without a real backend.
type FakePartnersAPI struct {
	Server *httptest.Server

	Email        string
	Password     string
	Role         string
	AccessToken  string
	RefreshToken string

	mu              sync.Mutex
	refreshCalls    int
	loginCalls      int
	logoutCalls     int
	lastContentType string
	revokedRefresh  bool
	Users           []map[string]any
}

// NewFakePartnersAPI starts the fake API. Callers must Close it.
func NewFakePartnersAPI() *FakePartnersAPI {
	f := &FakePartnersAPI{
		Email:        "alice@example.com",
		Password:     "correct-horse",
		Role:         "professional",
		AccessToken:  NextID("access"),
		RefreshToken: NextID("refresh"),
		Users: []map[string]any{
			{"id": "u1", "email": "alice@example.com", "role": "professional"},
			{"id": "u2", "email": "bob@example.com", "role": "pending"},
			{"id": "u3", "email": "carol@example.com", "role": "pending"},
		},
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

// Close shuts the fake down.
func (f *FakePartnersAPI) Close() {
	f.Server.Close()
}

// URL returns the fake's base URL.
func (f *FakePartnersAPI) URL() string {
	return f.Server.URL
}

// RefreshCalls reports how many refresh requests arrived.
func (f *FakePartnersAPI) RefreshCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls
}

// LoginCalls reports how many login requests arrived.
func (f *FakePartnersAPI) LoginCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginCalls
}

// LogoutCalls reports how many logout requests arrived.
func (f *FakePartnersAPI) LogoutCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logoutCalls
}

// LastContentType returns the content type of the last product write.
func (f *FakePartnersAPI) LastContentType() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastContentType
}

// ExpireAccessToken rotates the valid access token so outstanding bearer
// tokens start failing with 401.
func (f *FakePartnersAPI) ExpireAccessToken() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AccessToken = NextID("access")
}

// RevokeRefreshToken makes every subsequent refresh attempt fail.
func (f *FakePartnersAPI) RevokeRefreshToken() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokedRefresh = true
}

func (f *FakePartnersAPI) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.URL.Path == "/auth/login" && r.Method == http.MethodPost:
		f.loginCalls++
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Email != f.Email || body.Password != f.Password {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"accessToken":  f.AccessToken,
			"refreshToken": f.RefreshToken,
			"role":         f.Role,
		})

	case r.URL.Path == "/auth/refresh" && r.Method == http.MethodPost:
		f.refreshCalls++
		var body struct {
			Token string `json:"token"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if f.revokedRefresh || body.Token != f.RefreshToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "refresh token invalid"})
			return
		}
		f.AccessToken = NextID("access")
		writeJSON(w, http.StatusOK, map[string]string{"accessToken": f.AccessToken})

	case r.URL.Path == "/auth/logout" && r.Method == http.MethodPost:
		f.logoutCalls++
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})

	case r.URL.Path == "/auth/me":
		if !f.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "token expired"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"email": f.Email, "role": f.Role})

	case r.URL.Path == "/products" && r.Method == http.MethodGet:
		if !f.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "token expired"})
			return
		}
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": "p1", "product_name": "Hub", "msrp": 199.0},
			{"id": "p2", "product_name": "Panel", "msrp": 899.0},
		})

	case strings.HasPrefix(r.URL.Path, "/products") && (r.Method == http.MethodPost || r.Method == http.MethodPut):
		if !f.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "token expired"})
			return
		}
		f.lastContentType = r.Header.Get("Content-Type")
		writeJSON(w, http.StatusCreated, map[string]string{"id": "p-new"})

	case strings.HasPrefix(r.URL.Path, "/products/") && r.Method == http.MethodDelete:
		if !f.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "token expired"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})

	case r.URL.Path == "/admin/users" && r.Method == http.MethodGet:
		if !f.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "token expired"})
			return
		}
		writeJSON(w, http.StatusOK, f.Users)

	case strings.HasPrefix(r.URL.Path, "/auth/approve/") && r.Method == http.MethodPut:
		if !f.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "token expired"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})

	case strings.HasPrefix(r.URL.Path, "/admin/users/") && r.Method == http.MethodDelete:
		if !f.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "token expired"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})

	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
	}
}

func (f *FakePartnersAPI) authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer "+f.AccessToken
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
