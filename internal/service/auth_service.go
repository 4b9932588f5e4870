package service

import (
	"context"
	"errors"
	"net/http"
	"regexp"

	"partner-portal/internal/domain"
	"partner-portal/internal/messaging"
	"partner-portal/internal/observability"
	"partner-portal/internal/upstream"

	"github.com/google/uuid"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

var ErrInvalidInput = errors.New("invalid input")

// AuthService opens and closes portal sessions. A session is an opaque
// ID minted here; the upstream tokens it maps to live only in the
// credential store.
type AuthService struct {
	client *upstream.Client
	store  domain.CredentialStore
	audit  messaging.AuditPublisher
}

func NewAuthService(client *upstream.Client, store domain.CredentialStore, audit messaging.AuditPublisher) *AuthService {
	return &AuthService{
		client: client,
		store:  store,
		audit:  audit,
	}
}

type loginResponse struct {
	RefreshToken string `json:"refreshToken"`
	Role         string `json:"role"`
	Email        string `json:"email"`
}

type profileResponse struct {
	Role  string `json:"role"`
	Email string `json:"email"`
}

// Login authenticates against the partners API and, on success, mints a
// new portal session holding the returned tokens. The returned
// credentials reflect what was stored.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, domain.Credentials, error) {
	if !emailRegex.MatchString(email) || len(email) > 255 || password == "" {
		return "", domain.Credentials{}, ErrInvalidInput
	}

	sessionID := uuid.New().String()

	resp, err := s.client.Do(ctx, sessionID, upstream.Request{
		Method: http.MethodPost,
		Path:   upstream.LoginPath,
		JSON:   map[string]string{"email": email, "password": password},
	})
	if err != nil {
		s.auditEvent(ctx, messaging.AuditEvent{
			Action: messaging.ActionLoginFailed,
			Email:  email,
		})
		return "", domain.Credentials{}, err
	}

	accessToken := upstream.ExtractAccessToken(ctx, resp.Body)
	if accessToken == "" {
		return "", domain.Credentials{}, errors.New("login response carried no access token")
	}

	var payload loginResponse
	if err := resp.Decode(&payload); err != nil {
		return "", domain.Credentials{}, err
	}
	if payload.Email == "" {
		payload.Email = email
	}

	creds := domain.Credentials{
		AccessToken:  accessToken,
		RefreshToken: payload.RefreshToken,
		Role:         payload.Role,
		Email:        payload.Email,
	}

	// Stored before any follow-up call so the profile probe below runs
	// with a fully backed session (its refresh token in particular).
	if err := s.store.Set(ctx, sessionID, domain.CredentialPatch{
		AccessToken:  domain.Ptr(creds.AccessToken),
		RefreshToken: domain.Ptr(creds.RefreshToken),
		Role:         domain.Ptr(creds.Role),
		Email:        domain.Ptr(creds.Email),
	}); err != nil {
		return "", domain.Credentials{}, err
	}

	// Some backend versions omit the role from the login response; the
	// profile endpoint is authoritative in that case.
	if creds.Role == "" {
		if role, profileEmail := s.fetchProfile(ctx, sessionID); role != "" {
			patch := domain.CredentialPatch{Role: domain.Ptr(role)}
			creds.Role = role
			if creds.Email == "" && profileEmail != "" {
				creds.Email = profileEmail
				patch.Email = domain.Ptr(profileEmail)
			}
			if err := s.store.Set(ctx, sessionID, patch); err != nil {
				return "", domain.Credentials{}, err
			}
		}
	}

	s.auditEvent(ctx, messaging.AuditEvent{
		Action:    messaging.ActionLogin,
		SessionID: sessionID,
		Email:     creds.Email,
		Role:      creds.Role,
	})

	observability.FromContext(ctx).Info("portal session opened",
		"session_id", sessionID,
		"role", creds.Role)

	return sessionID, creds, nil
}

func (s *AuthService) fetchProfile(ctx context.Context, sessionID string) (role, email string) {
	resp, err := s.client.Do(ctx, sessionID, upstream.Request{
		Method: http.MethodGet,
		Path:   upstream.MePath,
	})
	if err != nil {
		observability.FromContext(ctx).Warn("profile lookup after login failed", "error", err.Error())
		return "", ""
	}

	var profile profileResponse
	if err := resp.Decode(&profile); err != nil {
		return "", ""
	}
	return profile.Role, profile.Email
}

// Logout closes the portal session. The upstream logout is best effort;
// the local session is cleared regardless so the browser cannot keep
// using it.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	creds, err := s.store.Get(ctx, sessionID)
	if err == nil && creds.IsAuthenticated() {
		if _, err := s.client.Do(ctx, sessionID, upstream.Request{
			Method: http.MethodPost,
			Path:   upstream.LogoutPath,
		}); err != nil {
			observability.FromContext(ctx).Warn("upstream logout failed", "error", err.Error())
		}
	}

	if err := s.store.Clear(ctx, sessionID); err != nil {
		return err
	}

	s.auditEvent(ctx, messaging.AuditEvent{
		Action:    messaging.ActionLogout,
		SessionID: sessionID,
		Email:     creds.Email,
	})

	return nil
}

// Me proxies the profile endpoint for the session, with the usual token
// refresh recovery.
func (s *AuthService) Me(ctx context.Context, sessionID string) (*upstream.Response, error) {
	return s.client.Do(ctx, sessionID, upstream.Request{
		Method: http.MethodGet,
		Path:   upstream.MePath,
	})
}

func (s *AuthService) auditEvent(ctx context.Context, event messaging.AuditEvent) {
	if err := s.audit.Publish(ctx, event); err != nil {
		observability.FromContext(ctx).Error("failed to publish audit event",
			"action", event.Action,
			"error", err.Error())
	}
}
