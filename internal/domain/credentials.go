package domain

import (
	"context"
)

// Credentials is the security context held for one browser session: the
// upstream bearer tokens plus the advisory role and email. An empty string
// means the field is absent.
type Credentials struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Role         string `json:"role,omitempty"`
	Email        string `json:"email,omitempty"`
}

// IsAuthenticated reports whether the session holds an access token.
func (c Credentials) IsAuthenticated() bool {
	return c.AccessToken != ""
}

// CredentialPatch is a partial credentials update. Nil fields are left
// untouched; pointing at an empty string clears the field.
type CredentialPatch struct {
	AccessToken  *string
	RefreshToken *string
	Role         *string
	Email        *string
}

// Apply merges the patch into a copy of the credentials.
func (c Credentials) Apply(p CredentialPatch) Credentials {
	if p.AccessToken != nil {
		c.AccessToken = *p.AccessToken
	}
	if p.RefreshToken != nil {
		c.RefreshToken = *p.RefreshToken
	}
	if p.Role != nil {
		c.Role = *p.Role
	}
	if p.Email != nil {
		c.Email = *p.Email
	}
	return c
}

// Ptr returns a pointer to s, for building CredentialPatch literals.
func Ptr(s string) *string {
	return &s
}

// CredentialStore defines the interface for per-session credential access.
// The store is the sole owner of session state: every read goes through it,
// no component caches a private copy.
//
// Get returns zero Credentials for an unknown session; errors are reserved
// for storage failures. Clear is atomic from the caller's perspective: a
// concurrent Get sees either the full credentials or none of them.
type CredentialStore interface {
	Get(ctx context.Context, sessionID string) (Credentials, error)
	Set(ctx context.Context, sessionID string, patch CredentialPatch) error
	Clear(ctx context.Context, sessionID string) error
}
