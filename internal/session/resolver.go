package session

import (
	"context"
	"net/http"

	"partner-portal/internal/domain"
	"partner-portal/internal/upstream"
)

// Resolution is the authorization state derived for one request.
type Resolution struct {
	Authenticated bool        `json:"authenticated"`
	Role          domain.Role `json:"role,omitempty"`
	Authorized    bool        `json:"authorized"`
	Email         string      `json:"email,omitempty"`
}

// Prober checks token freshness against the partners API before a route
// renders; a stale access token is refreshed (or the session invalidated)
// as a side effect of the probe going through the upstream client.
type Prober interface {
	Do(ctx context.Context, sessionID string, req upstream.Request) (*upstream.Response, error)
}

// Resolver derives route authorization state from the credential store.
// Every Resolve call reads the store live, so a forced logout performed by
// the upstream client mid-session is visible immediately; no snapshot can
// go stale.
type Resolver struct {
	store  domain.CredentialStore
	prober Prober
}

// NewResolver creates a resolver over the credential store.
func NewResolver(store domain.CredentialStore) *Resolver {
	return &Resolver{store: store}
}

// NewVerifyingResolver additionally probes /auth/me on each resolve, so a
// dead access token is caught (and refreshed or torn down) before the
// protected route runs.
func NewVerifyingResolver(store domain.CredentialStore, prober Prober) *Resolver {
	return &Resolver{store: store, prober: prober}
}

// Resolve derives the resolution for a session against a required-role
// set. An empty set means "any authenticated user".
func (r *Resolver) Resolve(ctx context.Context, sessionID string, required ...domain.Role) (Resolution, error) {
	creds, err := r.store.Get(ctx, sessionID)
	if err != nil {
		return Resolution{}, err
	}

	if r.prober != nil && creds.IsAuthenticated() {
		if _, err := r.prober.Do(ctx, sessionID, upstream.Request{
			Method: http.MethodGet,
			Path:   upstream.MePath,
		}); err != nil {
			// A refresh failure already cleared the store; re-read so the
			// resolution reflects the teardown. Other errors (upstream
			// down) keep the stored state rather than locking everyone out.
			if upstream.IsRefreshError(err) {
				if creds, err = r.store.Get(ctx, sessionID); err != nil {
					return Resolution{}, err
				}
			}
		}
	}

	return Evaluate(creds, required), nil
}

// Evaluate is the pure authorization decision. Rules, in order: an
// unauthenticated session is never authorized; admin is authorized for
// every required set; an empty set admits any authenticated user;
// otherwise the role must be a member of the set. Role comparison is
// case-sensitive and an unrecognized role never matches.
func Evaluate(creds domain.Credentials, required []domain.Role) Resolution {
	res := Resolution{
		Authenticated: creds.IsAuthenticated(),
		Role:          domain.Role(creds.Role),
		Email:         creds.Email,
	}

	if !res.Authenticated {
		return res
	}

	switch {
	case res.Role == domain.RoleAdmin:
		res.Authorized = true
	case len(required) == 0:
		res.Authorized = true
	case res.Role.In(required):
		res.Authorized = true
	}

	return res
}
