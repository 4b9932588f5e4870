package memory

import (
	"context"
	"sync"
	"time"

	"partner-portal/internal/domain"
)

type entry struct {
	creds     domain.Credentials
	expiresAt time.Time
}

// CredentialStore is an in-process credential store for development and
// tests. Sessions do not survive a restart; production deployments use the
// postgres store instead.
type CredentialStore struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// NewCredentialStore creates an in-memory credential store. A zero ttl
// means sessions never expire.
func NewCredentialStore(ttl time.Duration) *CredentialStore {
	return &CredentialStore{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *CredentialStore) Get(ctx context.Context, sessionID string) (domain.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[sessionID]
	if !ok {
		return domain.Credentials{}, nil
	}
	if !e.expiresAt.IsZero() && s.now().After(e.expiresAt) {
		return domain.Credentials{}, nil
	}
	return e.creds, nil
}

func (s *CredentialStore) Set(ctx context.Context, sessionID string, patch domain.CredentialPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[sessionID]
	e.creds = e.creds.Apply(patch)
	if s.ttl > 0 {
		e.expiresAt = s.now().Add(s.ttl)
	}
	s.entries[sessionID] = e
	return nil
}

func (s *CredentialStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, sessionID)
	return nil
}

// DeleteExpired removes expired sessions and returns how many were dropped.
func (s *CredentialStore) DeleteExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	now := s.now()
	for id, e := range s.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(s.entries, id)
			count++
		}
	}
	return count, nil
}
