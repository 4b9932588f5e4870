// Package testutil provides shared test utilities, mocks, and fixtures
// for testing the partner portal gateway.
package testutil

import (
	"context"
	"sync"

	"partner-portal/internal/domain"
)

// MockCredentialStore implements domain.CredentialStore for testing
type MockCredentialStore struct {
	mu sync.RWMutex

	// Function overrides - set these to customize behavior
	GetFunc   func(ctx context.Context, sessionID string) (domain.Credentials, error)
	SetFunc   func(ctx context.Context, sessionID string, patch domain.CredentialPatch) error
	ClearFunc func(ctx context.Context, sessionID string) error

	// In-memory storage for simple tests
	Sessions map[string]domain.Credentials
}

// NewMockCredentialStore creates a MockCredentialStore with initialized maps
func NewMockCredentialStore() *MockCredentialStore {
	return &MockCredentialStore{
		Sessions: make(map[string]domain.Credentials),
	}
}

func (m *MockCredentialStore) Get(ctx context.Context, sessionID string) (domain.Credentials, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, sessionID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Sessions[sessionID], nil
}

func (m *MockCredentialStore) Set(ctx context.Context, sessionID string, patch domain.CredentialPatch) error {
	if m.SetFunc != nil {
		return m.SetFunc(ctx, sessionID, patch)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sessions[sessionID] = m.Sessions[sessionID].Apply(patch)
	return nil
}

func (m *MockCredentialStore) Clear(ctx context.Context, sessionID string) error {
	if m.ClearFunc != nil {
		return m.ClearFunc(ctx, sessionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Sessions, sessionID)
	return nil
}

// MockNotifier records session revocations
type MockNotifier struct {
	mu      sync.Mutex
	Revoked []string
}

func (n *MockNotifier) SessionRevoked(ctx context.Context, sessionID, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Revoked = append(n.Revoked, sessionID)
}

// RevokedCount returns how many revocations were recorded
func (n *MockNotifier) RevokedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Revoked)
}
