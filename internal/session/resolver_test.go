package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"partner-portal/internal/domain"
	"partner-portal/internal/repository/memory"
	"partner-portal/internal/upstream"
)

func TestEvaluate_AdminBypassesEveryRequiredSet(t *testing.T) {
	creds := domain.Credentials{AccessToken: "t", Role: "admin"}

	tests := []struct {
		name     string
		required []domain.Role
	}{
		{"empty_set", nil},
		{"unrelated_set", []domain.Role{domain.RoleMaster}},
		{"partner_set", []domain.Role{domain.RoleProfessional, domain.RoleExpert}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Evaluate(creds, tt.required)
			if !res.Authorized {
				t.Errorf("Expected admin authorized for %v", tt.required)
			}
		})
	}
}

func TestEvaluate_RoleMembership(t *testing.T) {
	required := []domain.Role{domain.RoleProfessional, domain.RoleExpert, domain.RoleMaster}

	tests := []struct {
		name       string
		role       string
		authorized bool
	}{
		{"member_professional", "professional", true},
		{"member_master", "master", true},
		{"pending_not_member", "pending", false},
		{"absent_role", "", false},
		{"unknown_role", "superuser", false},
		{"case_sensitive", "Professional", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Evaluate(domain.Credentials{AccessToken: "t", Role: tt.role}, required)
			if !res.Authenticated {
				t.Fatal("Expected authenticated with access token present")
			}
			if res.Authorized != tt.authorized {
				t.Errorf("Authorized = %v, want %v for role %q", res.Authorized, tt.authorized, tt.role)
			}
		})
	}
}

func TestEvaluate_EmptySetMeansAnyAuthenticated(t *testing.T) {
	res := Evaluate(domain.Credentials{AccessToken: "t", Role: "pending"}, nil)
	if !res.Authorized {
		t.Error("Expected empty required set to admit any authenticated user")
	}
}

func TestEvaluate_Unauthenticated(t *testing.T) {
	res := Evaluate(domain.Credentials{Role: "admin"}, nil)
	if res.Authenticated {
		t.Error("Expected unauthenticated without access token")
	}
	if res.Authorized {
		t.Error("Expected unauthorized without access token, even with admin role")
	}
}

func TestResolver_ReflectsStoreChanges(t *testing.T) {
	store := memory.NewCredentialStore(0)
	resolver := NewResolver(store)
	ctx := context.Background()

	store.Set(ctx, "s1", domain.CredentialPatch{
		AccessToken: domain.Ptr("t"),
		Role:        domain.Ptr("expert"),
	})

	res, err := resolver.Resolve(ctx, "s1", domain.RoleExpert)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !res.Authorized {
		t.Error("Expected expert authorized")
	}

	// A forced logout performed elsewhere is visible on the next resolve
	store.Clear(ctx, "s1")

	res, err = resolver.Resolve(ctx, "s1", domain.RoleExpert)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Authenticated || res.Authorized {
		t.Error("Expected resolution to reflect cleared store")
	}
}

func TestVerifyingResolver_ProbeTearsDownDeadSession(t *testing.T) {
	// Upstream rejects everything: the /auth/me probe fails, the refresh
	// fails, and the session must resolve as unauthenticated.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"token expired"}`))
	}))
	defer server.Close()

	store := memory.NewCredentialStore(0)
	ctx := context.Background()
	store.Set(ctx, "s1", domain.CredentialPatch{
		AccessToken:  domain.Ptr("stale"),
		RefreshToken: domain.Ptr("dead"),
		Role:         domain.Ptr("master"),
	})

	client := upstream.NewClient(server.URL, 5*time.Second, store)
	resolver := NewVerifyingResolver(store, client)

	res, err := resolver.Resolve(ctx, "s1", domain.RoleMaster)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Authenticated {
		t.Error("Expected dead session to resolve unauthenticated")
	}

	creds, _ := store.Get(ctx, "s1")
	if creds != (domain.Credentials{}) {
		t.Errorf("Expected store cleared by probe, got %+v", creds)
	}
}
