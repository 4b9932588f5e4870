//go:build e2e
// +build e2e

// Package e2e exercises the assembled portal gateway against a fake
// partners API: login, guarded routes, CSRF, transparent token refresh,
// forced logout, and the session event stream.
package e2e

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"partner-portal/internal/domain"
	"partner-portal/internal/handler"
	"partner-portal/internal/messaging"
	"partner-portal/internal/middleware"
	"partner-portal/internal/repository/memory"
	"partner-portal/internal/security"
	"partner-portal/internal/service"
	"partner-portal/internal/session"
	"partner-portal/internal/testutil"
	"partner-portal/internal/upstream"
	"partner-portal/internal/ws"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type gateway struct {
	Server  *httptest.Server
	API     *testutil.FakePartnersAPI
	Store   *memory.CredentialStore
	Client  *http.Client
	cancel  context.CancelFunc
	cleanup []func()
}

// newGateway wires the whole portal server the way cmd/portal-server
// does, but over an in-memory store and the fake partners API.
func newGateway(t *testing.T) *gateway {
	t.Helper()

	api := testutil.NewFakePartnersAPI()
	store := memory.NewCredentialStore(time.Hour)
	tokens := security.NewTokenManager("e2e-secret")

	ctx, cancel := context.WithCancel(context.Background())
	hub := ws.NewHub()
	go func() { _ = hub.Run(ctx) }()

	client := upstream.NewClient(api.URL(), 5*time.Second, store, hub)
	resolver := session.NewResolver(store)
	authService := service.NewAuthService(client, store, messaging.NopPublisher{})

	authHandler := handler.NewAuthHandler(authService, resolver, tokens, hub, time.Hour, false)
	productHandler := handler.NewProductHandler(client)
	adminHandler := handler.NewAdminHandler(client, messaging.NopPublisher{})
	eventsHandler := handler.NewSessionEventsHandler(hub, resolver, []string{"*"})

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Session())
	r.Use(middleware.CSRF(tokens))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", authHandler.Login)
		r.Get("/auth/session", authHandler.Session)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Guard(resolver))
			r.Post("/auth/logout", authHandler.Logout)
			r.Get("/auth/me", authHandler.Me)
			r.Get("/products", productHandler.List)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Guard(resolver, domain.RoleAdmin))
			r.Post("/products", productHandler.Create)
			r.Put("/products/{id}", productHandler.Update)
			r.Delete("/products/{id}", productHandler.Delete)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Guard(resolver, domain.RoleAdmin))
			r.Get("/admin/users", adminHandler.ListUsers)
			r.Get("/admin/applications", adminHandler.ListApplications)
		})
	})

	r.Get("/ws/session", eventsHandler.HandleConnection)

	server := httptest.NewServer(r)

	jar, _ := cookiejar.New(nil)
	httpClient := &http.Client{
		Timeout: 10 * time.Second,
		Jar:     jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &gateway{
		Server: server,
		API:    api,
		Store:  store,
		Client: httpClient,
		cancel: cancel,
		cleanup: []func(){
			server.Close,
			api.Close,
		},
	}
}

func (g *gateway) Close() {
	g.cancel()
	for _, fn := range g.cleanup {
		fn()
	}
}
