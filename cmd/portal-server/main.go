package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"partner-portal/internal/config"
	"partner-portal/internal/domain"
	"partner-portal/internal/handler"
	"partner-portal/internal/messaging"
	"partner-portal/internal/middleware"
	"partner-portal/internal/observability"
	"partner-portal/internal/repository/memory"
	"partner-portal/internal/repository/postgres"
	"partner-portal/internal/security"
	"partner-portal/internal/service"
	"partner-portal/internal/session"
	"partner-portal/internal/upstream"
	"partner-portal/internal/ws"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// expirer is the session-cleanup surface shared by both store flavors.
type expirer interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

func main() {
	cfg := config.Load()

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logFormat := os.Getenv("LOG_FORMAT")
	if logFormat == "" {
		logFormat = "json"
	}
	observability.InitLogger(logLevel, logFormat)

	slog.Info("starting portal server",
		slog.String("environment", cfg.Environment),
		slog.String("upstream", cfg.UpstreamBaseURL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Credential store: postgres when configured, in-memory otherwise
	var (
		store      domain.CredentialStore
		db         *sql.DB
		sweepStore expirer
	)
	if cfg.DatabaseURL != "" {
		conn, err := config.NewPostgresConnection(cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer conn.Close()

		pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
		if err := conn.PingContext(pingCtx); err != nil {
			pingCancel()
			slog.Error("database ping failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		pingCancel()
		slog.Info("connected to postgresql")

		sealer := security.NewSealer(cfg.SessionSecret)
		repo, err := postgres.NewCredentialRepository(conn, sealer, cfg.SessionTTL)
		if err != nil {
			slog.Error("failed to prepare credential repository", slog.String("error", err.Error()))
			os.Exit(1)
		}
		store = repo
		sweepStore = repo
		db = conn
	} else {
		slog.Warn("DATABASE_URL not set, sessions are held in memory and lost on restart")
		mem := memory.NewCredentialStore(cfg.SessionTTL)
		store = mem
		sweepStore = mem
	}

	// Audit trail: optional broker
	var audit messaging.AuditPublisher = messaging.NopPublisher{}
	var rmq *messaging.RabbitMQ
	if cfg.RabbitMQURL != "" {
		rmqCtx, rmqCancel := context.WithTimeout(ctx, 60*time.Second)
		conn, err := messaging.NewRabbitMQWithRetry(rmqCtx, cfg.RabbitMQURL)
		rmqCancel()
		if err != nil {
			slog.Error("failed to connect to rabbitmq", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer conn.Close()
		audit = conn
		rmq = conn
	} else {
		slog.Info("RABBITMQ_URL not set, audit publishing disabled")
	}

	hub := ws.NewHub()
	go func() {
		if err := hub.Run(ctx); err != nil && err != context.Canceled {
			slog.Error("session event hub error", slog.String("error", err.Error()))
		}
	}()
	slog.Info("session event hub started")

	// Both the hub and the audit trail hear about forced logouts
	notifiers := []upstream.SessionNotifier{hub}
	if rmq != nil {
		notifiers = append(notifiers, rmq)
	}

	client := upstream.NewClient(cfg.UpstreamBaseURL, cfg.UpstreamTimeout, store, notifiers...)

	// SESSION_VERIFY adds an upstream probe per guarded request
	resolver := session.NewResolver(store)
	if cfg.VerifySessions {
		resolver = session.NewVerifyingResolver(store, client)
		slog.Info("session verification enabled, resolver probes the profile endpoint")
	}
	tokens := security.NewTokenManager(cfg.SessionSecret)

	authService := service.NewAuthService(client, store, audit)

	authHandler := handler.NewAuthHandler(authService, resolver, tokens, hub, cfg.SessionTTL, cfg.IsProduction())
	productHandler := handler.NewProductHandler(client)
	adminHandler := handler.NewAdminHandler(client, audit)

	origins := middleware.ParseOrigins(cfg.AllowedOrigins)
	eventsHandler := handler.NewSessionEventsHandler(hub, resolver, origins)

	go startSessionCleanup(ctx, sweepStore)
	slog.Info("session cleanup task started")

	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.CORS(origins))
	r.Use(middleware.Metrics())
	r.Use(middleware.Session())
	r.Use(middleware.CSRF(tokens))
	if cfg.IsDevelopment() {
		r.Use(middleware.OpenAPIValidator(middleware.DefaultOpenAPIValidatorConfig()))
	}

	r.Get("/health", handler.Health)
	r.Get("/health/ready", handler.Ready(db, rmq))
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/login", servePage("./static/login.html"))
	r.Get("/unauthorized", servePage("./static/unauthorized.html"))
	r.Get("/", servePage("./static/index.html"))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	})

	authLimiter := middleware.NewRateLimiter(5, 10)
	defer authLimiter.Stop()
	apiLimiter := middleware.NewRateLimiter(20, 50)
	defer apiLimiter.Stop()

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authLimiter.Middleware())
			r.Post("/auth/login", authHandler.Login)
			r.Get("/auth/session", authHandler.Session)
		})

		r.Group(func(r chi.Router) {
			r.Use(apiLimiter.Middleware())

			r.Group(func(r chi.Router) {
				r.Use(middleware.Guard(resolver))
				r.Post("/auth/logout", authHandler.Logout)
				r.Get("/auth/me", authHandler.Me)
				r.Get("/products", productHandler.List)
			})

			// Catalog reads are open to any authenticated partner above;
			// catalog writes are admin only.
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
				r.Put("/admin/users/{id}/approve", adminHandler.Approve)
				r.Delete("/admin/users/{id}", adminHandler.Delete)
			})
		})
	})

	// Auth handled inside the handler; the guard's redirect semantics
	// don't fit a websocket upgrade
	r.Get("/ws/session", eventsHandler.HandleConnection)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("portal server listening", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
	}

	cancel()
	time.Sleep(100 * time.Millisecond)

	slog.Info("server stopped gracefully")
}

func servePage(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, path)
	}
}

// startSessionCleanup sweeps expired sessions hourly.
func startSessionCleanup(ctx context.Context, store expirer) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping session cleanup task")
			return
		case <-ticker.C:
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			count, err := store.DeleteExpired(cleanupCtx)
			if err != nil {
				slog.Error("session cleanup failed", slog.String("error", err.Error()))
			} else {
				slog.Info("session cleanup completed",
					slog.Int64("sessions_deleted", count))
			}
			cancel()
		}
	}
}
