package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port            string
	UpstreamBaseURL string // partners API origin, e.g. https://api.example.com/partners
	UpstreamTimeout time.Duration
	DatabaseURL     string // empty means in-memory credential store
	RabbitMQURL     string // empty disables audit publishing
	SessionSecret   string
	SessionTTL      time.Duration
	VerifySessions  bool // probe /auth/me on every resolve
	AllowedOrigins  string
	Environment     string // development, staging, production
}

// Load loads configuration from environment variables and validates for production
func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		UpstreamBaseURL: getEnv("UPSTREAM_BASE_URL", "http://localhost:9000/partners"),
		UpstreamTimeout: getDuration("UPSTREAM_TIMEOUT_SECONDS", 15*time.Second),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		RabbitMQURL:     getEnv("RABBITMQ_URL", ""),
		SessionSecret:   getEnv("SESSION_SECRET", ""),
		SessionTTL:      getDuration("SESSION_TTL_SECONDS", 7*24*time.Hour),
		VerifySessions:  getBool("SESSION_VERIFY", false),
		AllowedOrigins:  getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:8080"),
		Environment:     getEnv("ENVIRONMENT", "development"),
	}

	// Validate production configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	return cfg
}

// Validate checks configuration for security and correctness
func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(c.UpstreamBaseURL); err != nil {
		return fmt.Errorf("UPSTREAM_BASE_URL is not a valid URL: %w", err)
	}

	// Production environment requires strong secrets
	if c.IsProduction() {
		if c.SessionSecret == "" || c.SessionSecret == "change-this-in-production" {
			return fmt.Errorf("SESSION_SECRET must be set to a strong random value in production")
		}

		if len(c.SessionSecret) < 32 {
			return fmt.Errorf("SESSION_SECRET must be at least 32 characters in production (got %d)", len(c.SessionSecret))
		}

		// Warn about non-HTTPS origins in production
		if c.AllowedOrigins != "" {
			log.Println("WARNING: Ensure ALLOWED_ORIGINS uses HTTPS in production")
		}
	} else if c.SessionSecret == "" {
		// Development/staging: provide default if not set
		c.SessionSecret = "dev-secret-not-for-production"
		log.Println("Using default SESSION_SECRET for development")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev" || c.Environment == ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Invalid %s=%q, using default %t", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds <= 0 {
		log.Printf("Invalid %s=%q, using default %s", key, value, defaultValue)
		return defaultValue
	}
	return time.Duration(seconds) * time.Second
}
