//go:build integration
// +build integration

package postgres_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"partner-portal/internal/domain"
	"partner-portal/internal/repository/postgres"
	"partner-portal/internal/security"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a PostgreSQL container and returns a database connection
func setupPostgres(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithDeadline(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connStr := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	// Wait for PostgreSQL to be fully ready
	time.Sleep(2 * time.Second)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err, "failed to connect to PostgreSQL")

	err = runMigrations(db)
	require.NoError(t, err, "failed to run migrations")

	cleanup := func() {
		db.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

// runMigrations creates the database schema for testing
func runMigrations(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS portal_sessions (
			id TEXT PRIMARY KEY,
			credentials BYTEA NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_portal_sessions_expires_at ON portal_sessions(expires_at);
	`
	_, err := db.Exec(schema)
	return err
}

func newRepo(t *testing.T, db *sql.DB, ttl time.Duration) *postgres.CredentialRepository {
	t.Helper()
	repo, err := postgres.NewCredentialRepository(db, security.NewSealer("integration-test-secret"), ttl)
	require.NoError(t, err)
	return repo
}

func TestCredentialRepository_SetGetClear(t *testing.T) {
	db, cleanup := setupPostgres(t)
	defer cleanup()

	repo := newRepo(t, db, time.Hour)
	ctx := context.Background()

	err := repo.Set(ctx, "sess-1", domain.CredentialPatch{
		AccessToken:  domain.Ptr("access-1"),
		RefreshToken: domain.Ptr("refresh-1"),
		Role:         domain.Ptr("expert"),
		Email:        domain.Ptr("alice@example.com"),
	})
	require.NoError(t, err)

	creds, err := repo.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "access-1", creds.AccessToken)
	assert.Equal(t, "refresh-1", creds.RefreshToken)
	assert.Equal(t, "expert", creds.Role)
	assert.Equal(t, "alice@example.com", creds.Email)

	// Partial update keeps untouched fields
	err = repo.Set(ctx, "sess-1", domain.CredentialPatch{AccessToken: domain.Ptr("access-2")})
	require.NoError(t, err)

	creds, err = repo.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "access-2", creds.AccessToken)
	assert.Equal(t, "refresh-1", creds.RefreshToken)

	require.NoError(t, repo.Clear(ctx, "sess-1"))

	creds, err = repo.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, domain.Credentials{}, creds)
}

func TestCredentialRepository_SealedAtRest(t *testing.T) {
	db, cleanup := setupPostgres(t)
	defer cleanup()

	repo := newRepo(t, db, time.Hour)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "sess-1", domain.CredentialPatch{
		RefreshToken: domain.Ptr("super-secret-refresh-token"),
	}))

	var raw []byte
	err := db.QueryRow(`SELECT credentials FROM portal_sessions WHERE id = 'sess-1'`).Scan(&raw)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "super-secret-refresh-token")
}

func TestCredentialRepository_DeleteExpired(t *testing.T) {
	db, cleanup := setupPostgres(t)
	defer cleanup()

	ctx := context.Background()

	// TTL in the past makes the row immediately expired
	expired := newRepo(t, db, -time.Minute)
	require.NoError(t, expired.Set(ctx, "old", domain.CredentialPatch{AccessToken: domain.Ptr("t")}))

	live := newRepo(t, db, time.Hour)
	require.NoError(t, live.Set(ctx, "fresh", domain.CredentialPatch{AccessToken: domain.Ptr("t")}))

	// Expired rows read as absent
	creds, err := live.Get(ctx, "old")
	require.NoError(t, err)
	assert.False(t, creds.IsAuthenticated())

	count, err := live.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	creds, err = live.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, creds.IsAuthenticated())
}
