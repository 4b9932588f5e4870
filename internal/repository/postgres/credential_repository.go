package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"partner-portal/internal/domain"
	"partner-portal/internal/observability"
	"partner-portal/internal/security"
)

// CredentialRepository persists per-session credentials in the
// portal_sessions table. Credential blobs are sealed before they hit the
// database, so refresh tokens never appear in cleartext at rest.
type CredentialRepository struct {
	db                *sql.DB
	sealer            *security.Sealer
	ttl               time.Duration
	getStmt           *sql.Stmt
	deleteStmt        *sql.Stmt
	deleteExpiredStmt *sql.Stmt
}

// NewCredentialRepository creates a CredentialRepository with prepared
// statements. Returns an error if statement preparation fails.
func NewCredentialRepository(db *sql.DB, sealer *security.Sealer, ttl time.Duration) (*CredentialRepository, error) {
	repo := &CredentialRepository{db: db, sealer: sealer, ttl: ttl}

	var err error
	repo.getStmt, err = db.Prepare(`
		SELECT credentials
		FROM portal_sessions
		WHERE id = $1 AND expires_at > $2
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare get statement: %w", err)
	}

	repo.deleteStmt, err = db.Prepare(`DELETE FROM portal_sessions WHERE id = $1`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	repo.deleteExpiredStmt, err = db.Prepare(`DELETE FROM portal_sessions WHERE expires_at <= $1`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare deleteExpired statement: %w", err)
	}

	return repo, nil
}

func (r *CredentialRepository) Get(ctx context.Context, sessionID string) (domain.Credentials, error) {
	start := time.Now()
	defer func() {
		observability.DBQueryDuration.WithLabelValues("get", "portal_sessions").Observe(time.Since(start).Seconds())
	}()

	var box []byte
	err := r.getStmt.QueryRowContext(ctx, sessionID, time.Now()).Scan(&box)
	if err == sql.ErrNoRows {
		return domain.Credentials{}, nil
	}
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("failed to get session credentials: %w", err)
	}

	return r.decode(box)
}

// Set merges the patch under a row lock so concurrent partial updates
// cannot interleave.
func (r *CredentialRepository) Set(ctx context.Context, sessionID string, patch domain.CredentialPatch) error {
	start := time.Now()
	defer func() {
		observability.DBQueryDuration.WithLabelValues("set", "portal_sessions").Observe(time.Since(start).Seconds())
	}()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin credential update: %w", err)
	}
	defer tx.Rollback()

	var box []byte
	creds := domain.Credentials{}
	err = tx.QueryRowContext(ctx,
		`SELECT credentials FROM portal_sessions WHERE id = $1 FOR UPDATE`, sessionID,
	).Scan(&box)
	switch {
	case err == sql.ErrNoRows:
		// First write for this session
	case err != nil:
		return fmt.Errorf("failed to lock session row: %w", err)
	default:
		if creds, err = r.decode(box); err != nil {
			return err
		}
	}

	sealed, err := r.encode(creds.Apply(patch))
	if err != nil {
		return err
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO portal_sessions (id, credentials, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET credentials = EXCLUDED.credentials,
		    updated_at = EXCLUDED.updated_at,
		    expires_at = EXCLUDED.expires_at
	`, sessionID, sealed, now, now.Add(r.ttl))
	if err != nil {
		return fmt.Errorf("failed to upsert session credentials: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit credential update: %w", err)
	}
	return nil
}

func (r *CredentialRepository) Clear(ctx context.Context, sessionID string) error {
	start := time.Now()
	defer func() {
		observability.DBQueryDuration.WithLabelValues("clear", "portal_sessions").Observe(time.Since(start).Seconds())
	}()

	_, err := r.deleteStmt.ExecContext(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to clear session credentials: %w", err)
	}
	return nil
}

// DeleteExpired removes sessions past their expiry and returns the count.
func (r *CredentialRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.deleteExpiredStmt.ExecContext(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return count, nil
}

func (r *CredentialRepository) encode(creds domain.Credentials) ([]byte, error) {
	plain, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credentials: %w", err)
	}
	sealed, err := r.sealer.Seal(plain)
	if err != nil {
		return nil, fmt.Errorf("failed to seal credentials: %w", err)
	}
	return sealed, nil
}

func (r *CredentialRepository) decode(box []byte) (domain.Credentials, error) {
	plain, err := r.sealer.Open(box)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("failed to open sealed credentials: %w", err)
	}
	var creds domain.Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return domain.Credentials{}, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}
	return creds, nil
}
