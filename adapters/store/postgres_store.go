package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/layer-3/keyward/core"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	address    TEXT PRIMARY KEY,
	id         TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS session_keys (
	address             TEXT PRIMARY KEY,
	session_key_address TEXT NOT NULL,
	private_key         TEXT NOT NULL,
	session_config      JSONB NOT NULL,
	status              TEXT NOT NULL CHECK (status IN ('pending', 'active', 'revoked')),
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);
`

// PostgresStore persists users and session records in PostgreSQL.
// The pool is owned by the caller.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a store over an open pool
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("postgres store: nil pool")
	}
	return &PostgresStore{pool: pool, now: time.Now}, nil
}

// NewPostgresPool opens a pool and checks connectivity
func NewPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the tables if they do not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// UpsertUser returns the existing user for address or creates one
func (s *PostgresStore) UpsertUser(ctx context.Context, address string) (*core.User, error) {
	var u core.User
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (address, id, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (address) DO UPDATE SET address = EXCLUDED.address
		RETURNING id, address, created_at`,
		address, uuid.New().String(), s.now().UTC(),
	).Scan(&u.ID, &u.Address, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w: %v", core.ErrPersistenceUnavailable, err)
	}
	return &u, nil
}

// Upsert writes the record, overwriting any previous record for the address
func (s *PostgresStore) Upsert(ctx context.Context, record *core.SessionRecord) error {
	config, err := core.MarshalPolicy(&record.Policy)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO session_keys (address, session_key_address, private_key, session_config, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (address) DO UPDATE SET
			session_key_address = EXCLUDED.session_key_address,
			private_key = EXCLUDED.private_key,
			session_config = EXCLUDED.session_config,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		record.Address, record.SessionKeyAddress, record.EncryptedPrivateKey, config, string(record.Status), now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w: %v", core.ErrPersistenceUnavailable, err)
	}
	return nil
}

// Get returns the record for address
func (s *PostgresStore) Get(ctx context.Context, address string) (*core.SessionRecord, error) {
	var (
		r      core.SessionRecord
		config string
		status string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT address, session_key_address, private_key, session_config::text, status, created_at, updated_at
		FROM session_keys WHERE address = $1`, address,
	).Scan(&r.Address, &r.SessionKeyAddress, &r.EncryptedPrivateKey, &config, &status, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w: %v", core.ErrPersistenceUnavailable, err)
	}

	return decodeRecord(&r, config, status)
}

// Delete is idempotent
func (s *PostgresStore) Delete(ctx context.Context, address string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM session_keys WHERE address = $1`, address); err != nil {
		return fmt.Errorf("failed to delete session: %w: %v", core.ErrPersistenceUnavailable, err)
	}
	return nil
}

// DeleteKey deletes the record only if it still holds sessionKeyAddress
func (s *PostgresStore) DeleteKey(ctx context.Context, address, sessionKeyAddress string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM session_keys WHERE address = $1 AND session_key_address = $2`,
		address, sessionKeyAddress,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w: %v", core.ErrPersistenceUnavailable, err)
	}
	return tag.RowsAffected() == 1, nil
}

// TransitionStatus sets the status if the stored record still matches key and from
func (s *PostgresStore) TransitionStatus(ctx context.Context, address, sessionKeyAddress string, from, to core.SessionStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE session_keys SET status = $4, updated_at = $5
		WHERE address = $1 AND session_key_address = $2 AND status = $3`,
		address, sessionKeyAddress, string(from), string(to), s.now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update session status: %w: %v", core.ErrPersistenceUnavailable, err)
	}
	return tag.RowsAffected() == 1, nil
}

// decodeRecord fills the policy and status columns shared by both SQL stores
func decodeRecord(r *core.SessionRecord, config, status string) (*core.SessionRecord, error) {
	policy, err := core.UnmarshalPolicy(config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrPersistenceUnavailable, err)
	}
	r.Policy = policy

	r.Status = core.SessionStatus(status)
	if !r.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown session status %q", core.ErrPersistenceUnavailable, status)
	}
	return r, nil
}
