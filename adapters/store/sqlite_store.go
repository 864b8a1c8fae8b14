package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/keyward/core"
	_ "modernc.org/sqlite"
)

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		address    TEXT PRIMARY KEY,
		id         TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS session_keys (
		address             TEXT PRIMARY KEY,
		session_key_address TEXT NOT NULL,
		private_key         TEXT NOT NULL,
		session_config      TEXT NOT NULL,
		status              TEXT NOT NULL CHECK (status IN ('pending', 'active', 'revoked')),
		created_at          DATETIME NOT NULL,
		updated_at          DATETIME NOT NULL
	)`,
}

// SQLiteStore persists users and session records in an embedded SQLite database
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens or creates a database at path. ":memory:" opens a private
// in-memory database limited to one connection.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(ON)"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates the tables if they do not exist
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	for i, m := range sqliteMigrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

// UpsertUser returns the existing user for address or creates one
func (s *SQLiteStore) UpsertUser(ctx context.Context, address string) (*core.User, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (address, id, created_at) VALUES (?, ?, ?) ON CONFLICT (address) DO NOTHING`,
		address, uuid.New().String(), s.now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w: %v", core.ErrPersistenceUnavailable, err)
	}

	var u core.User
	err = s.db.QueryRowContext(ctx,
		`SELECT id, address, created_at FROM users WHERE address = ?`, address,
	).Scan(&u.ID, &u.Address, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w: %v", core.ErrPersistenceUnavailable, err)
	}
	return &u, nil
}

// Upsert writes the record, overwriting any previous record for the address
func (s *SQLiteStore) Upsert(ctx context.Context, record *core.SessionRecord) error {
	config, err := core.MarshalPolicy(&record.Policy)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_keys (address, session_key_address, private_key, session_config, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET
			session_key_address = excluded.session_key_address,
			private_key = excluded.private_key,
			session_config = excluded.session_config,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		record.Address, record.SessionKeyAddress, record.EncryptedPrivateKey, config, string(record.Status), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w: %v", core.ErrPersistenceUnavailable, err)
	}
	return nil
}

// Get returns the record for address
func (s *SQLiteStore) Get(ctx context.Context, address string) (*core.SessionRecord, error) {
	var (
		r      core.SessionRecord
		config string
		status string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT address, session_key_address, private_key, session_config, status, created_at, updated_at
		FROM session_keys WHERE address = ?`, address,
	).Scan(&r.Address, &r.SessionKeyAddress, &r.EncryptedPrivateKey, &config, &status, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w: %v", core.ErrPersistenceUnavailable, err)
	}

	return decodeRecord(&r, config, status)
}

// Delete is idempotent
func (s *SQLiteStore) Delete(ctx context.Context, address string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_keys WHERE address = ?`, address); err != nil {
		return fmt.Errorf("failed to delete session: %w: %v", core.ErrPersistenceUnavailable, err)
	}
	return nil
}

// DeleteKey deletes the record only if it still holds sessionKeyAddress
func (s *SQLiteStore) DeleteKey(ctx context.Context, address, sessionKeyAddress string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM session_keys WHERE address = ? AND session_key_address = ?`,
		address, sessionKeyAddress,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w: %v", core.ErrPersistenceUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w: %v", core.ErrPersistenceUnavailable, err)
	}
	return n == 1, nil
}

// TransitionStatus sets the status if the stored record still matches key and from
func (s *SQLiteStore) TransitionStatus(ctx context.Context, address, sessionKeyAddress string, from, to core.SessionStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE session_keys SET status = ?, updated_at = ?
		WHERE address = ? AND session_key_address = ? AND status = ?`,
		string(to), s.now().UTC(), address, sessionKeyAddress, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update session status: %w: %v", core.ErrPersistenceUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update session status: %w: %v", core.ErrPersistenceUnavailable, err)
	}
	return n == 1, nil
}
