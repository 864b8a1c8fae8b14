package ports

import (
	"context"
	"time"

	"github.com/layer-3/keyward/core"
)

// TokenStore tracks invalidated bearer tokens until they would have expired
type TokenStore interface {
	InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error
	IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error)
}

// ChallengeStore holds at most one challenge per address
type ChallengeStore interface {
	// Replace stores the challenge, discarding any previous one for the same address
	Replace(ctx context.Context, challenge *core.Challenge) error
	// Get returns core.ErrChallengeNotFound when no challenge exists
	Get(ctx context.Context, address string) (*core.Challenge, error)
	// Consume deletes the challenge only if it still carries nonce.
	// Returns core.ErrChallengeNotFound if it was already consumed or replaced.
	Consume(ctx context.Context, address, nonce string) error
	// Delete removes any challenge for address
	Delete(ctx context.Context, address string) error
}

// SessionStore holds at most one session record per address
type SessionStore interface {
	// Upsert writes the record, overwriting any previous record for the address
	Upsert(ctx context.Context, record *core.SessionRecord) error
	// Get returns core.ErrSessionNotFound when no record exists
	Get(ctx context.Context, address string) (*core.SessionRecord, error)
	// Delete is idempotent
	Delete(ctx context.Context, address string) error
	// DeleteKey deletes the record only if it still holds sessionKeyAddress.
	// It reports whether a row was removed.
	DeleteKey(ctx context.Context, address, sessionKeyAddress string) (bool, error)
	// TransitionStatus sets status to `to` only if the stored record still has the
	// given session key and status `from`. It reports whether a row changed.
	TransitionStatus(ctx context.Context, address, sessionKeyAddress string, from, to core.SessionStatus) (bool, error)
}

// UserStore persists user identities
type UserStore interface {
	// UpsertUser returns the existing user for address or creates one
	UpsertUser(ctx context.Context, address string) (*core.User, error)
}
