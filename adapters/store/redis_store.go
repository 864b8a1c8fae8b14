package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/keyward/core"
	"github.com/redis/go-redis/v9"
)

const (
	invalidatedPrefix = "keyward:invalidated:"
	challengePrefix   = "keyward:challenge:"
)

// consumeScript deletes a challenge only if it still carries the expected nonce,
// so two concurrent logins cannot both consume the same challenge
var consumeScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
	return 0
end
local ok, decoded = pcall(cjson.decode, raw)
if not ok or decoded["nonce"] ~= ARGV[1] then
	return 0
end
return redis.call("DEL", KEYS[1])
`)

// RedisStore is a Redis implementation of the token denylist and challenge store
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		now:    time.Now,
	}
}

// InvalidateToken marks a token as invalidated in Redis
func (s *RedisStore) InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error {
	if err := s.client.Set(ctx, invalidatedPrefix+tokenID, "1", expiry).Err(); err != nil {
		return fmt.Errorf("failed to invalidate token: %w: %v", core.ErrPersistenceUnavailable, err)
	}

	return nil
}

// IsTokenInvalidated checks if a token is invalidated in Redis
func (s *RedisStore) IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error) {
	val, err := s.client.Exists(ctx, invalidatedPrefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token invalidation: %w: %v", core.ErrPersistenceUnavailable, err)
	}

	return val > 0, nil
}

// challengeRecord is the stored JSON form of a challenge
type challengeRecord struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Replace stores the challenge. The key outlives the challenge by a grace
// period so an expired nonce is reported as expired rather than missing.
func (s *RedisStore) Replace(ctx context.Context, challenge *core.Challenge) error {
	payload, err := json.Marshal(challengeRecord(*challenge))
	if err != nil {
		return fmt.Errorf("failed to marshal challenge: %w", err)
	}

	ttl := challengeTTL(challenge.ExpiresAt, s.now())
	if err := s.client.Set(ctx, challengePrefix+challenge.Address, payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store challenge: %w: %v", core.ErrPersistenceUnavailable, err)
	}
	return nil
}

// Get returns the outstanding challenge for address
func (s *RedisStore) Get(ctx context.Context, address string) (*core.Challenge, error) {
	raw, err := s.client.Get(ctx, challengePrefix+address).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load challenge: %w: %v", core.ErrPersistenceUnavailable, err)
	}

	var rec challengeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode challenge: %w: %v", core.ErrPersistenceUnavailable, err)
	}
	c := core.Challenge(rec)
	return &c, nil
}

// Consume deletes the challenge only if it still carries nonce
func (s *RedisStore) Consume(ctx context.Context, address, nonce string) error {
	n, err := consumeScript.Run(ctx, s.client, []string{challengePrefix + address}, nonce).Int()
	if err != nil {
		return fmt.Errorf("failed to consume challenge: %w: %v", core.ErrPersistenceUnavailable, err)
	}
	if n == 0 {
		return core.ErrChallengeNotFound
	}
	return nil
}

// Delete removes any challenge for address
func (s *RedisStore) Delete(ctx context.Context, address string) error {
	if err := s.client.Del(ctx, challengePrefix+address).Err(); err != nil {
		return fmt.Errorf("failed to delete challenge: %w: %v", core.ErrPersistenceUnavailable, err)
	}
	return nil
}

// challengeGrace keeps lapsed challenges readable for the expiry check
const challengeGrace = time.Minute

func challengeTTL(expiresAt, now time.Time) time.Duration {
	ttl := expiresAt.Sub(now)
	if ttl < 0 {
		ttl = 0
	}
	return ttl + challengeGrace
}
