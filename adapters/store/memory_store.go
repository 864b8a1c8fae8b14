package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/keyward/core"
)

// MemoryStore is an in-memory implementation of the token, challenge, session
// and user stores. It is used when no Redis or SQL backend is configured.
type MemoryStore struct {
	invalidatedTokens map[string]time.Time
	challenges        map[string]core.Challenge
	sessions          map[string]core.SessionRecord
	users             map[string]core.User
	mu                sync.RWMutex

	now func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invalidatedTokens: make(map[string]time.Time),
		challenges:        make(map[string]core.Challenge),
		sessions:          make(map[string]core.SessionRecord),
		users:             make(map[string]core.User),
		now:               time.Now,
	}
}

// InvalidateToken marks a token as invalidated until expiry has passed
func (s *MemoryStore) InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.invalidatedTokens[tokenID] = now.Add(expiry)

	// Drop lapsed entries on write instead of spawning a timer per token
	for id, until := range s.invalidatedTokens {
		if now.After(until) {
			delete(s.invalidatedTokens, id)
		}
	}

	return nil
}

// IsTokenInvalidated checks if a token is invalidated
func (s *MemoryStore) IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	until, exists := s.invalidatedTokens[tokenID]
	if !exists {
		return false, nil
	}

	return !s.now().After(until), nil
}

// Replace stores the challenge, discarding any previous one for the address
func (s *MemoryStore) Replace(ctx context.Context, challenge *core.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.challenges[challenge.Address] = *challenge
	return nil
}

// Get returns the outstanding challenge for address
func (s *MemoryStore) Get(ctx context.Context, address string) (*core.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.challenges[address]
	if !ok {
		return nil, core.ErrChallengeNotFound
	}
	return &c, nil
}

// Consume deletes the challenge only if it still carries nonce
func (s *MemoryStore) Consume(ctx context.Context, address, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[address]
	if !ok || c.Nonce != nonce {
		return core.ErrChallengeNotFound
	}
	delete(s.challenges, address)
	return nil
}

// Delete removes any challenge for address
func (s *MemoryStore) Delete(ctx context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.challenges, address)
	return nil
}

// Sessions returns a view of the store that satisfies ports.SessionStore.
// Challenge and session stores share method names, so they are split.
func (s *MemoryStore) Sessions() *MemorySessionStore {
	return &MemorySessionStore{s: s}
}

// UpsertUser returns the existing user for address or creates one
func (s *MemoryStore) UpsertUser(ctx context.Context, address string) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[address]; ok {
		return &u, nil
	}
	u := core.User{
		ID:        uuid.New().String(),
		Address:   address,
		CreatedAt: s.now(),
	}
	s.users[address] = u
	return &u, nil
}

// MemorySessionStore is the session record half of MemoryStore
type MemorySessionStore struct {
	s *MemoryStore
}

// Upsert writes the record, overwriting any previous record for the address
func (m *MemorySessionStore) Upsert(ctx context.Context, record *core.SessionRecord) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	now := m.s.now()
	r := *record
	if prev, ok := m.s.sessions[r.Address]; ok {
		r.CreatedAt = prev.CreatedAt
	} else if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.Policy = clonePolicy(r.Policy)
	m.s.sessions[r.Address] = r
	return nil
}

// Get returns the record for address
func (m *MemorySessionStore) Get(ctx context.Context, address string) (*core.SessionRecord, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	r, ok := m.s.sessions[address]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	r.Policy = clonePolicy(r.Policy)
	return &r, nil
}

// Delete is idempotent
func (m *MemorySessionStore) Delete(ctx context.Context, address string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	delete(m.s.sessions, address)
	return nil
}

// DeleteKey deletes the record only if it still holds sessionKeyAddress
func (m *MemorySessionStore) DeleteKey(ctx context.Context, address, sessionKeyAddress string) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	r, ok := m.s.sessions[address]
	if !ok || r.SessionKeyAddress != sessionKeyAddress {
		return false, nil
	}
	delete(m.s.sessions, address)
	return true, nil
}

// TransitionStatus sets the status if the stored record still matches key and from
func (m *MemorySessionStore) TransitionStatus(ctx context.Context, address, sessionKeyAddress string, from, to core.SessionStatus) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	r, ok := m.s.sessions[address]
	if !ok || r.SessionKeyAddress != sessionKeyAddress || r.Status != from {
		return false, nil
	}
	r.Status = to
	r.UpdatedAt = m.s.now()
	m.s.sessions[address] = r
	return true, nil
}

// clonePolicy copies the slices of a policy so callers cannot mutate stored state
func clonePolicy(p core.SessionPolicy) core.SessionPolicy {
	out := p
	if p.CallPolicies != nil {
		out.CallPolicies = make([]core.CallPolicy, len(p.CallPolicies))
		for i, cp := range p.CallPolicies {
			if cp.Constraints != nil {
				cp.Constraints = append([]core.Constraint{}, cp.Constraints...)
			}
			out.CallPolicies[i] = cp
		}
	}
	if p.TransferPolicies != nil {
		out.TransferPolicies = append([]core.TransferPolicy{}, p.TransferPolicies...)
	}
	return out
}
