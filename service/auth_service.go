package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/internal/eth"
	"github.com/layer-3/keyward/internal/logging"
	"github.com/layer-3/keyward/ports"
)

// AuthConfig holds the sign-in message parameters and lifetimes
type AuthConfig struct {
	Domain    string
	Statement string
	URI       string
	ChainID   int64
	NonceTTL  time.Duration
	TokenTTL  time.Duration
}

// AuthService handles authentication business logic
type AuthService struct {
	tokenizer  ports.Tokenizer
	tokens     ports.TokenStore
	challenges ports.ChallengeStore
	users      ports.UserStore
	verifier   ports.SignatureVerifier
	eventPub   ports.EventPublisher

	cfg    AuthConfig
	clock  Clock
	logger *slog.Logger
}

// NewAuthService creates a new authentication service
func NewAuthService(
	cfg AuthConfig,
	tokenizer ports.Tokenizer,
	tokens ports.TokenStore,
	challenges ports.ChallengeStore,
	users ports.UserStore,
	verifier ports.SignatureVerifier,
	eventPub ports.EventPublisher,
	clock Clock,
	logger *slog.Logger,
) *AuthService {
	if clock == nil {
		clock = SystemClock{}
	}
	if cfg.NonceTTL <= 0 {
		cfg.NonceTTL = 5 * time.Minute
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.Statement == "" {
		cfg.Statement = "Sign in with Ethereum"
	}
	return &AuthService{
		tokenizer:  tokenizer,
		tokens:     tokens,
		challenges: challenges,
		users:      users,
		verifier:   verifier,
		eventPub:   eventPub,
		cfg:        cfg,
		clock:      clock,
		logger:     logger,
	}
}

// TokenTTL is the lifetime of credentials issued by Login
func (s *AuthService) TokenTTL() time.Duration {
	return s.cfg.TokenTTL
}

// CreateChallenge issues a fresh sign-in message for address, replacing any
// outstanding challenge
func (s *AuthService) CreateChallenge(ctx context.Context, address string) (string, error) {
	addr, err := core.NormalizeAddress(address)
	if err != nil {
		return "", err
	}

	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := s.clock.Now().UTC()
	expires := now.Add(s.cfg.NonceTTL)
	msg := eth.SIWEMessage{
		Domain:         s.cfg.Domain,
		Address:        common.HexToAddress(addr),
		Statement:      s.cfg.Statement,
		URI:            s.cfg.URI,
		Version:        "1",
		ChainID:        s.cfg.ChainID,
		Nonce:          hex.EncodeToString(nonceBytes),
		IssuedAt:       now,
		ExpirationTime: &expires,
	}

	challenge := &core.Challenge{
		ID:        uuid.New().String(),
		Address:   addr,
		Nonce:     msg.Nonce,
		Message:   msg.String(),
		IssuedAt:  now,
		ExpiresAt: expires,
	}

	if err := s.challenges.Replace(ctx, challenge); err != nil {
		return "", fmt.Errorf("failed to store challenge: %w", err)
	}

	s.logger.Debug("challenge.issued", "address", logging.ShortAddress(addr), "expires_at", expires)
	return challenge.Message, nil
}

// Verify checks signature against the outstanding challenge for address and
// consumes it. A challenge can be verified at most once.
func (s *AuthService) Verify(ctx context.Context, address, signature string) (*core.User, error) {
	addr, err := core.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	if signature == "" {
		return nil, fmt.Errorf("%w: signature is required", core.ErrValidation)
	}

	challenge, err := s.challenges.Get(ctx, addr)
	if err != nil {
		return nil, err
	}

	if challenge.Expired(s.clock.Now()) {
		if err := s.challenges.Delete(ctx, addr); err != nil {
			s.logger.Warn("challenge.delete_failed", "address", logging.ShortAddress(addr), "error", err)
		}
		return nil, core.ErrChallengeExpired
	}

	msg, err := eth.ParseSIWEMessage(challenge.Message)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrChallengeMismatch, err)
	}
	if msg.Address != common.HexToAddress(addr) || msg.Nonce != challenge.Nonce || msg.Domain != s.cfg.Domain {
		return nil, core.ErrChallengeMismatch
	}

	if err := s.verifier.VerifyMessage(ctx, addr, challenge.Message, signature); err != nil {
		s.logger.Info("login.signature_rejected", "address", logging.ShortAddress(addr))
		return nil, err
	}

	// Only one of any concurrent verifications of the same challenge wins
	if err := s.challenges.Consume(ctx, addr, challenge.Nonce); err != nil {
		return nil, err
	}

	user, err := s.users.UpsertUser(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return user, nil
}

// Login verifies the signed challenge and issues a bearer token
func (s *AuthService) Login(ctx context.Context, address, signature string) (string, *core.Credential, error) {
	user, err := s.Verify(ctx, address, signature)
	if err != nil {
		return "", nil, err
	}

	now := s.clock.Now()
	credential := &core.Credential{
		ID:        uuid.New().String(),
		Address:   user.Address,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.TokenTTL),
	}

	token, err := s.tokenizer.CredentialToToken(credential)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create token: %w", err)
	}

	s.logger.Info("login.succeeded", "address", logging.ShortAddress(user.Address))
	return token, credential, nil
}

// ValidateToken parses a bearer token and rejects expired or logged-out ones
func (s *AuthService) ValidateToken(ctx context.Context, token string) (*core.Credential, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", core.ErrUnauthorized)
	}

	credential, err := s.tokenizer.TokenToCredential(token)
	if err != nil {
		return nil, err
	}

	if !s.clock.Now().Before(credential.ExpiresAt) {
		return nil, core.ErrTokenExpired
	}

	invalidated, err := s.tokens.IsTokenInvalidated(ctx, credential.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check token invalidation: %w", err)
	}
	if invalidated {
		return nil, core.ErrTokenInvalidated
	}

	return credential, nil
}

// Logout invalidates the credential for the rest of its lifetime
func (s *AuthService) Logout(ctx context.Context, credential *core.Credential) error {
	if credential == nil {
		return errors.New("nil credential")
	}

	remaining := credential.ExpiresAt.Sub(s.clock.Now())
	if remaining <= 0 {
		return nil
	}

	if err := s.tokens.InvalidateToken(ctx, credential.ID, remaining); err != nil {
		return fmt.Errorf("failed to invalidate token: %w", err)
	}

	// The denylist entry is what matters; the event only informs other instances
	if err := s.eventPub.PublishLogout(ctx, credential.Address, credential.ID); err != nil {
		s.logger.Warn("logout.publish_failed", "address", logging.ShortAddress(credential.Address), "error", err)
	}

	s.logger.Info("logout.succeeded", "address", logging.ShortAddress(credential.Address))
	return nil
}
