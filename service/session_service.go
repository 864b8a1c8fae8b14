package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/internal/aead"
	"github.com/layer-3/keyward/internal/eth"
	"github.com/layer-3/keyward/internal/logging"
	"github.com/layer-3/keyward/internal/metrics"
	"github.com/layer-3/keyward/ports"
	"github.com/shopspring/decimal"
)

// MintSignature is the only call a generated session key may make
const MintSignature = "mint(address,uint256)"

// Evicter drops any cached signing handle for an address
type Evicter interface {
	Evict(address string)
}

// SessionConfig controls the policy attached to newly generated session keys
type SessionConfig struct {
	NFTAddress  common.Address
	SessionTTL  time.Duration
	FeeLimitEth decimal.Decimal
}

// SessionService owns the session record lifecycle: generation, at-rest
// encryption, and reconciliation against the on-chain validator
type SessionService struct {
	store    ports.SessionStore
	sealer   *aead.Sealer
	oracle   ports.Oracle
	eventPub ports.EventPublisher
	evicter  Evicter

	cfg     SessionConfig
	clock   Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewSessionService creates a session service
func NewSessionService(
	cfg SessionConfig,
	store ports.SessionStore,
	sealer *aead.Sealer,
	oracle ports.Oracle,
	eventPub ports.EventPublisher,
	evicter Evicter,
	clock Clock,
	logger *slog.Logger,
	m *metrics.Metrics,
) *SessionService {
	if clock == nil {
		clock = SystemClock{}
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.FeeLimitEth.IsZero() {
		cfg.FeeLimitEth = decimal.NewFromInt(1)
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &SessionService{
		store:    store,
		sealer:   sealer,
		oracle:   oracle,
		eventPub: eventPub,
		evicter:  evicter,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
		metrics:  m,
	}
}

// Create generates a new session key for address and stores it as pending,
// replacing any previous record
func (s *SessionService) Create(ctx context.Context, address string) (*core.SessionRecord, error) {
	addr, err := core.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session key: %w", err)
	}
	signer := crypto.PubkeyToAddress(key.PublicKey)

	sealed, err := s.sealer.Seal([]byte(hexutil.Encode(crypto.FromECDSA(key))))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrEncryption, err)
	}

	record := &core.SessionRecord{
		Address:             addr,
		SessionKeyAddress:   strings.ToLower(signer.Hex()),
		EncryptedPrivateKey: sealed,
		Policy:              s.policyFor(signer),
		Status:              core.SessionPending,
	}

	if err := s.store.Upsert(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}
	s.evicter.Evict(addr)
	s.metrics.SessionChanges.WithLabelValues(string(core.SessionPending)).Inc()

	s.publish(ctx, record, ports.SessionCreated)
	s.logger.Info("session.created", "address", logging.ShortAddress(addr), "session_key", record.SessionKeyAddress)

	return s.store.Get(ctx, addr)
}

// Get returns the stored record for address
func (s *SessionService) Get(ctx context.Context, address string) (*core.SessionRecord, error) {
	addr, err := core.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	return s.store.Get(ctx, addr)
}

// Delete removes the record for address. Deleting a missing record succeeds.
func (s *SessionService) Delete(ctx context.Context, address string) error {
	addr, err := core.NormalizeAddress(address)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, addr); err != nil {
		return err
	}
	s.evicter.Evict(addr)
	return nil
}

// GetOrCreate returns the live record for address, creating one when there
// is none or the previous one was revoked
func (s *SessionService) GetOrCreate(ctx context.Context, address string) (*core.SessionRecord, error) {
	record, err := s.Get(ctx, address)
	switch {
	case err == nil && record.Live():
		return record, nil
	case err == nil, errors.Is(err, core.ErrSessionNotFound):
		return s.Create(ctx, address)
	default:
		return nil, err
	}
}

// policyFor builds the capability policy for a new session key: one day of
// mint calls on the NFT contract with a lifetime fee cap
func (s *SessionService) policyFor(signer common.Address) core.SessionPolicy {
	expiresAt := s.clock.Now().Add(s.cfg.SessionTTL).Unix()
	feeLimit := s.cfg.FeeLimitEth.Shift(18).BigInt()

	return core.SessionPolicy{
		Signer:    signer,
		ExpiresAt: core.NewBigInt(big.NewInt(expiresAt)),
		FeeLimit: core.UsageLimit{
			LimitType: core.LimitLifetime,
			Limit:     core.NewBigInt(feeLimit),
			Period:    core.BigIntFromUint64(0),
		},
		CallPolicies: []core.CallPolicy{{
			Target:   s.cfg.NFTAddress,
			Selector: eth.FunctionSelector(MintSignature),
			ValueLimit: core.UsageLimit{
				LimitType: core.LimitUnlimited,
				Limit:     core.BigIntFromUint64(0),
				Period:    core.BigIntFromUint64(0),
			},
			MaxValuePerUse: core.BigIntFromUint64(0),
			Constraints:    []core.Constraint{},
		}},
		TransferPolicies: []core.TransferPolicy{},
	}
}

func (s *SessionService) publish(ctx context.Context, record *core.SessionRecord, kind string) {
	err := s.eventPub.PublishSession(ctx, ports.SessionEvent{
		Address:           record.Address,
		SessionKeyAddress: record.SessionKeyAddress,
		Kind:              kind,
	})
	if err != nil {
		s.logger.Warn("session.publish_failed", "address", logging.ShortAddress(record.Address), "kind", kind, "error", err)
	}
}
