package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/keyward/adapters/store"
	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/internal/aead"
	"github.com/layer-3/keyward/internal/metrics"
	"github.com/layer-3/keyward/ports"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// A full-length stand-in for the 0xabc account used in examples
const testAccount = "0x0000000000000000000000000000000000000abc"

var testNFT = common.HexToAddress("0xC4822AbB9F05646A9Ce44EFa6dDcda0Bf45595AA")

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeOracle struct {
	mu     sync.Mutex
	status core.ChainStatus
	err    error
	calls  int
	hook   func()
}

func (o *fakeOracle) set(status core.ChainStatus, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status, o.err = status, err
}

func (o *fakeOracle) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

func (o *fakeOracle) QueryStatus(ctx context.Context, account string, policy *core.SessionPolicy) (core.ChainStatus, error) {
	o.mu.Lock()
	o.calls++
	status, err, hook := o.status, o.err, o.hook
	o.hook = nil
	o.mu.Unlock()

	if hook != nil {
		hook()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrOracleUnavailable, ctxErr)
	}
	return status, err
}

type submittedCall struct {
	key  *ecdsa.PrivateKey
	call ports.Call
}

type fakeSubmitter struct {
	mu    sync.Mutex
	calls []submittedCall
}

func (s *fakeSubmitter) Submit(ctx context.Context, key *ecdsa.PrivateKey, call ports.Call) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, submittedCall{key: key, call: call})
	return "0xfeed", nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	logouts  []string
	sessions []ports.SessionEvent
}

func (p *recordingPublisher) PublishLogout(ctx context.Context, address string, tokenID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logouts = append(p.logouts, tokenID)
	return nil
}

func (p *recordingPublisher) PublishSession(ctx context.Context, event ports.SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = append(p.sessions, event)
	return nil
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.sessions))
	for _, e := range p.sessions {
		out = append(out, e.Kind)
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testSealer(t *testing.T) *aead.Sealer {
	t.Helper()
	key := make([]byte, aead.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	s, err := aead.NewSealer(key)
	require.NoError(t, err)
	return s
}

// harness wires the session service and cache over in-memory stores
type harness struct {
	clock     *manualClock
	oracle    *fakeOracle
	submitter *fakeSubmitter
	events    *recordingPublisher
	store     *store.MemorySessionStore
	sealer    *aead.Sealer
	cache     *ClientCache
	sessions  *SessionService
	mint      *MintService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		clock:     newManualClock(),
		oracle:    &fakeOracle{},
		submitter: &fakeSubmitter{},
		events:    &recordingPublisher{},
		store:     store.NewMemoryStore().Sessions(),
		sealer:    testSealer(t),
	}
	m := metrics.Nop()

	h.cache = NewClientCache(
		CacheConfig{TTL: 30 * time.Minute, SweepInterval: time.Minute},
		h.store, h.sealer, h.oracle, h.submitter, h.clock, testLogger(), m,
	)
	h.sessions = NewSessionService(
		SessionConfig{NFTAddress: testNFT, SessionTTL: 24 * time.Hour, FeeLimitEth: decimal.NewFromInt(1)},
		h.store, h.sealer, h.oracle, h.events, h.cache, h.clock, testLogger(), m,
	)
	h.mint = NewMintService(h.cache, testNFT, testLogger())
	return h
}

// activeSession creates and confirms a session for testAccount
func (h *harness) activeSession(t *testing.T) *core.SessionRecord {
	t.Helper()
	ctx := context.Background()

	_, err := h.sessions.Create(ctx, testAccount)
	require.NoError(t, err)

	h.oracle.set(core.ChainActive, nil)
	rec, err := h.sessions.Confirm(ctx, testAccount)
	require.NoError(t, err)
	require.Equal(t, core.SessionActive, rec.Status)
	return rec
}
