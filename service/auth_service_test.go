package service

import (
	"context"
	"crypto/ecdsa"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/keyward/adapters/chain"
	"github.com/layer-3/keyward/adapters/store"
	"github.com/layer-3/keyward/adapters/tokenizer"
	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/internal/eth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type authHarness struct {
	svc    *AuthService
	store  *store.MemoryStore
	events *recordingPublisher
	clock  *manualClock
	key    *ecdsa.PrivateKey
	addr   string
}

func newAuthHarness(t *testing.T) *authHarness {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	h := &authHarness{
		store:  store.NewMemoryStore(),
		events: &recordingPublisher{},
		clock:  &manualClock{now: time.Now().Truncate(time.Second)},
		key:    key,
		addr:   strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()),
	}
	h.svc = NewAuthService(
		AuthConfig{
			Domain:    "yourapp.io",
			Statement: "Sign in with Ethereum",
			URI:       "https://yourapp.io",
			ChainID:   11124,
			NonceTTL:  5 * time.Minute,
			TokenTTL:  24 * time.Hour,
		},
		tokenizer.NewJWTTokenizer([]byte("test-secret")),
		h.store, h.store, h.store,
		chain.NewSignatureVerifier(nil),
		h.events,
		h.clock,
		testLogger(),
	)
	return h
}

func (h *authHarness) sign(t *testing.T, message string) string {
	t.Helper()
	sig, err := eth.SignText(h.key, message)
	require.NoError(t, err)
	return sig
}

func TestAuthService_CreateChallenge(t *testing.T) {
	h := newAuthHarness(t)
	ctx := context.Background()

	msg, err := h.svc.CreateChallenge(ctx, strings.ToUpper(h.addr[2:]))
	require.NoError(t, err)

	parsed, err := eth.ParseSIWEMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, "yourapp.io", parsed.Domain)
	assert.Equal(t, crypto.PubkeyToAddress(h.key.PublicKey), parsed.Address)
	assert.Equal(t, int64(11124), parsed.ChainID)
	assert.Len(t, parsed.Nonce, 32)
	require.NotNil(t, parsed.ExpirationTime)
	assert.Equal(t, 5*time.Minute, parsed.ExpirationTime.Sub(parsed.IssuedAt))

	// Stored under the lowercase address
	stored, err := h.store.Get(ctx, h.addr)
	require.NoError(t, err)
	assert.Equal(t, msg, stored.Message)

	_, err = h.svc.CreateChallenge(ctx, "0x1234")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestAuthService_SecondChallengeReplacesFirst(t *testing.T) {
	h := newAuthHarness(t)
	ctx := context.Background()

	first, err := h.svc.CreateChallenge(ctx, h.addr)
	require.NoError(t, err)
	firstSig := h.sign(t, first)

	second, err := h.svc.CreateChallenge(ctx, h.addr)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	_, err = h.svc.Verify(ctx, h.addr, firstSig)
	assert.ErrorIs(t, err, core.ErrInvalidSignature)

	user, err := h.svc.Verify(ctx, h.addr, h.sign(t, second))
	require.NoError(t, err)
	assert.Equal(t, h.addr, user.Address)
}

func TestAuthService_VerifyIsSingleUse(t *testing.T) {
	h := newAuthHarness(t)
	ctx := context.Background()

	msg, err := h.svc.CreateChallenge(ctx, h.addr)
	require.NoError(t, err)
	sig := h.sign(t, msg)

	_, err = h.svc.Verify(ctx, h.addr, sig)
	require.NoError(t, err)

	_, err = h.svc.Verify(ctx, h.addr, sig)
	assert.ErrorIs(t, err, core.ErrChallengeNotFound)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAuthService_VerifyFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("no challenge", func(t *testing.T) {
		h := newAuthHarness(t)
		_, err := h.svc.Verify(ctx, h.addr, "0x00")
		assert.ErrorIs(t, err, core.ErrChallengeNotFound)
	})

	t.Run("expired", func(t *testing.T) {
		h := newAuthHarness(t)
		msg, err := h.svc.CreateChallenge(ctx, h.addr)
		require.NoError(t, err)

		h.clock.Advance(5*time.Minute + time.Second)
		_, err = h.svc.Verify(ctx, h.addr, h.sign(t, msg))
		assert.ErrorIs(t, err, core.ErrChallengeExpired)
		assert.ErrorIs(t, err, core.ErrAuthenticationFailed)

		_, err = h.store.Get(ctx, h.addr)
		assert.ErrorIs(t, err, core.ErrChallengeNotFound)
	})

	t.Run("wrong signer keeps challenge", func(t *testing.T) {
		h := newAuthHarness(t)
		msg, err := h.svc.CreateChallenge(ctx, h.addr)
		require.NoError(t, err)

		other, err := crypto.GenerateKey()
		require.NoError(t, err)
		sig, err := eth.SignText(other, msg)
		require.NoError(t, err)

		_, err = h.svc.Verify(ctx, h.addr, sig)
		assert.ErrorIs(t, err, core.ErrInvalidSignature)

		_, err = h.store.Get(ctx, h.addr)
		assert.NoError(t, err)
	})

	t.Run("tampered record", func(t *testing.T) {
		h := newAuthHarness(t)
		msg, err := h.svc.CreateChallenge(ctx, h.addr)
		require.NoError(t, err)

		c, err := h.store.Get(ctx, h.addr)
		require.NoError(t, err)
		c.Nonce = "something-else"
		require.NoError(t, h.store.Replace(ctx, c))

		_, err = h.svc.Verify(ctx, h.addr, h.sign(t, msg))
		assert.ErrorIs(t, err, core.ErrChallengeMismatch)
	})

	t.Run("missing signature", func(t *testing.T) {
		h := newAuthHarness(t)
		_, err := h.svc.Verify(ctx, h.addr, "")
		assert.ErrorIs(t, err, core.ErrValidation)
	})
}

func TestAuthService_LoginLogout(t *testing.T) {
	h := newAuthHarness(t)
	ctx := context.Background()

	msg, err := h.svc.CreateChallenge(ctx, h.addr)
	require.NoError(t, err)

	token, cred, err := h.svc.Login(ctx, h.addr, h.sign(t, msg))
	require.NoError(t, err)
	assert.Equal(t, h.addr, cred.Address)
	assert.Equal(t, 24*time.Hour, cred.ExpiresAt.Sub(cred.IssuedAt))

	validated, err := h.svc.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, cred.ID, validated.ID)

	require.NoError(t, h.svc.Logout(ctx, validated))
	assert.Equal(t, []string{cred.ID}, h.events.logouts)

	_, err = h.svc.ValidateToken(ctx, token)
	assert.ErrorIs(t, err, core.ErrTokenInvalidated)
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestAuthService_ValidateToken(t *testing.T) {
	h := newAuthHarness(t)
	ctx := context.Background()

	_, err := h.svc.ValidateToken(ctx, "")
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	_, err = h.svc.ValidateToken(ctx, "garbage")
	assert.ErrorIs(t, err, core.ErrInvalidToken)

	// The service clock bounds token lifetime even when the token itself still parses
	msg, err := h.svc.CreateChallenge(ctx, h.addr)
	require.NoError(t, err)
	token, _, err := h.svc.Login(ctx, h.addr, h.sign(t, msg))
	require.NoError(t, err)

	h.clock.Advance(24*time.Hour + time.Second)
	_, err = h.svc.ValidateToken(ctx, token)
	assert.ErrorIs(t, err, core.ErrTokenExpired)
}
