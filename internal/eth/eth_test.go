package eth

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/keyward/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage() *SIWEMessage {
	exp := time.Date(2025, 3, 1, 12, 5, 0, 0, time.UTC)
	return &SIWEMessage{
		Domain:         "yourapp.io",
		Address:        common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"),
		Statement:      "Sign in with Ethereum",
		URI:            "https://yourapp.io",
		Version:        "1",
		ChainID:        11124,
		Nonce:          "4f3c2a1b0e9d8c7b6a5f4e3d2c1b0a99",
		IssuedAt:       time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		ExpirationTime: &exp,
	}
}

func TestSIWEMessage_Format(t *testing.T) {
	want := "yourapp.io wants you to sign in with your Ethereum account:\n" +
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed\n" +
		"\n" +
		"Sign in with Ethereum\n" +
		"\n" +
		"URI: https://yourapp.io\n" +
		"Version: 1\n" +
		"Chain ID: 11124\n" +
		"Nonce: 4f3c2a1b0e9d8c7b6a5f4e3d2c1b0a99\n" +
		"Issued At: 2025-03-01T12:00:00.000Z\n" +
		"Expiration Time: 2025-03-01T12:05:00.000Z"

	assert.Equal(t, want, testMessage().String())
}

func TestParseSIWEMessage_RoundTrip(t *testing.T) {
	t.Run("with statement", func(t *testing.T) {
		msg := testMessage()
		parsed, err := ParseSIWEMessage(msg.String())
		require.NoError(t, err)
		assert.Equal(t, msg.Domain, parsed.Domain)
		assert.Equal(t, msg.Address, parsed.Address)
		assert.Equal(t, msg.Statement, parsed.Statement)
		assert.Equal(t, msg.URI, parsed.URI)
		assert.Equal(t, msg.Version, parsed.Version)
		assert.Equal(t, msg.ChainID, parsed.ChainID)
		assert.Equal(t, msg.Nonce, parsed.Nonce)
		assert.True(t, msg.IssuedAt.Equal(parsed.IssuedAt))
		require.NotNil(t, parsed.ExpirationTime)
		assert.True(t, msg.ExpirationTime.Equal(*parsed.ExpirationTime))
	})

	t.Run("without statement", func(t *testing.T) {
		msg := testMessage()
		msg.Statement = ""
		msg.ExpirationTime = nil
		parsed, err := ParseSIWEMessage(msg.String())
		require.NoError(t, err)
		assert.Empty(t, parsed.Statement)
		assert.Nil(t, parsed.ExpirationTime)
		assert.Equal(t, msg.Nonce, parsed.Nonce)
	})
}

func TestParseSIWEMessage_Malformed(t *testing.T) {
	valid := testMessage().String()

	cases := map[string]string{
		"empty":       "",
		"bad header":  strings.Replace(valid, "wants you to sign in", "would like you to sign in", 1),
		"bad address": strings.Replace(valid, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", "0x1234", 1),
		"no nonce":    strings.Replace(valid, "Nonce: ", "Nonse: ", 1),
		"bad chain":   strings.Replace(valid, "Chain ID: 11124", "Chain ID: abc", 1),
		"bad time":    strings.Replace(valid, "Issued At: 2025", "Issued At: yesterday-2025", 1),
	}

	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSIWEMessage(text)
			assert.ErrorIs(t, err, ErrMalformedSIWE)
		})
	}
}

func TestRecoverAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	msg := testMessage().String()
	sigHex, err := SignText(key, msg)
	require.NoError(t, err)

	sig, err := hexutil.Decode(sigHex)
	require.NoError(t, err)
	assert.Contains(t, []byte{27, 28}, sig[64])

	got, err := RecoverAddress(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, addr, got)

	// 0/1 recovery ids are accepted as well
	sig[64] -= 27
	got, err = RecoverAddress(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, addr, got)

	// A different message recovers a different address
	got, err = RecoverAddress(msg+" ", sig)
	require.NoError(t, err)
	assert.NotEqual(t, addr, got)

	_, err = RecoverAddress(msg, sig[:64])
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestFunctionSelector(t *testing.T) {
	sel := FunctionSelector("mint(address,uint256)")
	assert.Equal(t, "0x40c10f19", hexutil.Encode(sel[:]))
	assert.Equal(t, MintABI.Methods["mint"].ID, sel[:])
}

func testPolicy() *core.SessionPolicy {
	return &core.SessionPolicy{
		Signer:    common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		ExpiresAt: core.BigIntFromUint64(1740830400),
		FeeLimit: core.UsageLimit{
			LimitType: core.LimitLifetime,
			Limit:     core.NewBigInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)),
			Period:    core.BigIntFromUint64(0),
		},
		CallPolicies: []core.CallPolicy{{
			Target:         common.HexToAddress("0xC4822AbB9F05646A9Ce44EFa6dDcda0Bf45595AA"),
			Selector:       FunctionSelector("mint(address,uint256)"),
			ValueLimit:     core.UsageLimit{LimitType: core.LimitUnlimited},
			MaxValuePerUse: core.BigIntFromUint64(0),
			Constraints: []core.Constraint{{
				Condition: core.ConditionEqual,
				Index:     0,
				RefValue:  common.HexToHash("0x01"),
				Limit:     core.UsageLimit{LimitType: core.LimitUnlimited},
			}},
		}},
		TransferPolicies: []core.TransferPolicy{},
	}
}

func TestSessionHash(t *testing.T) {
	p := testPolicy()

	packed, err := EncodeSessionSpec(p)
	require.NoError(t, err)
	// A dynamic tuple is encoded behind a 32-byte offset
	assert.Equal(t, common.LeftPadBytes([]byte{0x20}, 32), packed[:32])
	assert.Equal(t, p.Signer.Bytes(), packed[32+12:64])

	h1, err := SessionHash(p)
	require.NoError(t, err)
	h2, err := SessionHash(testPolicy())
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	p.ExpiresAt = core.BigIntFromUint64(1740830401)
	h3, err := SessionHash(p)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
