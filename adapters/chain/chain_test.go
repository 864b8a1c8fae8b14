package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/internal/eth"
	"github.com/layer-3/keyward/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	calls []ethereum.CallMsg
	out   []byte
	err   error
}

func (f *fakeCaller) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls = append(f.calls, call)
	return f.out, f.err
}

func testPolicy() *core.SessionPolicy {
	return &core.SessionPolicy{
		Signer:    common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		ExpiresAt: core.BigIntFromUint64(1740830400),
		FeeLimit:  core.UsageLimit{LimitType: core.LimitLifetime, Limit: core.BigIntFromUint64(1e18)},
		CallPolicies: []core.CallPolicy{{
			Target:   common.HexToAddress("0xC4822AbB9F05646A9Ce44EFa6dDcda0Bf45595AA"),
			Selector: eth.FunctionSelector("mint(address,uint256)"),
		}},
	}
}

func encodeStatus(t *testing.T, status uint8) []byte {
	t.Helper()
	out, err := eth.ValidatorABI.Methods["sessionStatus"].Outputs.Pack(status)
	require.NoError(t, err)
	return out
}

func TestOracle_QueryStatus(t *testing.T) {
	validator := common.HexToAddress("0x34ca1501FAE231cC2ebc995CE013Dbe882d7d081")
	account := "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"

	for _, want := range []core.ChainStatus{core.ChainNotInitialized, core.ChainActive, core.ChainClosed, core.ChainExpired} {
		t.Run(want.String(), func(t *testing.T) {
			caller := &fakeCaller{out: encodeStatus(t, uint8(want))}
			oracle := NewOracle(caller, validator)

			got, err := oracle.QueryStatus(context.Background(), account, testPolicy())
			require.NoError(t, err)
			assert.Equal(t, want, got)

			require.Len(t, caller.calls, 1)
			assert.Equal(t, validator, *caller.calls[0].To)

			hash, err := eth.SessionHash(testPolicy())
			require.NoError(t, err)
			args, err := eth.ValidatorABI.Methods["sessionStatus"].Inputs.Unpack(caller.calls[0].Data[4:])
			require.NoError(t, err)
			assert.Equal(t, common.HexToAddress(account), args[0])
			assert.Equal(t, [32]byte(hash), args[1])
		})
	}
}

func TestOracle_Unavailable(t *testing.T) {
	validator := common.HexToAddress("0x34ca1501FAE231cC2ebc995CE013Dbe882d7d081")

	cases := map[string]*fakeCaller{
		"rpc error":    {err: errors.New("connection refused")},
		"empty result": {out: nil},
		"out of range": {out: encodeStatus(t, 7)},
	}

	for name, caller := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewOracle(caller, validator).QueryStatus(context.Background(), "0x01", testPolicy())
			assert.ErrorIs(t, err, core.ErrOracleUnavailable)
		})
	}
}

func TestSignatureVerifier_EOA(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()

	sig, err := eth.SignText(key, "hello")
	require.NoError(t, err)

	v := NewSignatureVerifier(nil)
	assert.NoError(t, v.VerifyMessage(context.Background(), addr, "hello", sig))
	assert.ErrorIs(t, v.VerifyMessage(context.Background(), addr, "hello!", sig), core.ErrInvalidSignature)
	assert.ErrorIs(t, v.VerifyMessage(context.Background(), "0x0000000000000000000000000000000000000001", "hello", sig), core.ErrInvalidSignature)
	assert.ErrorIs(t, v.VerifyMessage(context.Background(), addr, "hello", "not-hex"), core.ErrInvalidSignature)
}

func TestSignatureVerifier_ERC1271(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := eth.SignText(key, "hello")
	require.NoError(t, err)

	wallet := "0x00000000000000000000000000000000000000ff"

	magic, err := eth.ERC1271ABI.Methods["isValidSignature"].Outputs.Pack(eth.ERC1271MagicValue)
	require.NoError(t, err)
	caller := &fakeCaller{out: magic}
	require.NoError(t, NewSignatureVerifier(caller).VerifyMessage(context.Background(), wallet, "hello", sig))
	require.Len(t, caller.calls, 1)
	assert.Equal(t, common.HexToAddress(wallet), *caller.calls[0].To)

	other, err := eth.ERC1271ABI.Methods["isValidSignature"].Outputs.Pack([4]byte{0xff, 0xff, 0xff, 0xff})
	require.NoError(t, err)
	err = NewSignatureVerifier(&fakeCaller{out: other}).VerifyMessage(context.Background(), wallet, "hello", sig)
	assert.ErrorIs(t, err, core.ErrInvalidSignature)

	err = NewSignatureVerifier(&fakeCaller{err: errors.New("execution reverted")}).VerifyMessage(context.Background(), wallet, "hello", sig)
	assert.ErrorIs(t, err, core.ErrInvalidSignature)
}

type fakeBackend struct {
	fakeCaller
	sent *types.Transaction
}

func (b *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(11124), nil }

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 7, nil }

func (b *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (b *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(100)}, nil
}

func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 50000, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.sent = tx
	return nil
}

func TestTxSubmitter_Submit(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	backend := &fakeBackend{}
	to := common.HexToAddress("0xC4822AbB9F05646A9Ce44EFa6dDcda0Bf45595AA")
	data, err := eth.MintABI.Pack("mint", common.HexToAddress("0x01"), big.NewInt(3))
	require.NoError(t, err)

	hash, err := NewTxSubmitter(backend).Submit(context.Background(), key, ports.Call{To: to, Data: data})
	require.NoError(t, err)

	require.NotNil(t, backend.sent)
	assert.Equal(t, backend.sent.Hash().Hex(), hash)
	assert.Equal(t, uint64(7), backend.sent.Nonce())
	assert.Equal(t, uint64(50000), backend.sent.Gas())
	assert.Equal(t, big.NewInt(201), backend.sent.GasFeeCap())
	assert.Equal(t, data, backend.sent.Data())

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(11124)), backend.sent)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), from)
}
