package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/internal/eth"
	"github.com/layer-3/keyward/ports"
)

// ContractCaller performs read-only contract calls. *ethclient.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Oracle implements ports.Oracle against the session key validator contract
type Oracle struct {
	caller    ContractCaller
	validator common.Address
}

// NewOracle creates an oracle reading from the validator at the given address
func NewOracle(caller ContractCaller, validator common.Address) ports.Oracle {
	return &Oracle{caller: caller, validator: validator}
}

// QueryStatus calls sessionStatus(account, sessionHash) on the validator
func (o *Oracle) QueryStatus(ctx context.Context, account string, policy *core.SessionPolicy) (core.ChainStatus, error) {
	hash, err := eth.SessionHash(policy)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", core.ErrOracleUnavailable, err)
	}

	data, err := eth.ValidatorABI.Pack("sessionStatus", common.HexToAddress(account), [32]byte(hash))
	if err != nil {
		return 0, fmt.Errorf("%w: failed to pack call: %w", core.ErrOracleUnavailable, err)
	}

	out, err := o.caller.CallContract(ctx, ethereum.CallMsg{To: &o.validator, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: sessionStatus call failed: %w", core.ErrOracleUnavailable, err)
	}

	values, err := eth.ValidatorABI.Unpack("sessionStatus", out)
	if err != nil || len(values) != 1 {
		return 0, fmt.Errorf("%w: failed to decode sessionStatus result", core.ErrOracleUnavailable)
	}
	raw, ok := values[0].(uint8)
	if !ok || raw > uint8(core.ChainExpired) {
		return 0, fmt.Errorf("%w: unexpected session status %v", core.ErrOracleUnavailable, values[0])
	}

	return core.ChainStatus(raw), nil
}
