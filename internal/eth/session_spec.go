package eth

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/keyward/core"
)

// ABI mirror of the validator's SessionSpec struct. Field names must match the
// camel-cased component names for the abi packer.
type (
	abiUsageLimit struct {
		LimitType uint8
		Limit     *big.Int
		Period    *big.Int
	}

	abiConstraint struct {
		Condition uint8
		Index     uint64
		RefValue  [32]byte
		Limit     abiUsageLimit
	}

	abiCallSpec struct {
		Target         common.Address
		Selector       [4]byte
		MaxValuePerUse *big.Int
		ValueLimit     abiUsageLimit
		Constraints    []abiConstraint
	}

	abiTransferSpec struct {
		Target         common.Address
		MaxValuePerUse *big.Int
		ValueLimit     abiUsageLimit
	}

	abiSessionSpec struct {
		Signer           common.Address
		ExpiresAt        *big.Int
		FeeLimit         abiUsageLimit
		CallPolicies     []abiCallSpec
		TransferPolicies []abiTransferSpec
	}
)

var sessionSpecArgs = func() abi.Arguments {
	limit := []abi.ArgumentMarshaling{
		{Name: "limitType", Type: "uint8"},
		{Name: "limit", Type: "uint256"},
		{Name: "period", Type: "uint256"},
	}

	t, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "signer", Type: "address"},
		{Name: "expiresAt", Type: "uint256"},
		{Name: "feeLimit", Type: "tuple", Components: limit},
		{Name: "callPolicies", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
			{Name: "target", Type: "address"},
			{Name: "selector", Type: "bytes4"},
			{Name: "maxValuePerUse", Type: "uint256"},
			{Name: "valueLimit", Type: "tuple", Components: limit},
			{Name: "constraints", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
				{Name: "condition", Type: "uint8"},
				{Name: "index", Type: "uint64"},
				{Name: "refValue", Type: "bytes32"},
				{Name: "limit", Type: "tuple", Components: limit},
			}},
		}},
		{Name: "transferPolicies", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
			{Name: "target", Type: "address"},
			{Name: "maxValuePerUse", Type: "uint256"},
			{Name: "valueLimit", Type: "tuple", Components: limit},
		}},
	})
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: t}}
}()

// EncodeSessionSpec ABI-encodes the policy as the validator's SessionSpec tuple
func EncodeSessionSpec(p *core.SessionPolicy) ([]byte, error) {
	spec := abiSessionSpec{
		Signer:           p.Signer,
		ExpiresAt:        p.ExpiresAt.Int(),
		FeeLimit:         toABILimit(p.FeeLimit),
		CallPolicies:     make([]abiCallSpec, 0, len(p.CallPolicies)),
		TransferPolicies: make([]abiTransferSpec, 0, len(p.TransferPolicies)),
	}

	for _, cp := range p.CallPolicies {
		call := abiCallSpec{
			Target:         cp.Target,
			Selector:       cp.Selector,
			MaxValuePerUse: cp.MaxValuePerUse.Int(),
			ValueLimit:     toABILimit(cp.ValueLimit),
			Constraints:    make([]abiConstraint, 0, len(cp.Constraints)),
		}
		for _, c := range cp.Constraints {
			call.Constraints = append(call.Constraints, abiConstraint{
				Condition: uint8(c.Condition),
				Index:     c.Index,
				RefValue:  c.RefValue,
				Limit:     toABILimit(c.Limit),
			})
		}
		spec.CallPolicies = append(spec.CallPolicies, call)
	}

	for _, tp := range p.TransferPolicies {
		spec.TransferPolicies = append(spec.TransferPolicies, abiTransferSpec{
			Target:         tp.Target,
			MaxValuePerUse: tp.MaxValuePerUse.Int(),
			ValueLimit:     toABILimit(tp.ValueLimit),
		})
	}

	packed, err := sessionSpecArgs.Pack(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session spec: %w", err)
	}
	return packed, nil
}

// SessionHash is the key the validator stores session state under
func SessionHash(p *core.SessionPolicy) (common.Hash, error) {
	packed, err := EncodeSessionSpec(p)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(packed), nil
}

func toABILimit(l core.UsageLimit) abiUsageLimit {
	return abiUsageLimit{
		LimitType: uint8(l.LimitType),
		Limit:     l.Limit.Int(),
		Period:    l.Period.Int(),
	}
}
