package chain

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/internal/eth"
	"github.com/layer-3/keyward/ports"
)

// SignatureVerifier checks EIP-191 signatures from externally owned accounts and,
// when recovery does not match, asks the account contract via ERC-1271
type SignatureVerifier struct {
	caller ContractCaller
}

// NewSignatureVerifier creates a verifier. caller may be nil to disable the ERC-1271 fallback.
func NewSignatureVerifier(caller ContractCaller) ports.SignatureVerifier {
	return &SignatureVerifier{caller: caller}
}

// VerifyMessage returns core.ErrInvalidSignature unless address signed message
func (v *SignatureVerifier) VerifyMessage(ctx context.Context, address, message, signature string) error {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %w", core.ErrInvalidSignature)
	}
	expected := common.HexToAddress(address)

	recovered, err := eth.RecoverAddress(message, sig)
	if err == nil && recovered == expected {
		return nil
	}

	if v.caller == nil {
		return core.ErrInvalidSignature
	}
	return v.verifyContract(ctx, expected, message, sig)
}

func (v *SignatureVerifier) verifyContract(ctx context.Context, account common.Address, message string, sig []byte) error {
	data, err := eth.ERC1271ABI.Pack("isValidSignature", [32]byte(eth.TextHash(message)), sig)
	if err != nil {
		return fmt.Errorf("failed to pack isValidSignature: %w", core.ErrInvalidSignature)
	}

	out, err := v.caller.CallContract(ctx, ethereum.CallMsg{To: &account, Data: data}, nil)
	if err != nil {
		// Plain accounts have no code and revert or return nothing
		return errors.Join(core.ErrInvalidSignature, err)
	}

	values, err := eth.ERC1271ABI.Unpack("isValidSignature", out)
	if err != nil || len(values) != 1 {
		return core.ErrInvalidSignature
	}
	magic, ok := values[0].([4]byte)
	if !ok || !bytes.Equal(magic[:], eth.ERC1271MagicValue[:]) {
		return core.ErrInvalidSignature
	}
	return nil
}
