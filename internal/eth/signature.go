package eth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrBadSignature is returned when a signature cannot be decoded or recovered
var ErrBadSignature = errors.New("bad signature")

// TextHash returns the EIP-191 personal_sign digest of message
func TextHash(message string) common.Hash {
	return common.BytesToHash(accounts.TextHash([]byte(message)))
}

// RecoverAddress returns the address whose key produced an EIP-191 signature over message
func RecoverAddress(message string, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: signature must be %d bytes", ErrBadSignature, crypto.SignatureLength)
	}

	sig := make([]byte, len(signature))
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(TextHash(message).Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SignText produces a 65-byte EIP-191 signature with a 27/28 recovery byte,
// the form wallets return from personal_sign
func SignText(key *ecdsa.PrivateKey, message string) (string, error) {
	sig, err := crypto.Sign(TextHash(message).Bytes(), key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}
