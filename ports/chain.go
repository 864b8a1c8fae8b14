package ports

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/keyward/core"
)

// Oracle reads the authoritative session status from the ledger.
// Transport failures wrap core.ErrOracleUnavailable and are never mapped to a status.
type Oracle interface {
	QueryStatus(ctx context.Context, account string, policy *core.SessionPolicy) (core.ChainStatus, error)
}

// SignatureVerifier checks that address signed message
type SignatureVerifier interface {
	VerifyMessage(ctx context.Context, address, message, signature string) error
}

// Call is a contract call made with a session key
type Call struct {
	Account common.Address // Account the session acts for
	To      common.Address
	Data    []byte
	Value   *big.Int
}

// TxSubmitter signs a call with the session key and submits it to the ledger
type TxSubmitter interface {
	Submit(ctx context.Context, key *ecdsa.PrivateKey, call Call) (txHash string, err error)
}
