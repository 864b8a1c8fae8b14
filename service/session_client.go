package service

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/ports"
)

// SessionClient is a ready-to-use signing handle for one account's session key.
// Every call is checked against the session policy before it is submitted.
type SessionClient struct {
	account   common.Address
	key       *ecdsa.PrivateKey
	signer    common.Address
	policy    core.SessionPolicy
	submitter ports.TxSubmitter
	clock     Clock
}

func newSessionClient(account common.Address, key *ecdsa.PrivateKey, policy core.SessionPolicy, submitter ports.TxSubmitter, clock Clock) *SessionClient {
	return &SessionClient{
		account:   account,
		key:       key,
		signer:    crypto.PubkeyToAddress(key.PublicKey),
		policy:    policy,
		submitter: submitter,
		clock:     clock,
	}
}

// Account is the smart account the session acts for
func (c *SessionClient) Account() common.Address { return c.account }

// Signer is the session key's address
func (c *SessionClient) Signer() common.Address { return c.signer }

// Policy returns the capability policy the key was registered with
func (c *SessionClient) Policy() *core.SessionPolicy { return &c.policy }

// WriteContract submits a contract call signed by the session key
func (c *SessionClient) WriteContract(ctx context.Context, to common.Address, data []byte, value *big.Int) (string, error) {
	if len(data) < 4 {
		return "", fmt.Errorf("%w: calldata has no selector", core.ErrValidation)
	}
	var selector core.Selector
	copy(selector[:], data[:4])

	if err := c.policy.Permits(c.clock.Now(), to, selector, value); err != nil {
		return "", err
	}

	return c.submitter.Submit(ctx, c.key, ports.Call{
		Account: c.account,
		To:      to,
		Data:    data,
		Value:   value,
	})
}
