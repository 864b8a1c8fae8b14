package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/keyward/ports"
)

// Backend is the subset of *ethclient.Client needed to send transactions
type Backend interface {
	ContractCaller
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// TxSubmitter signs dynamic-fee transactions with the session key
type TxSubmitter struct {
	backend Backend
}

// NewTxSubmitter creates a submitter on backend
func NewTxSubmitter(backend Backend) ports.TxSubmitter {
	return &TxSubmitter{backend: backend}
}

// Submit signs and broadcasts call, returning the transaction hash
func (s *TxSubmitter) Submit(ctx context.Context, key *ecdsa.PrivateKey, call ports.Call) (string, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}

	chainID, err := s.backend.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get chain id: %w", err)
	}
	nonce, err := s.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}
	tip, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to suggest gas tip: %w", err)
	}
	head, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to get latest header: %w", err)
	}
	gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &call.To, Data: call.Data, Value: value})
	if err != nil {
		return "", fmt.Errorf("failed to estimate gas: %w", err)
	}

	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(baseFee, big.NewInt(2)))
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &call.To,
		Value:     value,
		Data:      call.Data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	return signed.Hash().Hex(), nil
}
