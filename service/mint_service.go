package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/internal/eth"
	"github.com/layer-3/keyward/internal/logging"
	"github.com/shopspring/decimal"
)

// MintService mints NFTs on behalf of a user through their session key
type MintService struct {
	cache  *ClientCache
	nft    common.Address
	logger *slog.Logger
}

// NewMintService creates a mint service for the NFT contract at nft
func NewMintService(cache *ClientCache, nft common.Address, logger *slog.Logger) *MintService {
	return &MintService{cache: cache, nft: nft, logger: logger}
}

// Mint acquires the caller's session handle and submits mint(to, amount).
// It returns the transaction hash.
func (s *MintService) Mint(ctx context.Context, address string, to string, amount *big.Int) (string, error) {
	if !common.IsHexAddress(to) {
		return "", fmt.Errorf("%w: invalid recipient address", core.ErrValidation)
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", fmt.Errorf("%w: amount must be positive", core.ErrValidation)
	}

	client, err := s.cache.Acquire(ctx, address)
	if err != nil {
		return "", err
	}

	data, err := eth.MintABI.Pack("mint", common.HexToAddress(to), amount)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrValidation, err)
	}

	txHash, err := client.WriteContract(ctx, s.nft, data, nil)
	if err != nil {
		return "", err
	}

	s.logger.Info("mint.submitted", "address", logging.ShortAddress(address), "to", to, "amount", amount.String(), "tx", txHash)
	return txHash, nil
}

// maxAmountDigits is the decimal width of 2^256-1
const maxAmountDigits = 78

var maxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ParseAmount reads a positive integer token amount given as a decimal string.
// The value must fit in a uint256; the exponent is bounded before expansion.
func ParseAmount(raw string) (*big.Int, error) {
	if len(raw) > 2*maxAmountDigits {
		return nil, fmt.Errorf("%w: amount is too long", core.ErrValidation)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q is not a number", core.ErrValidation, raw)
	}
	if d.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be a positive integer", core.ErrValidation)
	}
	if exp := int64(d.Exponent()); exp > 0 && int64(len(d.Coefficient().String()))+exp > maxAmountDigits {
		return nil, fmt.Errorf("%w: amount exceeds uint256", core.ErrValidation)
	}
	if !d.IsInteger() {
		return nil, fmt.Errorf("%w: amount must be a positive integer", core.ErrValidation)
	}
	amount := d.BigInt()
	if amount.Cmp(maxAmount) > 0 {
		return nil, fmt.Errorf("%w: amount exceeds uint256", core.ErrValidation)
	}
	return amount, nil
}
