package eth

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

const validatorABIJSON = `[
	{"type":"function","name":"sessionStatus","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"},{"name":"sessionHash","type":"bytes32"}],
	 "outputs":[{"name":"","type":"uint8"}]}
]`

const erc1271ABIJSON = `[
	{"type":"function","name":"isValidSignature","stateMutability":"view",
	 "inputs":[{"name":"hash","type":"bytes32"},{"name":"signature","type":"bytes"}],
	 "outputs":[{"name":"","type":"bytes4"}]}
]`

const mintABIJSON = `[
	{"type":"function","name":"mint","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]}
]`

var (
	// ValidatorABI is the session key validator's status interface
	ValidatorABI = mustParseABI(validatorABIJSON)

	// ERC1271ABI is the smart account signature validation interface
	ERC1271ABI = mustParseABI(erc1271ABIJSON)

	// MintABI is the NFT contract's mint interface
	MintABI = mustParseABI(mintABIJSON)

	// ERC1271MagicValue is returned by isValidSignature for a valid signature
	ERC1271MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}
)

// FunctionSelector returns the 4-byte selector of a canonical signature such as "mint(address,uint256)"
func FunctionSelector(signature string) [4]byte {
	var sel [4]byte
	copy(sel[:], crypto.Keccak256([]byte(signature))[:4])
	return sel
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
