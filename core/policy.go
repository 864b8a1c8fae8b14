package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// maxUint256 is the largest value a policy integer may hold
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// BigInt is an unsigned 256-bit integer that serializes as a JSON decimal string.
// Decoding also accepts a bare JSON integer.
type BigInt struct {
	v big.Int
}

// NewBigInt copies x into a BigInt
func NewBigInt(x *big.Int) BigInt {
	var b BigInt
	if x != nil {
		b.v.Set(x)
	}
	return b
}

// BigIntFromUint64 builds a BigInt from u
func BigIntFromUint64(u uint64) BigInt {
	var b BigInt
	b.v.SetUint64(u)
	return b
}

// Int returns a copy of the value
func (b BigInt) Int() *big.Int {
	return new(big.Int).Set(&b.v)
}

// String returns the decimal representation
func (b BigInt) String() string {
	return b.v.String()
}

// Cmp compares b with x
func (b BigInt) Cmp(x *big.Int) int {
	return b.v.Cmp(x)
}

// MarshalJSON encodes the value as a decimal string
func (b BigInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.v.String())
}

// UnmarshalJSON decodes a decimal string or a bare JSON integer
func (b *BigInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	v, ok := new(big.Int).SetString(string(data), 10)
	if !ok {
		return fmt.Errorf("invalid integer %q", data)
	}
	if v.Sign() < 0 || v.Cmp(maxUint256) > 0 {
		return fmt.Errorf("integer %s out of uint256 range", v)
	}
	b.v.Set(v)
	return nil
}

// Selector is a 4-byte function selector, hex encoded in JSON
type Selector [4]byte

func (s Selector) MarshalText() ([]byte, error) {
	return []byte(hexutil.Encode(s[:])), nil
}

func (s *Selector) UnmarshalText(text []byte) error {
	raw, err := hexutil.Decode(string(text))
	if err != nil {
		return fmt.Errorf("invalid selector: %w", err)
	}
	if len(raw) != len(s) {
		return fmt.Errorf("selector must be 4 bytes, got %d", len(raw))
	}
	copy(s[:], raw)
	return nil
}

// LimitType mirrors the validator contract's limit enum
type LimitType uint8

const (
	LimitUnlimited LimitType = iota
	LimitLifetime
	LimitAllowance
)

// ConstraintCondition mirrors the validator contract's condition enum
type ConstraintCondition uint8

const (
	ConditionUnconstrained ConstraintCondition = iota
	ConditionEqual
	ConditionGreater
	ConditionLess
	ConditionGreaterEqual
	ConditionLessEqual
	ConditionNotEqual
)

// UsageLimit bounds cumulative spend for a fee, call or transfer
type UsageLimit struct {
	LimitType LimitType `json:"limitType"`
	Limit     BigInt    `json:"limit"`
	Period    BigInt    `json:"period"`
}

// Constraint restricts one 32-byte calldata argument of an allowed call
type Constraint struct {
	Condition ConstraintCondition `json:"condition"`
	Index     uint64              `json:"index"`
	RefValue  common.Hash         `json:"refValue"`
	Limit     UsageLimit          `json:"limit"`
}

// CallPolicy allows calls to one target function
type CallPolicy struct {
	Target         common.Address `json:"target"`
	Selector       Selector       `json:"selector"`
	ValueLimit     UsageLimit     `json:"valueLimit"`
	MaxValuePerUse BigInt         `json:"maxValuePerUse"`
	Constraints    []Constraint   `json:"constraints"`
}

// TransferPolicy allows plain value transfers to one target
type TransferPolicy struct {
	Target         common.Address `json:"target"`
	MaxValuePerUse BigInt         `json:"maxValuePerUse"`
	ValueLimit     UsageLimit     `json:"valueLimit"`
}

// SessionPolicy is the capability set a session key is registered with on chain
type SessionPolicy struct {
	Signer           common.Address   `json:"signer"`
	ExpiresAt        BigInt           `json:"expiresAt"`
	FeeLimit         UsageLimit       `json:"feeLimit"`
	CallPolicies     []CallPolicy     `json:"callPolicies"`
	TransferPolicies []TransferPolicy `json:"transferPolicies"`
}

// Expiry returns ExpiresAt as a time
func (p *SessionPolicy) Expiry() time.Time {
	exp := p.ExpiresAt.Int()
	if !exp.IsInt64() {
		return time.Unix(1<<62, 0)
	}
	return time.Unix(exp.Int64(), 0)
}

// Permits checks a single call against the policy. It does not track cumulative
// limits; those are enforced by the validator contract.
func (p *SessionPolicy) Permits(now time.Time, target common.Address, selector Selector, value *big.Int) error {
	if !now.Before(p.Expiry()) {
		return fmt.Errorf("%w: session policy expired", ErrCallNotPermitted)
	}
	if value == nil {
		value = new(big.Int)
	}
	for _, cp := range p.CallPolicies {
		if cp.Target != target || cp.Selector != selector {
			continue
		}
		if cp.MaxValuePerUse.Cmp(value) < 0 {
			return fmt.Errorf("%w: value %s exceeds per-call limit %s", ErrCallNotPermitted, value, cp.MaxValuePerUse)
		}
		return nil
	}
	return fmt.Errorf("%w: %s %s not in allow-list", ErrCallNotPermitted, target.Hex(), hexutil.Encode(selector[:]))
}

// MarshalPolicy serializes the policy losslessly for storage
func MarshalPolicy(p *SessionPolicy) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session policy: %w", err)
	}
	return string(raw), nil
}

// UnmarshalPolicy parses a stored policy
func UnmarshalPolicy(s string) (SessionPolicy, error) {
	var p SessionPolicy
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return SessionPolicy{}, fmt.Errorf("failed to unmarshal session policy: %w", err)
	}
	return p, nil
}
