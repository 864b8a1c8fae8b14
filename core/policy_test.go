package core

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTarget = common.HexToAddress("0xC4822AbB9F05646A9Ce44EFa6dDcda0Bf45595AA")

func maxLimit() UsageLimit {
	return UsageLimit{LimitType: LimitAllowance, Limit: NewBigInt(maxUint256), Period: NewBigInt(maxUint256)}
}

func TestPolicy_RoundTripMaxValues(t *testing.T) {
	top := NewBigInt(maxUint256)
	p := &SessionPolicy{
		Signer:    common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		ExpiresAt: top,
		FeeLimit:  maxLimit(),
		CallPolicies: []CallPolicy{{
			Target:         testTarget,
			Selector:       Selector{0x40, 0xc1, 0x0f, 0x19},
			ValueLimit:     maxLimit(),
			MaxValuePerUse: top,
			Constraints: []Constraint{{
				Condition: ConditionLessEqual,
				Index:     1,
				RefValue:  common.HexToHash("0xff"),
				Limit:     maxLimit(),
			}},
		}},
		TransferPolicies: []TransferPolicy{{
			Target:         testTarget,
			MaxValuePerUse: top,
			ValueLimit:     maxLimit(),
		}},
	}

	raw, err := MarshalPolicy(p)
	require.NoError(t, err)
	assert.Contains(t, raw, `"expiresAt":"`+maxUint256.String()+`"`)
	assert.Contains(t, raw, `"selector":"0x40c10f19"`)

	got, err := UnmarshalPolicy(raw)
	require.NoError(t, err)
	assert.Equal(t, *p, got)
	assert.Equal(t, 0, got.CallPolicies[0].Constraints[0].Limit.Limit.Cmp(maxUint256))
	assert.Equal(t, 0, got.TransferPolicies[0].ValueLimit.Period.Cmp(maxUint256))
}

func TestBigInt_UnmarshalJSON(t *testing.T) {
	var b BigInt
	require.NoError(t, json.Unmarshal([]byte(`1740830400`), &b))
	assert.Equal(t, "1740830400", b.String())

	require.NoError(t, json.Unmarshal([]byte(`"1740830400"`), &b))
	assert.Equal(t, "1740830400", b.String())

	overflow := new(big.Int).Add(maxUint256, big.NewInt(1)).String()
	for _, in := range []string{`-1`, `"-1"`, overflow, `"` + overflow + `"`, `"abc"`, `1.5`, `""`} {
		t.Run(in, func(t *testing.T) {
			var v BigInt
			assert.Error(t, json.Unmarshal([]byte(in), &v))
		})
	}
}

func TestSelector_UnmarshalText(t *testing.T) {
	var s Selector
	require.NoError(t, s.UnmarshalText([]byte("0x40c10f19")))
	assert.Equal(t, Selector{0x40, 0xc1, 0x0f, 0x19}, s)

	assert.Error(t, s.UnmarshalText([]byte("0x40c10f")))
	assert.Error(t, s.UnmarshalText([]byte("mint")))
}

func TestPolicy_Permits(t *testing.T) {
	selector := Selector{0x40, 0xc1, 0x0f, 0x19}
	expiry := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)
	p := &SessionPolicy{
		ExpiresAt: BigIntFromUint64(uint64(expiry.Unix())),
		CallPolicies: []CallPolicy{{
			Target:         testTarget,
			Selector:       selector,
			MaxValuePerUse: BigIntFromUint64(100),
		}},
	}
	before := expiry.Add(-time.Minute)

	assert.NoError(t, p.Permits(before, testTarget, selector, nil))
	assert.NoError(t, p.Permits(before, testTarget, selector, big.NewInt(100)))

	cases := map[string]error{
		"expired":        p.Permits(expiry, testTarget, selector, nil),
		"over value":     p.Permits(before, testTarget, selector, big.NewInt(101)),
		"other selector": p.Permits(before, testTarget, Selector{0xa9, 0x05, 0x9c, 0xbb}, nil),
		"other target":   p.Permits(before, common.HexToAddress("0x01"), selector, nil),
	}
	for name, err := range cases {
		assert.ErrorIs(t, err, ErrCallNotPermitted, name)
	}
}
