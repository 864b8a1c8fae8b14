package core

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Challenge represents an outstanding sign-in challenge for one address
type Challenge struct {
	ID        string    // Unique identifier for the challenge
	Address   string    // Lowercase Ethereum address of the user
	Nonce     string    // Random single-use nonce embedded in Message
	Message   string    // Canonical sign-in message the user signs
	IssuedAt  time.Time // When the challenge was created
	ExpiresAt time.Time // When the challenge expires
}

// Expired reports whether the challenge is no longer usable at now
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// User is the identity row created on first successful login
type User struct {
	ID        string
	Address   string
	CreatedAt time.Time
}

// Credential is the payload carried by a bearer token
type Credential struct {
	ID        string    // Token identifier, used for logout invalidation
	Address   string    // Lowercase Ethereum address of the user
	IssuedAt  time.Time // When the token was issued
	ExpiresAt time.Time // When the token stops being accepted
}

// NormalizeAddress validates a hex address and returns its lowercase form.
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return "", ErrInvalidAddress
	}
	return strings.ToLower(common.HexToAddress(address).Hex()), nil
}
