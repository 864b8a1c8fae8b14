package core

import "time"

// SessionStatus is the locally tracked lifecycle state of a session key
type SessionStatus string

const (
	SessionPending SessionStatus = "pending"
	SessionActive  SessionStatus = "active"
	SessionRevoked SessionStatus = "revoked"
)

// Valid reports whether s is a known status
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionPending, SessionActive, SessionRevoked:
		return true
	}
	return false
}

// ChainStatus is the authoritative session state reported by the validator contract.
// Values match the contract's enum.
type ChainStatus uint8

const (
	ChainNotInitialized ChainStatus = iota
	ChainActive
	ChainClosed
	ChainExpired
)

func (s ChainStatus) String() string {
	switch s {
	case ChainNotInitialized:
		return "not_initialized"
	case ChainActive:
		return "active"
	case ChainClosed:
		return "closed"
	case ChainExpired:
		return "expired"
	}
	return "unknown"
}

// SessionRecord is the durable record of a generated session key
type SessionRecord struct {
	Address             string        // Lowercase address of the account the key acts for
	SessionKeyAddress   string        // Address derived from the session key
	EncryptedPrivateKey string        // Sealed private key bundle
	Policy              SessionPolicy // Capability policy registered on chain
	Status              SessionStatus
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Live reports whether the record can still change state
func (r *SessionRecord) Live() bool {
	return r.Status == SessionPending || r.Status == SessionActive
}
