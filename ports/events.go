package ports

import "context"

// Session lifecycle event kinds
const (
	SessionCreated   = "created"
	SessionConfirmed = "confirmed"
	SessionRevoked   = "revoked"
)

// SessionEvent announces a change to an address's session record
type SessionEvent struct {
	Address           string `json:"address"`
	SessionKeyAddress string `json:"session_key_address"`
	Kind              string `json:"kind"`
}

// EventPublisher publishes events to notify other instances
type EventPublisher interface {
	PublishLogout(ctx context.Context, address string, tokenID string) error
	PublishSession(ctx context.Context, event SessionEvent) error
}
