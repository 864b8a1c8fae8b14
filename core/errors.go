package core

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by a service wraps exactly one of these,
// so the transport layer can map it to a status code with errors.Is.
var (
	ErrValidation             = errors.New("validation error")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrAuthenticationFailed   = errors.New("authentication failed")
	ErrForbidden              = errors.New("forbidden")
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrOracleUnavailable      = errors.New("oracle unavailable")
	ErrEncryption             = errors.New("encryption failure")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
)

var (
	ErrInvalidAddress    = fmt.Errorf("%w: invalid ethereum address", ErrValidation)
	ErrChallengeNotFound = fmt.Errorf("%w: no challenge for address", ErrNotFound)
	ErrChallengeExpired  = fmt.Errorf("%w: nonce has expired", ErrAuthenticationFailed)
	ErrChallengeMismatch = fmt.Errorf("%w: challenge does not match record", ErrAuthenticationFailed)
	ErrInvalidSignature  = fmt.Errorf("%w: invalid signature", ErrAuthenticationFailed)

	ErrTokenExpired     = fmt.Errorf("%w: token has expired", ErrUnauthorized)
	ErrTokenInvalidated = fmt.Errorf("%w: token has been invalidated", ErrUnauthorized)
	ErrInvalidToken     = fmt.Errorf("%w: invalid token", ErrUnauthorized)

	ErrSessionNotFound  = fmt.Errorf("%w: no session for address", ErrNotFound)
	ErrNoPendingSession = fmt.Errorf("%w: no pending session", ErrConflict)
	ErrNoActiveSession  = fmt.Errorf("%w: no active session", ErrForbidden)
	ErrCallNotPermitted = fmt.Errorf("%w: call not permitted by session policy", ErrForbidden)
)
