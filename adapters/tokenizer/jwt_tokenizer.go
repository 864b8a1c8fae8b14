package tokenizer

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/keyward/core"
	"github.com/layer-3/keyward/ports"
)

const AudienceAccess = "keyward:access"

// JWTTokenizer implements the Tokenizer interface using HS256 JWTs
type JWTTokenizer struct {
	secret []byte
	now    func() time.Time
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer(secret []byte) ports.Tokenizer {
	return &JWTTokenizer{secret: secret, now: time.Now}
}

// CredentialToToken converts a Credential to a signed JWT
func (j *JWTTokenizer) CredentialToToken(credential *core.Credential) (string, error) {
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   credential.Address,
			ID:        credential.ID,
			ExpiresAt: jwt.NewNumericDate(credential.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(credential.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceAccess},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedToken, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signedToken, nil
}

// TokenToCredential parses and validates a JWT and returns its credential
func (j *JWTTokenizer) TokenToCredential(tokenStr string) (*core.Credential, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	},
		jwt.WithAudience(AudienceAccess),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)

	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, core.ErrTokenExpired
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, core.ErrInvalidToken
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || claims.Subject == "" || claims.ID == "" || claims.IssuedAt == nil {
		return nil, core.ErrInvalidToken
	}

	return &core.Credential{
		ID:        claims.ID,
		Address:   claims.Subject,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
