package tokenizer

import "github.com/golang-jwt/jwt/v5"

// AccessClaims are the claims of a login bearer token. The subject is the
// lowercase account address and the JWT ID is used for logout invalidation.
type AccessClaims struct {
	jwt.RegisteredClaims
}
