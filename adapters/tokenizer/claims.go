package tokenizer

import "github.com/golang-jwt/jwt/v5"

// IdentityClaims carry the account id as subject plus the optional display
// name. Access and refresh tokens share this shape and are told apart by
// audience.
type IdentityClaims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}
