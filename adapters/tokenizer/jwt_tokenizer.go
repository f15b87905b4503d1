package tokenizer

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hashit-app/hashit/core"
	"github.com/hashit-app/hashit/ports"
)

const (
	AudienceAccess  = "auth:access"
	AudienceRefresh = "auth:refresh"
)

// SigningConfig holds the key material and policy for one token kind.
// Access and refresh tokens may share a key pair or use distinct ones.
type SigningConfig struct {
	Key    *rsa.PrivateKey
	Issuer string
	TTL    time.Duration
}

// JWTTokenizer signs RS256 access and refresh tokens.
type JWTTokenizer struct {
	access  SigningConfig
	refresh SigningConfig
}

func NewJWTTokenizer(access, refresh SigningConfig) ports.Tokenizer {
	return &JWTTokenizer{access: access, refresh: refresh}
}

func (j *JWTTokenizer) IssueAccessToken(identity core.TokenIdentity) (string, time.Duration, error) {
	token, err := j.sign(identity, j.access, AudienceAccess)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign access token: %w", err)
	}
	return token, j.access.TTL, nil
}

func (j *JWTTokenizer) IssueRefreshToken(identity core.TokenIdentity) (string, error) {
	token, err := j.sign(identity, j.refresh, AudienceRefresh)
	if err != nil {
		return "", fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return token, nil
}

func (j *JWTTokenizer) VerifyAccessToken(token string) (core.TokenIdentity, error) {
	return j.verify(token, j.access, AudienceAccess)
}

func (j *JWTTokenizer) VerifyRefreshToken(token string) (core.TokenIdentity, error) {
	return j.verify(token, j.refresh, AudienceRefresh)
}

func (j *JWTTokenizer) RefreshTTL() time.Duration {
	return j.refresh.TTL
}

func (j *JWTTokenizer) sign(identity core.TokenIdentity, cfg SigningConfig, audience string) (string, error) {
	now := time.Now()
	claims := IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.AccountID,
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}
	if identity.Username != nil {
		claims.Name = *identity.Username
	}

	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(cfg.Key)
}

// verify collapses every parse, signature, issuer, audience and expiry
// problem into core.ErrInvalidToken so callers cannot probe which check
// failed.
func (j *JWTTokenizer) verify(tokenStr string, cfg SigningConfig, audience string) (core.TokenIdentity, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &IdentityClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &cfg.Key.PublicKey, nil
	}, jwt.WithIssuer(cfg.Issuer), jwt.WithAudience(audience))
	if err != nil || !token.Valid {
		return core.TokenIdentity{}, core.ErrInvalidToken
	}

	claims, ok := token.Claims.(*IdentityClaims)
	if !ok || claims.Subject == "" {
		return core.TokenIdentity{}, core.ErrInvalidToken
	}

	identity := core.TokenIdentity{AccountID: claims.Subject}
	if claims.Name != "" {
		name := claims.Name
		identity.Username = &name
	}
	return identity, nil
}
