package core

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Account is the durable record behind a wallet login. The signing nonce is
// regenerated after every verification attempt and doubles as the account's
// optimistic-concurrency version: an update only applies if the nonce it read
// is still current.
type Account struct {
	ID                 string
	WalletAddress      string // EIP-55 checksummed
	WalletSigningNonce string
	Username           *string
	LoginAttempts      int
	LockoutExpiryAt    *time.Time
	LastLoggedInAt     *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Locked reports whether the account is inside an active lockout window.
func (a *Account) Locked(now time.Time) bool {
	return a.LockoutExpiryAt != nil && a.LockoutExpiryAt.After(now)
}

// Identity returns the token-facing view of the account.
func (a *Account) Identity() TokenIdentity {
	return TokenIdentity{AccountID: a.ID, Username: a.Username}
}

// RefreshTokenRecord is the single stored refresh token for an account.
// Presenting a refresh token that does not match the stored one is treated
// as a replay signal and revokes the record.
type RefreshTokenRecord struct {
	AccountID string
	Token     string
	ExpiresAt time.Time
}

// Expired reports whether the stored record itself has passed its expiry,
// independent of the JWT's own exp claim.
func (r *RefreshTokenRecord) Expired(now time.Time) bool {
	return r.ExpiresAt.Before(now)
}

// NewNonce generates a random signing challenge.
func NewNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
