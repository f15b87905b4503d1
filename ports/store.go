package ports

import (
	"context"
	"time"

	"github.com/hashit-app/hashit/core"
)

// AccountStore is the durable record store for accounts and their single
// refresh token.
//
// UpdateOnSuccess and UpdateOnFailure are guarded writes: they only apply
// while the account's signing nonce still equals expectedNonce, and return
// core.ErrConflict otherwise. The nonce rotates on every attempt, so it acts
// as the account's version and concurrent attempts cannot lose an update.
type AccountStore interface {
	FindByWalletAddress(ctx context.Context, address string) (*core.Account, error)

	// CreateAccount registers a wallet address with a fresh nonce and zeroed
	// attempt counters. If another request created the account first, the
	// existing record is returned instead.
	CreateAccount(ctx context.Context, walletAddress, nonce string) (*core.Account, error)

	// UpdateOnSuccess resets attempt counters, clears any lockout, stamps the
	// login time and rotates the nonce.
	UpdateOnSuccess(ctx context.Context, accountID, expectedNonce string, now time.Time, freshNonce string) (*core.Account, error)

	// UpdateOnFailure persists the computed attempt state and rotates the nonce.
	UpdateOnFailure(ctx context.Context, accountID, expectedNonce string, next core.AttemptState, freshNonce string) (*core.Account, error)

	GetRefreshToken(ctx context.Context, accountID string) (*core.RefreshTokenRecord, error)

	// UpsertRefreshToken atomically creates or overwrites the single refresh
	// token record for the account. Last writer wins under concurrency.
	UpsertRefreshToken(ctx context.Context, accountID, token string, expiresAt time.Time) (*core.RefreshTokenRecord, error)

	// DeleteRefreshToken removes the record. Deleting an absent record is not
	// an error.
	DeleteRefreshToken(ctx context.Context, accountID string) error
}
