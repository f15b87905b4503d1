package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashit-app/hashit/core"
	"github.com/hashit-app/hashit/internal/lib/sl"
	"github.com/hashit-app/hashit/ports"
)

// maxAttemptRetries bounds the re-read loop when a guarded account update
// loses to a concurrent attempt.
const maxAttemptRetries = 3

// AuthService orchestrates the challenge/response login flow and token
// lifecycle on top of the account store, signature verifier and token
// service.
type AuthService struct {
	logger   *slog.Logger
	store    ports.AccountStore
	verifier ports.SignatureVerifier
	tokens   *TokenService
	events   ports.EventPublisher
	policy   core.LockoutPolicy

	now func() time.Time
}

func NewAuthService(
	logger *slog.Logger,
	store ports.AccountStore,
	verifier ports.SignatureVerifier,
	tokens *TokenService,
	events ports.EventPublisher,
	policy core.LockoutPolicy,
) *AuthService {
	return &AuthService{
		logger:   logger,
		store:    store,
		verifier: verifier,
		tokens:   tokens,
		events:   events,
		policy:   policy,
		now:      time.Now,
	}
}

// LoginChallenge returns the current signing nonce for a wallet address,
// creating the account on first sight. The nonce is stable until an attempt
// consumes it, so clients may retry this call freely.
func (s *AuthService) LoginChallenge(ctx context.Context, walletAddress string) (*core.LoginChallenge, error) {
	const op = "auth.LoginChallenge"
	log := s.logger.With(slog.String("op", op))

	address, err := s.verifier.CanonicalAddress(walletAddress)
	if err != nil {
		return nil, core.ErrInvalidAddress
	}

	account, err := s.store.FindByWalletAddress(ctx, address)
	if errors.Is(err, core.ErrAccountNotFound) {
		nonce, nerr := core.NewNonce()
		if nerr != nil {
			return nil, fmt.Errorf("%s: %w", op, nerr)
		}
		account, err = s.store.CreateAccount(ctx, address, nonce)
		if err == nil {
			log.Info("account created", slog.String("account_id", account.ID))
		}
	}
	if err != nil {
		log.Error("failed to load account", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if account.Locked(s.now()) {
		log.Warn("challenge rejected, account locked", slog.String("account_id", account.ID))
		return nil, core.ErrAccountLocked
	}

	return &core.LoginChallenge{
		AccountID:     account.ID,
		WalletAddress: account.WalletAddress,
		Nonce:         account.WalletSigningNonce,
	}, nil
}

// VerifySignature redeems a signed challenge. The attempt outcome is always
// persisted before any error is returned: the nonce rotates and lockout
// accounting advances whether or not the signature checked out. A failed
// verification surfaces as core.ErrUnauthorized without further detail.
func (s *AuthService) VerifySignature(ctx context.Context, walletAddress, signedMessage string) (core.TokenIdentity, error) {
	const op = "auth.VerifySignature"
	log := s.logger.With(slog.String("op", op))

	address, err := s.verifier.CanonicalAddress(walletAddress)
	if err != nil {
		return core.TokenIdentity{}, core.ErrInvalidAddress
	}

	account, err := s.store.FindByWalletAddress(ctx, address)
	if err != nil {
		if errors.Is(err, core.ErrAccountNotFound) {
			log.Warn("no account for wallet address")
			return core.TokenIdentity{}, core.ErrAccountNotFound
		}
		log.Error("failed to load account", sl.Err(err))
		return core.TokenIdentity{}, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	if account.Locked(now) {
		log.Warn("attempt rejected, account locked", slog.String("account_id", account.ID))
		return core.TokenIdentity{}, core.ErrAccountLocked
	}

	verified, err := s.verifier.Verify(address, account.WalletSigningNonce, signedMessage)
	if err != nil {
		return core.TokenIdentity{}, core.ErrInvalidAddress
	}

	account, err = s.recordAttempt(ctx, log, account, now, verified)
	if err != nil {
		return core.TokenIdentity{}, err
	}

	if !verified {
		log.Warn("signature verification failed",
			slog.String("account_id", account.ID),
			slog.Int("login_attempts", account.LoginAttempts))
		return core.TokenIdentity{}, core.ErrUnauthorized
	}

	log.Info("signature verified", slog.String("account_id", account.ID))
	if s.events != nil {
		if err := s.events.PublishLogin(ctx, account.ID, account.WalletAddress); err != nil {
			log.Warn("failed to publish login event", sl.Err(err))
		}
	}
	return account.Identity(), nil
}

// IssueWeb3Tokens redeems a signed challenge for an access/refresh pair.
func (s *AuthService) IssueWeb3Tokens(ctx context.Context, walletAddress, signedMessage string) (*core.TokenPair, error) {
	identity, err := s.VerifySignature(ctx, walletAddress, signedMessage)
	if err != nil {
		return nil, err
	}
	return s.tokens.IssueTokenPair(ctx, identity)
}

// RefreshTokens exchanges a refresh token for a fresh pair, rotating the
// stored record. A missing, mismatched or stale-expired record is treated as
// possible token replay: the record is revoked and the call fails.
func (s *AuthService) RefreshTokens(ctx context.Context, refreshToken string) (*core.TokenPair, error) {
	const op = "auth.RefreshTokens"
	log := s.logger.With(slog.String("op", op))

	identity, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		log.Warn("invalid refresh token")
		return nil, core.ErrUnauthorized
	}
	log = log.With(slog.String("account_id", identity.AccountID))

	record, err := s.tokens.RefreshTokenRecord(ctx, identity.AccountID)
	if err != nil && !errors.Is(err, core.ErrRefreshTokenNotFound) {
		log.Error("failed to load refresh token record", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if record == nil || record.Token != refreshToken {
		if rerr := s.tokens.RevokeRefreshToken(ctx, identity.AccountID); rerr != nil {
			log.Error("failed to revoke refresh token", sl.Err(rerr))
			return nil, fmt.Errorf("%s: %w", op, rerr)
		}
		log.Warn("refresh token superseded or unknown, revoked")
		return nil, core.ErrUnauthorized
	}

	return s.tokens.IssueTokenPair(ctx, identity)
}

// Logout revokes the account's stored refresh token.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	const op = "auth.Logout"
	log := s.logger.With(slog.String("op", op))

	identity, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return core.ErrUnauthorized
	}

	if err := s.tokens.RevokeRefreshToken(ctx, identity.AccountID); err != nil {
		log.Error("failed to revoke refresh token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("logged out", slog.String("account_id", identity.AccountID))
	if s.events != nil {
		if err := s.events.PublishLogout(ctx, identity.AccountID); err != nil {
			log.Warn("failed to publish logout event", sl.Err(err))
		}
	}
	return nil
}

// Authenticate verifies an access token for the protected API surface.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (core.TokenIdentity, error) {
	return s.tokens.VerifyAccessToken(accessToken)
}

// recordAttempt persists the attempt outcome and rotates the nonce in one
// guarded write. A failed attempt that loses the guard re-reads the account
// and recomputes the lockout state, so concurrent failures cannot drop an
// increment; if the concurrent attempt locked the account, no further state
// is written. A successful attempt that loses the guard means the challenge
// was consumed concurrently and is rejected.
func (s *AuthService) recordAttempt(ctx context.Context, log *slog.Logger, account *core.Account, now time.Time, verified bool) (*core.Account, error) {
	const op = "auth.recordAttempt"

	for i := 0; i < maxAttemptRetries; i++ {
		freshNonce, err := core.NewNonce()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		if verified {
			updated, err := s.store.UpdateOnSuccess(ctx, account.ID, account.WalletSigningNonce, now, freshNonce)
			if errors.Is(err, core.ErrConflict) {
				log.Warn("challenge consumed concurrently", slog.String("account_id", account.ID))
				return nil, core.ErrUnauthorized
			}
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			return updated, nil
		}

		next := s.policy.Next(core.AttemptState{
			LoginAttempts:   account.LoginAttempts,
			LockoutExpiryAt: account.LockoutExpiryAt,
		}, now, false)

		updated, err := s.store.UpdateOnFailure(ctx, account.ID, account.WalletSigningNonce, next, freshNonce)
		if errors.Is(err, core.ErrConflict) {
			account, err = s.store.FindByWalletAddress(ctx, account.WalletAddress)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			// The concurrent attempt may have tripped the lockout; a locked
			// account takes no further attempt accounting.
			if account.Locked(now) {
				log.Warn("account locked by concurrent attempt", slog.String("account_id", account.ID))
				return nil, core.ErrAccountLocked
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		if next.LockoutExpiryAt != nil {
			log.Warn("account locked out",
				slog.String("account_id", account.ID),
				slog.Time("until", *next.LockoutExpiryAt))
			if s.events != nil {
				if perr := s.events.PublishLockout(ctx, account.ID, account.WalletAddress, *next.LockoutExpiryAt); perr != nil {
					log.Warn("failed to publish lockout event", sl.Err(perr))
				}
			}
		}
		return updated, nil
	}

	return nil, fmt.Errorf("%s: %w", op, core.ErrConflict)
}
